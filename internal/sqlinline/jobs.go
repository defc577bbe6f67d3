package sqlinline

const jobColumns = `id::text, owner_id, prompt, prompt_hash, tier, image_digest, status, attempts, progress, stage,
    error_message, result_ref, regeneration_count, parent_job_id::text, created_at, updated_at`

const QInsertJob = `--sql 59bf78fb-0491-4c89-82f2-095a092f9e63
insert into jobs (id, owner_id, prompt, prompt_hash, tier, image_digest, status, attempts, progress, stage,
    regeneration_count, parent_job_id, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, 'queued', 0, 0, 'queued',
    $7::int, $8::uuid, now(), now())
returning created_at, updated_at;
`

const QSelectJobByID = `--sql f25f35a5-7a6a-40ab-aff6-0b9fe73dacc6
select ` + jobColumns + `
from jobs
where id = $1::uuid;
`

const QListQueuedJobs = `--sql d4255556-321f-4daa-b2bb-1fc150a45fee
select ` + jobColumns + `
from jobs
where status = 'queued'
order by created_at asc, id asc
limit $1::int;
`

// QClaimJob is the only statement that moves a job out of queued. Exactly one
// concurrent caller sees a returned row.
const QClaimJob = `--sql 372ed34e-f9be-4145-98f7-aa2edf8df19a
update jobs
set status = 'processing',
    attempts = attempts + 1,
    stage = 'claimed',
    progress = 0,
    updated_at = now()
where id = $1::uuid
  and status = 'queued'
returning attempts;
`

const QUpdateJobProgress = `--sql d7bc653e-2822-4c53-9b12-c0f5bee136eb
update jobs
set progress = greatest(progress, $2::int),
    stage = $3::text,
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QCompleteJob = `--sql 04280249-4724-45c5-a630-829e9e081e3f
update jobs
set status = 'completed',
    result_ref = $2::text,
    progress = 100,
    stage = 'completed',
    error_message = null,
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QRequeueJob = `--sql d798c081-fede-48c6-8938-2eb7edaded99
update jobs
set status = 'queued',
    stage = 'retry_scheduled',
    progress = 0,
    error_message = $2::text,
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QFailJob = `--sql 618f743e-81b3-4eab-a41a-c62d8a48c96d
update jobs
set status = 'failed',
    stage = 'failed',
    error_message = $2::text,
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

// QRecoverStaleJobs releases jobs whose worker died or lost its final write.
// The status guard keeps it a compare-and-set against a late writeback.
const QRecoverStaleJobs = `--sql 0c1f6d0e-5b7a-4d39-9e2a-7f4b3c8a91d2
update jobs
set status = case when attempts >= $2::int then 'failed' else 'queued' end,
    stage = case when attempts >= $2::int then 'failed' else 'retry_scheduled' end,
    progress = case when attempts >= $2::int then progress else 0 end,
    error_message = $3::text,
    updated_at = now()
where status = 'processing'
  and updated_at < $1::timestamptz;
`

const QFindRecentJobByFingerprint = `--sql 7a942368-af20-4709-9e01-10c34c8e36c6
select ` + jobColumns + `
from jobs
where prompt_hash = $1::text
  and owner_id is not distinct from $2::text
  and created_at >= $3::timestamptz
order by created_at desc
limit 1;
`

const QClearStaleFingerprints = `--sql 67d30771-b248-4e95-85ce-6d6ccd84daea
update jobs
set prompt_hash = null
where prompt_hash is not null
  and status in ('completed', 'failed')
  and updated_at < $1::timestamptz;
`

const QCountJobsByStatus = `--sql 9d775882-72ac-4e72-80f4-418a616cef5e
select status, count(*)
from jobs
group by status;
`
