package sqlinline

// Provider keys for the markup generator. Blank tokens count as unset so the
// environment key keeps precedence.
const QSelectIntegrationToken = `--sql 18be088a-4725-430b-856f-3418149c81c2
select token
from integration_tokens
where provider = $1::text
  and btrim(token) <> '';
`

// QUpsertIntegrationToken replaces the token and merges properties, so an
// earlier source note survives a key rotation.
const QUpsertIntegrationToken = `--sql be774103-52c8-46d6-ac96-b88a3e77ac6b
insert into integration_tokens (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`

const QDeleteIntegrationToken = `--sql f35403e4-058b-4a4d-990b-b1bd5e8f7c0e
delete from integration_tokens
where provider = $1::text;
`
