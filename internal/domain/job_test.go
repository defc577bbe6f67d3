package domain

import (
	"errors"
	"testing"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusQueued, true},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusQueued, JobStatusFailed, false},
		{JobStatusCompleted, JobStatusQueued, false},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusProcessing, JobStatusProcessing, false},
	}
	for _, tc := range tests {
		err := CheckTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
		}
	}
}

func TestJobReusable(t *testing.T) {
	ref := "documents/a/document.pdf"
	cases := map[string]struct {
		job  Job
		want bool
	}{
		"queued":                {Job{Status: JobStatusQueued}, true},
		"processing":            {Job{Status: JobStatusProcessing}, true},
		"completed with ref":    {Job{Status: JobStatusCompleted, ResultRef: &ref}, true},
		"completed without ref": {Job{Status: JobStatusCompleted}, false},
		"failed":                {Job{Status: JobStatusFailed}, false},
	}
	for name, tc := range cases {
		if got := tc.job.Reusable(); got != tc.want {
			t.Errorf("%s: Reusable() = %v, want %v", name, got, tc.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if JobStatusQueued.Terminal() || JobStatusProcessing.Terminal() {
		t.Fatal("non-terminal status reported terminal")
	}
	if !JobStatusCompleted.Terminal() || !JobStatusFailed.Terminal() {
		t.Fatal("terminal status reported non-terminal")
	}
	if JobStatus("running").Valid() {
		t.Fatal("unknown status reported valid")
	}
}
