package models

import (
	"time"
)

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	// JobStateDead marks a job that exhausted its retry budget on a
	// repeatedly unprocessable submission.
	JobStateDead JobState = "dead"
)

func (s JobState) String() string {
	return string(s)
}

// EvaluationJob is the only mutable, concurrently-accessed entity. Workers
// operate on leases they can lose: a crashed worker's job becomes
// reclaimable once LeaseExpiresAt passes.
type EvaluationJob struct {
	ID              string     `json:"id" db:"id"`
	SubmissionID    string     `json:"submission_id" db:"submission_id"`
	AttemptCount    int        `json:"attempt_count" db:"attempt_count"`
	State           JobState   `json:"state" db:"state"`
	LastError       string     `json:"last_error,omitempty" db:"last_error"`
	LeaseOwner      string     `json:"lease_owner,omitempty" db:"lease_owner"`
	LeaseExpiresAt  *time.Time `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CancelRequested bool       `json:"cancel_requested" db:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}
