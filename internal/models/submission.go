package models

import (
	"time"
)

// Submission is immutable once created except for Status, which is owned
// by the grading orchestrator.
type Submission struct {
	ID           string           `json:"id" db:"id"`
	AssignmentID string           `json:"assignment_id" db:"assignment_id"`
	AuthorID     string           `json:"author_id" db:"author_id"`
	Language     string           `json:"language" db:"language"`
	RawSource    string           `json:"raw_source" db:"raw_source"`
	SourceHash   string           `json:"source_hash" db:"source_hash"`
	ReceivedAt   time.Time        `json:"received_at" db:"received_at"`
	Status       SubmissionStatus `json:"status" db:"status"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

type SubmissionStatus string

const (
	SubmissionStatusReceived           SubmissionStatus = "received"
	SubmissionStatusNormalizing        SubmissionStatus = "normalizing"
	SubmissionStatusEvaluating         SubmissionStatus = "evaluating"
	SubmissionStatusSimilarityScanning SubmissionStatus = "similarity_scanning"
	SubmissionStatusMerging            SubmissionStatus = "merging"
	SubmissionStatusGraded             SubmissionStatus = "graded"
	SubmissionStatusFailed             SubmissionStatus = "failed"
)

func (s SubmissionStatus) String() string {
	return string(s)
}

// Terminal reports whether no further transitions are possible.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionStatusGraded || s == SubmissionStatusFailed
}
