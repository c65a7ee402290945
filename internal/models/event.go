package models

import (
	"time"
)

// SubmissionQueuedEvent is the queue message that triggers an evaluation.
type SubmissionQueuedEvent struct {
	JobID        string `json:"job_id"`
	SubmissionID string `json:"submission_id"`
	AssignmentID string `json:"assignment_id"`
	AuthorID     string `json:"author_id"`
	Attempt      int    `json:"attempt"`
	Timestamp    int64  `json:"timestamp"`
}

// EvaluationCompletedEvent is published when a submission reaches graded.
// Delivery is at-least-once; consumers deduplicate by submission_id plus
// completed_at.
type EvaluationCompletedEvent struct {
	SubmissionID string            `json:"submission_id"`
	Attempt      int               `json:"attempt"`
	Grade        GradeResult       `json:"grade"`
	Matches      []SimilarityMatch `json:"matches"`
	CompletedAt  time.Time         `json:"completed_at"`
}

// EvaluationFailedEvent is published when a submission reaches failed.
type EvaluationFailedEvent struct {
	SubmissionID string    `json:"submission_id"`
	Error        string    `json:"error"`
	Attempts     int       `json:"attempts"`
	FailedAt     time.Time `json:"failed_at"`
}
