package models

import "time"

// Data Transfer Objects

type EnqueueSubmissionRequest struct {
	AssignmentID string `json:"assignment_id" validate:"required,uuid4|alphanum"`
	AuthorID     string `json:"author_id" validate:"required"`
	Language     string `json:"language" validate:"omitempty,lowercase"`
	RawSource    string `json:"raw_source" validate:"required,max=1048576"`
}

type EnqueueSubmissionResponse struct {
	JobID        string `json:"job_id"`
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// ResultState distinguishes a finished grade from a pipeline still in
// flight, per get_result.
type ResultState string

const (
	ResultStateGraded  ResultState = "graded"
	ResultStatePending ResultState = "pending"
	ResultStateFailed  ResultState = "failed"
)

type GetResultResponse struct {
	SubmissionID string       `json:"submission_id"`
	State        ResultState  `json:"state"`
	Grade        *GradeResult `json:"grade,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
}

type SimilarityReportResponse struct {
	SubmissionID string            `json:"submission_id"`
	Matches      []SimilarityMatch `json:"matches"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

type UpsertRubricRequest struct {
	Description      string   `json:"description"`
	ExpectedPatterns []string `json:"expected_patterns" validate:"max=64,dive,max=512"`
	WeightCorrect    float64  `json:"weight_correctness" validate:"gte=0,lte=1"`
	WeightQuality    float64  `json:"weight_quality" validate:"gte=0,lte=1"`
	WeightEfficiency float64  `json:"weight_efficiency" validate:"gte=0,lte=1"`
}

type ServiceStatusResponse struct {
	Status        string `json:"status"`
	ActiveWorkers int    `json:"active_workers"`
	QueueLength   int    `json:"queue_length"`
	Processed     int    `json:"processed"`
	Failed        int    `json:"failed"`
}
