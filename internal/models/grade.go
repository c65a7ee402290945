package models

import (
	"time"
)

type GradeSource string

const (
	GradeSourceAI       GradeSource = "ai"
	GradeSourceFallback GradeSource = "fallback"
)

func (s GradeSource) String() string {
	return string(s)
}

// GradeBreakdown is the per-criterion split of a score, each on 0-100.
type GradeBreakdown struct {
	Correctness int `json:"correctness"`
	Quality     int `json:"quality"`
	Efficiency  int `json:"efficiency"`
}

// GradeResult is written exactly once per evaluation attempt. A
// re-evaluation creates a new result under the next attempt number, never
// overwrites.
type GradeResult struct {
	SubmissionID string         `json:"submission_id" db:"submission_id"`
	Attempt      int            `json:"attempt" db:"attempt"`
	Score        int            `json:"score" db:"score"`
	Breakdown    GradeBreakdown `json:"breakdown" db:"breakdown"`
	Source       GradeSource    `json:"source" db:"source"`
	FeedbackText string         `json:"feedback_text" db:"feedback_text"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// Rubric drives both the AI prompt and the deterministic fallback scorer.
// ExpectedPatterns are regular expressions the assignment's reference output
// or source is expected to exhibit.
type Rubric struct {
	AssignmentID     string    `json:"assignment_id" db:"assignment_id"`
	Description      string    `json:"description" db:"description"`
	ExpectedPatterns []string  `json:"expected_patterns" db:"expected_patterns"`
	WeightCorrect    float64   `json:"weight_correctness" db:"weight_correctness"`
	WeightQuality    float64   `json:"weight_quality" db:"weight_quality"`
	WeightEfficiency float64   `json:"weight_efficiency" db:"weight_efficiency"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultRubric is used when an assignment has no stored rubric.
func DefaultRubric(assignmentID string) *Rubric {
	return &Rubric{
		AssignmentID:     assignmentID,
		WeightCorrect:    0.5,
		WeightQuality:    0.3,
		WeightEfficiency: 0.2,
	}
}

// WeightedScore folds a breakdown into the overall 0-100 score.
func (r *Rubric) WeightedScore(b GradeBreakdown) int {
	total := r.WeightCorrect + r.WeightQuality + r.WeightEfficiency
	if total <= 0 {
		return 0
	}
	score := (float64(b.Correctness)*r.WeightCorrect +
		float64(b.Quality)*r.WeightQuality +
		float64(b.Efficiency)*r.WeightEfficiency) / total
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score + 0.5)
}
