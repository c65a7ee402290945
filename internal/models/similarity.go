package models

import (
	"time"
)

// MatchedRegion pairs an aligned token span in the target submission with
// the corresponding span in the matched submission.
type MatchedRegion struct {
	SpanA Span `json:"span_a"`
	SpanB Span `json:"span_b"`
}

// SimilarityMatch is one entry of a submission's ranked match list. Matches
// are immutable once written; a re-run supersedes them under a higher
// attempt number instead of editing.
type SimilarityMatch struct {
	SubmissionID        string          `json:"submission_id" db:"submission_id"`
	MatchedSubmissionID string          `json:"matched_submission_id" db:"matched_submission_id"`
	Attempt             int             `json:"attempt" db:"attempt"`
	SimilarityScore     int             `json:"similarity_score" db:"similarity_score"`
	Containment         float64         `json:"containment" db:"containment"`
	Structural          float64         `json:"structural" db:"structural"`
	MatchedRegions      []MatchedRegion `json:"matched_regions" db:"matched_regions"`
	Flagged             bool            `json:"flagged" db:"flagged"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}
