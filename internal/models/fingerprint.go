package models

import (
	"time"
)

// Span is a half-open [Start, End) range of canonical token indexes.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int {
	return s.End - s.Start
}

// Fingerprint is the winnowed k-gram hash set of a canonical form. Each
// retained hash keeps the token spans it was derived from so matches can be
// localized later. One fingerprint per submission per assignment corpus,
// invalidated only by resubmission.
type Fingerprint struct {
	SubmissionID string            `json:"submission_id" db:"submission_id"`
	AssignmentID string            `json:"assignment_id" db:"assignment_id"`
	AuthorID     string            `json:"author_id" db:"author_id"`
	SourceHash   string            `json:"source_hash" db:"source_hash"`
	TokenCount   int               `json:"token_count" db:"token_count"`
	Hashes       map[uint64][]Span `json:"hashes" db:"hashes"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}

func (f *Fingerprint) Size() int {
	return len(f.Hashes)
}
