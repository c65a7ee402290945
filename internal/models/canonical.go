package models

import (
	"time"
)

// TokenKind is the shared control-flow vocabulary that equivalent logic in
// different source languages reduces to.
type TokenKind string

const (
	TokenFunc   TokenKind = "FUNC"
	TokenLoop   TokenKind = "LOOP"
	TokenBranch TokenKind = "BRANCH"
	TokenCall   TokenKind = "CALL"
	TokenAssign TokenKind = "ASSIGN"
	TokenReturn TokenKind = "RETURN"
	TokenIdent  TokenKind = "IDENT"
	TokenLit    TokenKind = "LIT"
	TokenOp     TokenKind = "OP"
)

// Token is one element of a canonical token sequence. Text holds the
// positional identifier placeholder ("@p0", "@p1", ...) for IDENT and CALL
// tokens and is empty otherwise.
type Token struct {
	Kind TokenKind `json:"k"`
	Text string    `json:"t,omitempty"`
}

// FunctionShape summarizes one function independent of syntax.
type FunctionShape struct {
	MaxNestingDepth int `json:"max_nesting_depth"`
	BranchCount     int `json:"branch_count"`
	LoopCount       int `json:"loop_count"`
	TokenCount      int `json:"token_count"`
}

type StructureSummary struct {
	Functions []FunctionShape `json:"functions"`
}

// CanonicalForm is derived from a submission's raw source, cached and never
// mutated. Partial marks a best-effort lexical form produced from unparsable
// source; grading and similarity still proceed on it in degraded mode.
type CanonicalForm struct {
	SubmissionID string           `json:"submission_id" db:"submission_id"`
	Language     string           `json:"language" db:"language"`
	Tokens       []Token          `json:"tokens" db:"tokens"`
	Structure    StructureSummary `json:"structure" db:"structure"`
	Partial      bool             `json:"partial" db:"partial"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

func (cf *CanonicalForm) TokenCount() int {
	return len(cf.Tokens)
}
