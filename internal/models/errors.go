package models

import (
	"errors"
	"fmt"
)

// Error taxonomy of the evaluation pipeline. Only ErrValidation and
// ErrRetryExhausted are user-visible; everything else is absorbed
// internally and logged.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrRetryExhausted = errors.New("retry budget exhausted")
	ErrLockContention = errors.New("submission lease held by another worker")
	ErrLeaseLost      = errors.New("job lease expired and was taken over")
	ErrCancelled      = errors.New("evaluation cancelled")
)

// NormalizationError marks degraded, non-fatal normalization. The pipeline
// proceeds on the partial canonical form that accompanies it.
type NormalizationError struct {
	Language string
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization degraded (%s): %s", e.Language, e.Reason)
}

// ProviderError is a transient failure of the AI provider boundary. It
// triggers the fallback scorer and is never surfaced to users.
type ProviderError struct {
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("provider: %s", e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
