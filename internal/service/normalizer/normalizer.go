package normalizer

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
)

// Normalizer converts raw source into the language-agnostic canonical form
// the fingerprint engine and scorers operate on.
type Normalizer interface {
	Normalize(submissionID, language, source string) (*models.CanonicalForm, error)
}

type normalizer struct {
	registry *Registry
	logger   zerolog.Logger
}

func New(registry *Registry, logger zerolog.Logger) Normalizer {
	return &normalizer{
		registry: registry,
		logger:   logger,
	}
}

// Normalize tokenizes per language grammar, strips identifier names and
// comments, and reduces control flow to the shared vocabulary. Unparsable
// source yields a partial, lexical-only canonical form together with a
// *models.NormalizationError; grading and similarity proceed in degraded
// mode on it.
func (n *normalizer) Normalize(submissionID, language, source string) (*models.CanonicalForm, error) {
	profile, err := n.registry.Resolve(language, source)
	if err != nil {
		return nil, &models.NormalizationError{Language: language, Reason: err.Error()}
	}

	form := &models.CanonicalForm{
		SubmissionID: submissionID,
		Language:     profile.Name(),
		CreatedAt:    time.Now(),
	}

	lexs, lexErr := profile.Tokenize(source)
	stripped := profile.NormalizeIdentifiers(lexs)
	form.Tokens = profile.ReduceControlFlow(stripped)

	if lexErr != nil {
		form.Partial = true
		n.logger.Warn().
			Str("submission_id", submissionID).
			Str("language", profile.Name()).
			Err(lexErr).
			Msg("Source only partially tokenized, degrading to lexical form")
		return form, &models.NormalizationError{Language: profile.Name(), Reason: lexErr.Error()}
	}

	form.Structure = profile.Structure(stripped)

	n.logger.Debug().
		Str("submission_id", submissionID).
		Str("language", profile.Name()).
		Int("tokens", len(form.Tokens)).
		Int("functions", len(form.Structure.Functions)).
		Msg("Normalization completed")

	return form, nil
}
