package fingerprint

import (
	"hash/fnv"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
)

// Engine derives locality-sensitive fingerprints from canonical token
// streams: sliding k-gram hashing with winnowing so fingerprint size stays
// O(n/window) while local edits only perturb nearby hashes.
type Engine interface {
	Fingerprint(form *models.CanonicalForm, assignmentID, authorID string) *models.Fingerprint
}

type Config struct {
	KGramSize    int
	WinnowWindow int
}

type engine struct {
	config Config
	logger zerolog.Logger
}

func NewEngine(config Config, logger zerolog.Logger) Engine {
	if config.KGramSize < 2 {
		config.KGramSize = 6
	}
	if config.WinnowWindow < 1 {
		config.WinnowWindow = 4
	}
	return &engine{
		config: config,
		logger: logger,
	}
}

func (e *engine) Fingerprint(form *models.CanonicalForm, assignmentID, authorID string) *models.Fingerprint {
	fp := &models.Fingerprint{
		SubmissionID: form.SubmissionID,
		AssignmentID: assignmentID,
		AuthorID:     authorID,
		TokenCount:   len(form.Tokens),
		Hashes:       make(map[uint64][]models.Span),
		CreatedAt:    time.Now(),
	}

	grams := kgramHashes(form.Tokens, e.config.KGramSize)
	if len(grams) == 0 {
		return fp
	}

	keep := func(i int) {
		span := models.Span{Start: i, End: i + e.config.KGramSize}
		fp.Hashes[grams[i]] = append(fp.Hashes[grams[i]], span)
	}

	if len(grams) <= e.config.WinnowWindow {
		keep(minIndex(grams, 0, len(grams)))
		return fp
	}

	// winnowing: keep the minimal hash of every window; when minima tie the
	// smallest hash value wins, and within equal values the rightmost
	// occurrence, so selection is deterministic and reproducible
	prev := -1
	for w := 0; w+e.config.WinnowWindow <= len(grams); w++ {
		min := minIndex(grams, w, w+e.config.WinnowWindow)
		if min != prev {
			keep(min)
			prev = min
		}
	}

	e.logger.Debug().
		Str("submission_id", form.SubmissionID).
		Int("tokens", len(form.Tokens)).
		Int("kgrams", len(grams)).
		Int("fingerprint_size", len(fp.Hashes)).
		Msg("Fingerprint computed")

	return fp
}

// kgramHashes hashes every k-token window. Token kind and identifier
// placeholder both contribute, so renamed-but-identical code hashes the
// same while structurally different code diverges.
func kgramHashes(tokens []models.Token, k int) []uint64 {
	if len(tokens) < k {
		return nil
	}
	hashes := make([]uint64, 0, len(tokens)-k+1)
	for i := 0; i+k <= len(tokens); i++ {
		h := fnv.New64a()
		for _, t := range tokens[i : i+k] {
			h.Write([]byte(t.Kind))
			h.Write([]byte{0})
			h.Write([]byte(t.Text))
			h.Write([]byte{1})
		}
		hashes = append(hashes, h.Sum64())
	}
	return hashes
}

func minIndex(hashes []uint64, from, to int) int {
	min := from
	for i := from + 1; i < to; i++ {
		if hashes[i] <= hashes[min] {
			min = i
		}
	}
	return min
}
