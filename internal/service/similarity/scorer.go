package similarity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gradeflow/eval-service/internal/models"
)

// FormLoader supplies canonical token sequences for corpus members during
// the fine-grained alignment pass.
type FormLoader interface {
	GetCanonicalForm(ctx context.Context, submissionID string) (*models.CanonicalForm, error)
}

// Scorer ranks a submission against the corpus of prior fingerprints for
// the same assignment.
type Scorer interface {
	Scan(ctx context.Context, form *models.CanonicalForm, fp *models.Fingerprint, attempt int) ([]models.SimilarityMatch, error)
}

type Config struct {
	SimilarityThreshold int
	PreFilterThreshold  float64
	ContainmentWeight   float64
	StructuralWeight    float64
	MinTokenCount       int
	MinRegionTokens     int
}

type scorer struct {
	index  *Index
	forms  FormLoader
	config Config
	logger zerolog.Logger
}

func NewScorer(index *Index, forms FormLoader, config Config, logger zerolog.Logger) Scorer {
	if config.ContainmentWeight+config.StructuralWeight <= 0 {
		config.ContainmentWeight = 0.4
		config.StructuralWeight = 0.6
	}
	return &scorer{
		index:  index,
		forms:  forms,
		config: config,
		logger: logger,
	}
}

// Scan looks up all corpus submissions sharing at least one hash, computes
// containment against each, and runs the alignment pass for candidates
// above the pre-filter. Matches come back ranked by score. Same-author
// resubmissions are excluded from the comparison, and fingerprints below
// the minimum token floor are never flagged.
func (s *scorer) Scan(ctx context.Context, form *models.CanonicalForm, fp *models.Fingerprint, attempt int) ([]models.SimilarityMatch, error) {
	start := time.Now()

	shared := s.index.Candidates(fp.AssignmentID, fp)

	type candidate struct {
		fp          *models.Fingerprint
		containment float64
	}
	var candidates []candidate
	for id, count := range shared {
		other, ok := s.index.Fingerprint(fp.AssignmentID, id)
		if !ok || other.AuthorID == fp.AuthorID {
			continue
		}
		containment := containmentScore(count, fp.Size(), other.Size())
		if other.SourceHash != "" && other.SourceHash == fp.SourceHash {
			// byte-identical source, no alignment needed
			containment = 1
		}
		if containment < s.config.PreFilterThreshold {
			continue
		}
		candidates = append(candidates, candidate{fp: other, containment: containment})
	}

	matches := make([]models.SimilarityMatch, 0, len(candidates))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			match, err := s.scoreCandidate(gctx, form, fp, c.fp, c.containment, attempt)
			if err != nil {
				return err
			}
			mu.Lock()
			matches = append(matches, *match)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].SimilarityScore != matches[j].SimilarityScore {
			return matches[i].SimilarityScore > matches[j].SimilarityScore
		}
		return matches[i].MatchedSubmissionID < matches[j].MatchedSubmissionID
	})

	s.logger.Debug().
		Str("submission_id", fp.SubmissionID).
		Int("corpus_size", s.index.Size(fp.AssignmentID)).
		Int("candidates", len(candidates)).
		Int("matches", len(matches)).
		Dur("elapsed", time.Since(start)).
		Msg("Similarity scan completed")

	return matches, nil
}

func (s *scorer) scoreCandidate(
	ctx context.Context,
	form *models.CanonicalForm,
	fp, other *models.Fingerprint,
	containment float64,
	attempt int,
) (*models.SimilarityMatch, error) {
	match := &models.SimilarityMatch{
		SubmissionID:        fp.SubmissionID,
		MatchedSubmissionID: other.SubmissionID,
		Attempt:             attempt,
		Containment:         containment,
		CreatedAt:           time.Now(),
	}

	if other.SourceHash != "" && other.SourceHash == fp.SourceHash {
		match.Structural = 1
		match.SimilarityScore = 100
		match.MatchedRegions = []models.MatchedRegion{{
			SpanA: models.Span{Start: 0, End: fp.TokenCount},
			SpanB: models.Span{Start: 0, End: other.TokenCount},
		}}
	} else {
		otherForm, err := s.forms.GetCanonicalForm(ctx, other.SubmissionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load canonical form of %s: %w", other.SubmissionID, err)
		}
		if otherForm == nil {
			// corpus member without a stored form; score on containment alone
			match.SimilarityScore = s.blend(containment, containment)
		} else {
			al := align(form.Tokens, otherForm.Tokens, s.config.MinRegionTokens)
			match.Structural = al.structural
			match.MatchedRegions = al.regions
			match.SimilarityScore = s.blend(containment, al.structural)
		}
	}

	// trivially short submissions are too small to mean anything
	if fp.TokenCount >= s.config.MinTokenCount &&
		other.TokenCount >= s.config.MinTokenCount &&
		match.SimilarityScore >= s.config.SimilarityThreshold {
		match.Flagged = true
	}

	return match, nil
}

// blend folds containment and structural alignment into the 0-100 score;
// structural is weighted higher since it resists superficial reordering.
func (s *scorer) blend(containment, structural float64) int {
	total := s.config.ContainmentWeight + s.config.StructuralWeight
	score := (containment*s.config.ContainmentWeight + structural*s.config.StructuralWeight) / total
	return int(score*100 + 0.5)
}

// containmentScore is sharedHashes over the size of the smaller
// fingerprint, symmetric by construction.
func containmentScore(shared, sizeA, sizeB int) float64 {
	smaller := sizeA
	if sizeB < smaller {
		smaller = sizeB
	}
	if smaller == 0 {
		return 0
	}
	if shared > smaller {
		shared = smaller
	}
	return float64(shared) / float64(smaller)
}
