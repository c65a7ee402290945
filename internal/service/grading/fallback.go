package grading

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/models"
)

// FallbackScorer is the deterministic rule-based grader used whenever the
// AI provider is unavailable or disabled. It is feature-complete on its
// own: the pipeline stays fully functional with the AI path permanently
// off.
type FallbackScorer struct {
	logger zerolog.Logger
}

func NewFallbackScorer(logger zerolog.Logger) *FallbackScorer {
	return &FallbackScorer{logger: logger}
}

// Score grades from three deterministic signals: whether the source parsed
// cleanly, which expected rubric patterns the source exhibits, and a
// cyclomatic-complexity-derived efficiency heuristic over the structure
// summary.
func (f *FallbackScorer) Score(form *models.CanonicalForm, rawSource string, rubric *models.Rubric) *models.GradeResult {
	breakdown := models.GradeBreakdown{
		Correctness: f.correctness(form, rawSource, rubric),
		Quality:     f.quality(form),
		Efficiency:  f.efficiency(form),
	}

	return &models.GradeResult{
		SubmissionID: form.SubmissionID,
		Score:        rubric.WeightedScore(breakdown),
		Breakdown:    breakdown,
		Source:       models.GradeSourceFallback,
		FeedbackText: f.feedback(form, breakdown),
		CreatedAt:    time.Now(),
	}
}

func (f *FallbackScorer) correctness(form *models.CanonicalForm, rawSource string, rubric *models.Rubric) int {
	base := 70
	if form.Partial {
		// source did not fully parse
		base = 30
	}

	if len(rubric.ExpectedPatterns) == 0 {
		return base
	}

	matched := 0
	for _, pattern := range rubric.ExpectedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			f.logger.Warn().
				Str("assignment_id", rubric.AssignmentID).
				Str("pattern", pattern).
				Err(err).
				Msg("Skipping invalid rubric pattern")
			continue
		}
		if re.MatchString(rawSource) {
			matched++
		}
	}

	bonus := 30 * matched / len(rubric.ExpectedPatterns)
	return clampScore(base + bonus)
}

// efficiency penalizes high cyclomatic complexity (1 + branches + loops
// per function) and deep nesting.
func (f *FallbackScorer) efficiency(form *models.CanonicalForm) int {
	functions := form.Structure.Functions
	if len(functions) == 0 {
		if form.Partial {
			return 40
		}
		return 60
	}

	totalComplexity := 0
	maxNesting := 0
	for _, fn := range functions {
		totalComplexity += 1 + fn.BranchCount + fn.LoopCount
		if fn.MaxNestingDepth > maxNesting {
			maxNesting = fn.MaxNestingDepth
		}
	}
	avgComplexity := float64(totalComplexity) / float64(len(functions))

	score := 100
	if avgComplexity > 5 {
		score -= int((avgComplexity - 5) * 8)
	}
	if maxNesting > 3 {
		score -= (maxNesting - 3) * 10
	}
	return clampScore(score)
}

// quality penalizes oversized functions and heavy repetition in the
// canonical stream.
func (f *FallbackScorer) quality(form *models.CanonicalForm) int {
	score := 80
	if form.Partial {
		score = 50
	}

	for _, fn := range form.Structure.Functions {
		if fn.TokenCount > 200 {
			score -= 10
		}
	}

	if dup := duplicationRatio(form.Tokens, 8); dup > 0.3 {
		score -= int((dup - 0.3) * 100)
	}

	return clampScore(score)
}

// duplicationRatio is the fraction of k-token windows that repeat an
// earlier window.
func duplicationRatio(tokens []models.Token, k int) float64 {
	if len(tokens) < 2*k {
		return 0
	}
	seen := make(map[string]bool)
	repeats := 0
	windows := 0
	var b strings.Builder
	for i := 0; i+k <= len(tokens); i += k {
		b.Reset()
		for _, t := range tokens[i : i+k] {
			b.WriteString(string(t.Kind))
			b.WriteByte(':')
			b.WriteString(t.Text)
			b.WriteByte('|')
		}
		key := b.String()
		if seen[key] {
			repeats++
		}
		seen[key] = true
		windows++
	}
	if windows == 0 {
		return 0
	}
	return float64(repeats) / float64(windows)
}

func (f *FallbackScorer) feedback(form *models.CanonicalForm, b models.GradeBreakdown) string {
	var parts []string
	if form.Partial {
		parts = append(parts, "The submission could not be fully parsed; it was graded from its lexical content only.")
	} else {
		parts = append(parts, "The submission parsed cleanly.")
	}
	parts = append(parts, fmt.Sprintf(
		"Rule-based grading: correctness %d, quality %d, efficiency %d.",
		b.Correctness, b.Quality, b.Efficiency,
	))
	if b.Efficiency < 60 {
		parts = append(parts, "Control flow is heavily branched or deeply nested; consider simplifying.")
	}
	if b.Quality < 60 {
		parts = append(parts, "Long or repetitive functions were detected.")
	}
	return strings.Join(parts, " ")
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
