package grading

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeflow/eval-service/internal/models"
)

func cleanForm(id string) *models.CanonicalForm {
	return &models.CanonicalForm{
		SubmissionID: id,
		Language:     "python",
		Tokens: []models.Token{
			{Kind: models.TokenFunc}, {Kind: models.TokenIdent, Text: "@p0"},
			{Kind: models.TokenAssign}, {Kind: models.TokenLit},
			{Kind: models.TokenReturn}, {Kind: models.TokenIdent, Text: "@p0"},
		},
		Structure: models.StructureSummary{
			Functions: []models.FunctionShape{
				{MaxNestingDepth: 1, BranchCount: 1, LoopCount: 1, TokenCount: 20},
			},
		},
	}
}

func TestFallbackDeterministic(t *testing.T) {
	f := NewFallbackScorer(zerolog.Nop())
	rubric := models.DefaultRubric("hw1")

	a := f.Score(cleanForm("sub-a"), "def f(): return 1", rubric)
	b := f.Score(cleanForm("sub-a"), "def f(): return 1", rubric)

	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Breakdown, b.Breakdown)
	assert.Equal(t, a.FeedbackText, b.FeedbackText)
	assert.Equal(t, models.GradeSourceFallback, a.Source)
}

func TestFallbackScoreBounds(t *testing.T) {
	f := NewFallbackScorer(zerolog.Nop())
	rubric := models.DefaultRubric("hw1")

	deep := cleanForm("sub-a")
	deep.Structure.Functions = []models.FunctionShape{
		{MaxNestingDepth: 12, BranchCount: 40, LoopCount: 20, TokenCount: 900},
	}

	result := f.Score(deep, "source", rubric)

	assert.GreaterOrEqual(t, result.Score, 0)
	assert.LessOrEqual(t, result.Score, 100)
	assert.GreaterOrEqual(t, result.Breakdown.Efficiency, 0)
	assert.Less(t, result.Breakdown.Efficiency, 60, "pathological complexity must be penalized")
}

func TestFallbackPartialFormPenalized(t *testing.T) {
	f := NewFallbackScorer(zerolog.Nop())
	rubric := models.DefaultRubric("hw1")

	clean := f.Score(cleanForm("sub-a"), "source", rubric)

	partial := cleanForm("sub-b")
	partial.Partial = true
	partial.Structure = models.StructureSummary{}
	degraded := f.Score(partial, "source", rubric)

	assert.Less(t, degraded.Score, clean.Score)
	assert.Contains(t, degraded.FeedbackText, "could not be fully parsed")
}

func TestFallbackRubricPatternBonus(t *testing.T) {
	f := NewFallbackScorer(zerolog.Nop())

	rubric := models.DefaultRubric("hw1")
	rubric.ExpectedPatterns = []string{`while\s`, `return\s`}

	source := "def f(n):\n    while n > 1:\n        n -= 1\n    return n\n"
	withPatterns := f.Score(cleanForm("sub-a"), source, rubric)
	withoutPatterns := f.Score(cleanForm("sub-b"), "x = 1", rubric)

	assert.Greater(t, withPatterns.Breakdown.Correctness, withoutPatterns.Breakdown.Correctness)
}

func TestFallbackInvalidPatternSkipped(t *testing.T) {
	f := NewFallbackScorer(zerolog.Nop())

	rubric := models.DefaultRubric("hw1")
	rubric.ExpectedPatterns = []string{`[unclosed`, `return`}

	result := f.Score(cleanForm("sub-a"), "return x", rubric)

	// one of two patterns matches; the invalid one counts as unmatched
	assert.Equal(t, 70+30*1/2, result.Breakdown.Correctness)
}

func TestRubricWeightedScore(t *testing.T) {
	rubric := &models.Rubric{WeightCorrect: 1, WeightQuality: 0, WeightEfficiency: 0}
	b := models.GradeBreakdown{Correctness: 90, Quality: 10, Efficiency: 10}
	assert.Equal(t, 90, rubric.WeightedScore(b))

	even := &models.Rubric{WeightCorrect: 1, WeightQuality: 1, WeightEfficiency: 1}
	assert.Equal(t, 37, even.WeightedScore(models.GradeBreakdown{Correctness: 40, Quality: 40, Efficiency: 30}))

	zero := &models.Rubric{}
	assert.Equal(t, 0, zero.WeightedScore(b))
}

func TestDuplicationRatio(t *testing.T) {
	repeated := make([]models.Token, 0, 64)
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			repeated = append(repeated, models.Token{Kind: models.TokenAssign, Text: "@p0"})
		}
	}
	require.Len(t, repeated, 64)
	assert.Greater(t, duplicationRatio(repeated, 8), 0.8)

	assert.Zero(t, duplicationRatio(repeated[:10], 8), "too short to window")
}
