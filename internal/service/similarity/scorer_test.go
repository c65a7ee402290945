package similarity

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeflow/eval-service/internal/models"
	"github.com/gradeflow/eval-service/internal/service/fingerprint"
)

type memFormLoader struct {
	forms map[string]*models.CanonicalForm
}

func (m *memFormLoader) GetCanonicalForm(ctx context.Context, submissionID string) (*models.CanonicalForm, error) {
	return m.forms[submissionID], nil
}

type corpus struct {
	engine fingerprint.Engine
	index  *Index
	loader *memFormLoader
	scorer Scorer
}

func newCorpus(t *testing.T) *corpus {
	t.Helper()
	index := NewIndex()
	loader := &memFormLoader{forms: make(map[string]*models.CanonicalForm)}
	return &corpus{
		engine: fingerprint.NewEngine(fingerprint.Config{KGramSize: 6, WinnowWindow: 4}, zerolog.Nop()),
		index:  index,
		loader: loader,
		scorer: NewScorer(index, loader, Config{
			SimilarityThreshold: 70,
			PreFilterThreshold:  0.15,
			ContainmentWeight:   0.4,
			StructuralWeight:    0.6,
			MinTokenCount:       40,
			MinRegionTokens:     5,
		}, zerolog.Nop()),
	}
}

// add fingerprints the tokens, registers them in the corpus and returns the
// fingerprint for scanning.
func (c *corpus) add(id, author, sourceHash string, tokens []models.Token) *models.Fingerprint {
	form := &models.CanonicalForm{SubmissionID: id, Language: "python", Tokens: tokens}
	c.loader.forms[id] = form
	fp := c.engine.Fingerprint(form, "hw1", author)
	fp.SourceHash = sourceHash
	c.index.Add(fp)
	return fp
}

// varied generates a non-repeating token stream seeded deterministically.
func varied(seed uint64, n int) []models.Token {
	kinds := []models.TokenKind{
		models.TokenAssign, models.TokenLoop, models.TokenBranch, models.TokenCall,
		models.TokenIdent, models.TokenLit, models.TokenOp, models.TokenReturn,
	}
	out := make([]models.Token, n)
	state := seed
	for i := range out {
		state = state*6364136223846793005 + 1442695040888963407
		kind := kinds[state%uint64(len(kinds))]
		tok := models.Token{Kind: kind}
		if kind == models.TokenIdent || kind == models.TokenCall {
			tok.Text = string(rune('a' + byte((state>>32)%26)))
		}
		out[i] = tok
	}
	return out
}

func TestScanIdenticalStreamsScoreFull(t *testing.T) {
	c := newCorpus(t)
	tokens := varied(1, 80)

	c.add("prior", "alice", "hash-a", tokens)
	fp := c.add("probe", "bob", "hash-b", tokens)

	matches, err := c.scorer.Scan(context.Background(), c.loader.forms["probe"], fp, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, "prior", m.MatchedSubmissionID)
	assert.Equal(t, 100, m.SimilarityScore)
	assert.InDelta(t, 1.0, m.Containment, 0.001)
	assert.InDelta(t, 1.0, m.Structural, 0.001)
	assert.True(t, m.Flagged)
	assert.NotEmpty(t, m.MatchedRegions)
}

func TestScanIdenticalSourceShortCircuits(t *testing.T) {
	c := newCorpus(t)
	tokens := varied(2, 80)

	c.add("prior", "alice", "same-bytes", tokens)
	fp := c.add("probe", "bob", "same-bytes", tokens)

	matches, err := c.scorer.Scan(context.Background(), c.loader.forms["probe"], fp, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 100, matches[0].SimilarityScore)
	assert.True(t, matches[0].Flagged)
}

func TestScanUnrelatedStreamsNoMatch(t *testing.T) {
	c := newCorpus(t)

	c.add("prior", "alice", "hash-a", varied(3, 80))
	fp := c.add("probe", "bob", "hash-b", varied(99, 80))

	matches, err := c.scorer.Scan(context.Background(), c.loader.forms["probe"], fp, 1)
	require.NoError(t, err)

	for _, m := range matches {
		assert.False(t, m.Flagged)
		assert.Less(t, m.SimilarityScore, 70)
	}
}

func TestScanExcludesSameAuthor(t *testing.T) {
	c := newCorpus(t)
	tokens := varied(4, 80)

	c.add("prior", "alice", "hash-a", tokens)
	fp := c.add("probe", "alice", "hash-b", tokens)

	matches, err := c.scorer.Scan(context.Background(), c.loader.forms["probe"], fp, 1)
	require.NoError(t, err)
	assert.Empty(t, matches, "an author's own submissions are not compared")
}

func TestScanSymmetric(t *testing.T) {
	c := newCorpus(t)
	a := varied(5, 90)
	b := make([]models.Token, 90)
	copy(b, a)
	copy(b[45:], varied(6, 45))

	fpA := c.add("sub-a", "alice", "hash-a", a)
	fpB := c.add("sub-b", "bob", "hash-b", b)

	fromA, err := c.scorer.Scan(context.Background(), c.loader.forms["sub-a"], fpA, 1)
	require.NoError(t, err)
	fromB, err := c.scorer.Scan(context.Background(), c.loader.forms["sub-b"], fpB, 1)
	require.NoError(t, err)

	require.Len(t, fromA, 1)
	require.Len(t, fromB, 1)
	assert.Equal(t, fromA[0].SimilarityScore, fromB[0].SimilarityScore,
		"score(A,B) must equal score(B,A)")
}

func TestScanMinTokenFloorNeverFlags(t *testing.T) {
	c := newCorpus(t)
	tokens := varied(7, 20) // below the 40-token floor

	c.add("prior", "alice", "hash-a", tokens)
	fp := c.add("probe", "bob", "hash-b", tokens)

	matches, err := c.scorer.Scan(context.Background(), c.loader.forms["probe"], fp, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 100, matches[0].SimilarityScore)
	assert.False(t, matches[0].Flagged, "trivially short submissions are never flagged")
}

func TestScanRanksMatchesByScore(t *testing.T) {
	c := newCorpus(t)
	tokens := varied(8, 80)
	half := make([]models.Token, 80)
	copy(half, tokens)
	copy(half[40:], varied(9, 40))

	c.add("exact", "alice", "hash-a", tokens)
	c.add("partial", "carol", "hash-c", half)
	fp := c.add("probe", "bob", "hash-b", tokens)

	matches, err := c.scorer.Scan(context.Background(), c.loader.forms["probe"], fp, 1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(matches), 1)

	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].SimilarityScore, matches[i].SimilarityScore)
	}
	assert.Equal(t, "exact", matches[0].MatchedSubmissionID)
}

func TestAlignIdentical(t *testing.T) {
	tokens := varied(10, 50)

	al := align(tokens, tokens, 5)

	assert.InDelta(t, 1.0, al.structural, 0.001)
	require.Len(t, al.regions, 1)
	assert.Equal(t, 0, al.regions[0].SpanA.Start)
	assert.Equal(t, 50, al.regions[0].SpanA.End)
}

func TestAlignEmpty(t *testing.T) {
	al := align(nil, varied(11, 10), 5)
	assert.Zero(t, al.structural)
	assert.Empty(t, al.regions)
}

func TestAlignRegionFloor(t *testing.T) {
	a := varied(12, 30)
	b := make([]models.Token, 30)
	copy(b, a)
	// break the stream every 3 tokens so no run reaches the floor
	for i := 2; i < len(b); i += 3 {
		b[i] = models.Token{Kind: models.TokenReturn, Text: "@px"}
	}

	al := align(a, b, 5)

	assert.Empty(t, al.regions, "runs below the region floor are dropped")
	assert.Greater(t, al.structural, 0.0)
}
