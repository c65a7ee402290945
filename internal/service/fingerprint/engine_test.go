package fingerprint

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeflow/eval-service/internal/models"
)

func testForm(id string, tokens []models.Token) *models.CanonicalForm {
	return &models.CanonicalForm{SubmissionID: id, Language: "python", Tokens: tokens}
}

func tokenStream(n int) []models.Token {
	kinds := []models.TokenKind{
		models.TokenAssign, models.TokenLoop, models.TokenBranch,
		models.TokenCall, models.TokenIdent, models.TokenLit, models.TokenOp,
	}
	out := make([]models.Token, n)
	for i := range out {
		out[i] = models.Token{Kind: kinds[i%len(kinds)], Text: fmt.Sprintf("@p%d", i%5)}
	}
	return out
}

func TestFingerprintDeterministic(t *testing.T) {
	e := NewEngine(Config{KGramSize: 6, WinnowWindow: 4}, zerolog.Nop())
	tokens := tokenStream(80)

	a := e.Fingerprint(testForm("sub-a", tokens), "hw1", "alice")
	b := e.Fingerprint(testForm("sub-a", tokens), "hw1", "alice")

	require.Equal(t, len(a.Hashes), len(b.Hashes))
	for h, spans := range a.Hashes {
		assert.Equal(t, spans, b.Hashes[h])
	}
}

func TestFingerprintSizeBounded(t *testing.T) {
	e := NewEngine(Config{KGramSize: 6, WinnowWindow: 4}, zerolog.Nop())
	tokens := tokenStream(400)

	fp := e.Fingerprint(testForm("sub-a", tokens), "hw1", "alice")

	grams := len(tokens) - 6 + 1
	assert.NotEmpty(t, fp.Hashes)
	assert.LessOrEqual(t, fp.Size(), grams, "winnowing must not keep more than one hash per gram")
	// every window of 4 grams contributes at most one new selection
	assert.LessOrEqual(t, fp.Size(), grams-4+1)
	assert.Equal(t, 400, fp.TokenCount)
}

func TestFingerprintShorterThanKGram(t *testing.T) {
	e := NewEngine(Config{KGramSize: 6, WinnowWindow: 4}, zerolog.Nop())

	fp := e.Fingerprint(testForm("sub-a", tokenStream(3)), "hw1", "alice")

	assert.Empty(t, fp.Hashes)
	assert.Equal(t, 3, fp.TokenCount)
}

func TestFingerprintLocalEditPerturbsLocally(t *testing.T) {
	e := NewEngine(Config{KGramSize: 6, WinnowWindow: 4}, zerolog.Nop())

	original := tokenStream(120)
	edited := make([]models.Token, len(original))
	copy(edited, original)
	edited[60] = models.Token{Kind: models.TokenReturn}

	a := e.Fingerprint(testForm("sub-a", original), "hw1", "alice")
	b := e.Fingerprint(testForm("sub-b", edited), "hw1", "bob")

	shared := 0
	for h := range a.Hashes {
		if _, ok := b.Hashes[h]; ok {
			shared++
		}
	}
	// a one-token edit only invalidates k-grams overlapping it
	assert.Greater(t, shared, a.Size()/2, "most hashes must survive a local edit")
}

func TestFingerprintSpansCoverTokens(t *testing.T) {
	e := NewEngine(Config{KGramSize: 6, WinnowWindow: 4}, zerolog.Nop())
	tokens := tokenStream(60)

	fp := e.Fingerprint(testForm("sub-a", tokens), "hw1", "alice")

	for _, spans := range fp.Hashes {
		for _, span := range spans {
			assert.GreaterOrEqual(t, span.Start, 0)
			assert.LessOrEqual(t, span.End, len(tokens))
			assert.Equal(t, 6, span.Len())
		}
	}
}

func TestKGramHashesDistinguishText(t *testing.T) {
	a := kgramHashes([]models.Token{
		{Kind: models.TokenIdent, Text: "@p0"}, {Kind: models.TokenAssign}, {Kind: models.TokenLit},
	}, 3)
	b := kgramHashes([]models.Token{
		{Kind: models.TokenIdent, Text: "@p1"}, {Kind: models.TokenAssign}, {Kind: models.TokenLit},
	}, 3)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.NotEqual(t, a[0], b[0], "placeholder text participates in the hash")
}
