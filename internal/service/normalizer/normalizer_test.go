package normalizer

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeflow/eval-service/internal/models"
)

func newTestNormalizer() Normalizer {
	return New(NewRegistry(), zerolog.Nop())
}

const pythonFactorial = `
def factorial(n):
    result = 1
    while n > 1:
        result = result * n
        n = n - 1
    return result
`

const pythonFactorialRenamed = `
def compute(x):
    acc = 1
    while x > 1:
        acc = acc * x
        x = x - 1
    return acc
`

const javaFactorial = `
int factorial(int n) {
    int result = 1;
    while (n > 1) {
        result = result * n;
        n = n - 1;
    }
    return result;
}
`

func TestNormalizeRenameInvariance(t *testing.T) {
	n := newTestNormalizer()

	a, err := n.Normalize("sub-a", "python", pythonFactorial)
	require.NoError(t, err)
	b, err := n.Normalize("sub-b", "python", pythonFactorialRenamed)
	require.NoError(t, err)

	assert.Equal(t, a.Tokens, b.Tokens, "renaming identifiers must not change the canonical stream")
	assert.False(t, a.Partial)
}

func TestNormalizeCrossLanguageEquivalence(t *testing.T) {
	n := newTestNormalizer()

	py, err := n.Normalize("sub-py", "python", pythonFactorial)
	require.NoError(t, err)
	java, err := n.Normalize("sub-java", "java", javaFactorial)
	require.NoError(t, err)

	// python carries an extra FUNC token for `def`; past that the streams
	// reduce to the same canonical sequence
	require.NotEmpty(t, py.Tokens)
	require.Equal(t, models.TokenFunc, py.Tokens[0].Kind)
	assert.Equal(t, py.Tokens[1:], java.Tokens)
}

func TestNormalizeStripsComments(t *testing.T) {
	n := newTestNormalizer()

	bare, err := n.Normalize("sub-a", "python", "x = 1\n")
	require.NoError(t, err)
	commented, err := n.Normalize("sub-b", "python", "# setup\nx = 1  # assign\n")
	require.NoError(t, err)

	assert.Equal(t, bare.Tokens, commented.Tokens)
}

func TestNormalizeLiteralValuesIgnored(t *testing.T) {
	n := newTestNormalizer()

	a, err := n.Normalize("sub-a", "python", `msg = "hello"`)
	require.NoError(t, err)
	b, err := n.Normalize("sub-b", "python", `msg = "goodbye"`)
	require.NoError(t, err)

	assert.Equal(t, a.Tokens, b.Tokens, "literal values must not distinguish canonical forms")
}

func TestNormalizePartialOnUnterminatedString(t *testing.T) {
	n := newTestNormalizer()

	form, err := n.Normalize("sub-a", "python", "x = 1\ny = \"broken\n")

	var degraded *models.NormalizationError
	require.ErrorAs(t, err, &degraded)
	require.NotNil(t, form)
	assert.True(t, form.Partial)
	assert.NotEmpty(t, form.Tokens, "lexemes before the failure are kept")
	assert.Empty(t, form.Structure.Functions, "no structure summary in degraded mode")
}

func TestNormalizeUnsupportedLanguage(t *testing.T) {
	n := newTestNormalizer()

	form, err := n.Normalize("sub-a", "brainfuck", "+++++[->+++++<]")

	var degraded *models.NormalizationError
	require.ErrorAs(t, err, &degraded)
	assert.Nil(t, form)
}

func TestNormalizeStructureSummary(t *testing.T) {
	n := newTestNormalizer()

	src := `
def outer(a):
    if a > 0:
        for i in range(a):
            print(i)
    return a

def inner(b):
    return b
`
	form, err := n.Normalize("sub-a", "python", src)
	require.NoError(t, err)

	require.Len(t, form.Structure.Functions, 2)
	first := form.Structure.Functions[0]
	assert.Equal(t, 1, first.BranchCount)
	assert.Equal(t, 1, first.LoopCount)
	assert.GreaterOrEqual(t, first.MaxNestingDepth, 2)

	second := form.Structure.Functions[1]
	assert.Equal(t, 0, second.BranchCount)
	assert.Equal(t, 0, second.LoopCount)
}

func TestRegistryResolveAliases(t *testing.T) {
	r := NewRegistry()

	p, err := r.Resolve("py", "")
	require.NoError(t, err)
	assert.Equal(t, "python", p.Name())

	p, err = r.Resolve("GOLANG", "")
	require.NoError(t, err)
	assert.Equal(t, "go", p.Name())
}

func TestRegistryDetectsWhenTagMissing(t *testing.T) {
	r := NewRegistry()

	p, err := r.Resolve("", "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(1)\n}\n")
	require.NoError(t, err)
	assert.Equal(t, "go", p.Name())
}
