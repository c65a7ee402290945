package similarity

import (
	"github.com/gradeflow/eval-service/internal/models"
)

// alignmentBudget caps the LCS table size; above it the fine-grained pass
// degrades to a containment-style estimate instead of an O(n*m) table.
const alignmentBudget = 16 << 20

type alignment struct {
	structural float64
	regions    []models.MatchedRegion
}

// align computes a structural similarity fraction between two canonical
// token sequences via longest common subsequence, plus the contiguous
// matched regions. Symmetric in its arguments: 2*LCS/(lenA+lenB).
func align(a, b []models.Token, minRegion int) alignment {
	if len(a) == 0 || len(b) == 0 {
		return alignment{}
	}
	if len(a)*len(b) > alignmentBudget {
		return alignment{structural: roughOverlap(a, b)}
	}

	// classic DP table, backtracked for matched index pairs
	n, m := len(a), len(b)
	table := make([]int, (n+1)*(m+1))
	at := func(i, j int) int { return i*(m+1) + j }

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if tokensEqual(a[i-1], b[j-1]) {
				table[at(i, j)] = table[at(i-1, j-1)] + 1
			} else if table[at(i-1, j)] >= table[at(i, j-1)] {
				table[at(i, j)] = table[at(i-1, j)]
			} else {
				table[at(i, j)] = table[at(i, j-1)]
			}
		}
	}

	lcs := table[at(n, m)]

	type pair struct{ i, j int }
	pairs := make([]pair, 0, lcs)
	for i, j := n, m; i > 0 && j > 0; {
		switch {
		case tokensEqual(a[i-1], b[j-1]):
			pairs = append(pairs, pair{i - 1, j - 1})
			i--
			j--
		case table[at(i-1, j)] >= table[at(i, j-1)]:
			i--
		default:
			j--
		}
	}
	// backtrack walked right-to-left
	for l, r := 0, len(pairs)-1; l < r; l, r = l+1, r-1 {
		pairs[l], pairs[r] = pairs[r], pairs[l]
	}

	var regions []models.MatchedRegion
	runStart := 0
	flush := func(end int) {
		length := end - runStart
		if length >= minRegion {
			regions = append(regions, models.MatchedRegion{
				SpanA: models.Span{Start: pairs[runStart].i, End: pairs[end-1].i + 1},
				SpanB: models.Span{Start: pairs[runStart].j, End: pairs[end-1].j + 1},
			})
		}
	}
	for k := 1; k <= len(pairs); k++ {
		if k == len(pairs) ||
			pairs[k].i != pairs[k-1].i+1 ||
			pairs[k].j != pairs[k-1].j+1 {
			flush(k)
			runStart = k
		}
	}

	return alignment{
		structural: 2 * float64(lcs) / float64(n+m),
		regions:    regions,
	}
}

func tokensEqual(a, b models.Token) bool {
	return a.Kind == b.Kind && a.Text == b.Text
}

// roughOverlap is the oversized-input escape hatch: kind-frequency overlap,
// still symmetric, no regions.
func roughOverlap(a, b []models.Token) float64 {
	counts := make(map[models.TokenKind]int)
	for _, t := range a {
		counts[t.Kind]++
	}
	shared := 0
	for _, t := range b {
		if counts[t.Kind] > 0 {
			counts[t.Kind]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}
