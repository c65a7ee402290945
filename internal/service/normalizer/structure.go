package normalizer

import (
	"github.com/gradeflow/eval-service/internal/models"
)

// Structure derives the per-function shape summary: nesting depth and
// branching factor independent of language syntax. Brace languages use the
// brace depth recorded by the lexer; python uses indentation.
func (p *profile) Structure(lexs []lexeme) models.StructureSummary {
	if p.indentStructure {
		return p.indentShapes(lexs)
	}
	return p.braceShapes(lexs)
}

func (p *profile) indentShapes(lexs []lexeme) models.StructureSummary {
	var summary models.StructureSummary
	var current *models.FunctionShape
	baseline := 0

	for i, lx := range lexs {
		if lx.class == classIdent && p.funcKeywords[lx.text] {
			if current != nil {
				summary.Functions = append(summary.Functions, *current)
			}
			current = &models.FunctionShape{}
			baseline = lx.indent
			continue
		}
		if current == nil {
			continue
		}
		// a def at or above the baseline indent would have restarted above;
		// anything back at baseline level on a later line ends the body
		if lx.indent <= baseline && i > 0 && lx.line != lexs[i-1].line {
			summary.Functions = append(summary.Functions, *current)
			current = nil
			continue
		}

		depth := (lx.indent - baseline) / 4
		if depth < 1 {
			depth = 1
		}
		if depth > current.MaxNestingDepth {
			current.MaxNestingDepth = depth
		}
		current.TokenCount++
		p.countFlow(lx, current)
	}

	if current != nil {
		summary.Functions = append(summary.Functions, *current)
	}
	return summary
}

func (p *profile) braceShapes(lexs []lexeme) models.StructureSummary {
	var summary models.StructureSummary
	var current *models.FunctionShape
	bodyDepth := -1

	for i, lx := range lexs {
		if current == nil {
			if p.startsFunction(lexs, i) {
				current = &models.FunctionShape{}
				bodyDepth = lx.depth
			}
			continue
		}

		if lx.class == classPunct && lx.text == "}" && lx.depth <= bodyDepth {
			summary.Functions = append(summary.Functions, *current)
			current = nil
			continue
		}

		nesting := lx.depth - bodyDepth
		if nesting > current.MaxNestingDepth {
			current.MaxNestingDepth = nesting
		}
		current.TokenCount++
		p.countFlow(lx, current)
	}

	if current != nil {
		summary.Functions = append(summary.Functions, *current)
	}
	return summary
}

func (p *profile) countFlow(lx lexeme, shape *models.FunctionShape) {
	if lx.class != classIdent {
		return
	}
	switch p.keywords[lx.text] {
	case models.TokenBranch:
		shape.BranchCount++
	case models.TokenLoop:
		shape.LoopCount++
	}
}

// startsFunction reports whether the lexeme at i opens a function
// definition. Declared function keywords win; c-family definitions are
// recognized as `name ( ... ) {` outside any body, a deliberate best-effort
// heuristic.
func (p *profile) startsFunction(lexs []lexeme, i int) bool {
	lx := lexs[i]
	if lx.class == classIdent && p.funcKeywords[lx.text] {
		return true
	}
	if !p.cFamilyFuncs || lx.class != classIdent || p.isReserved(lx.text) {
		return false
	}
	if lx.depth > 1 || !nextIsOpenParen(lexs, i) {
		return false
	}
	// walk to the matching close paren, then require an opening brace
	parens := 0
	for j := i + 1; j < len(lexs); j++ {
		if lexs[j].class != classPunct {
			continue
		}
		switch lexs[j].text {
		case "(":
			parens++
		case ")":
			parens--
			if parens == 0 {
				for k := j + 1; k < len(lexs); k++ {
					if lexs[k].class == classPunct {
						return lexs[k].text == "{"
					}
					// java `throws X` and friends sit between ) and {
					if lexs[k].class != classIdent {
						return false
					}
				}
				return false
			}
		case "{", "}", ";":
			return false
		}
	}
	return false
}
