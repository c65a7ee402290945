package normalizer

import (
	"fmt"
	"strings"

	"github.com/gradeflow/eval-service/internal/models"
)

// LanguageProfile is the capability set a language needs to join the
// pipeline: lexical tokenization, identifier stripping and reduction of
// control flow to the shared vocabulary. Adding a language means adding one
// profile to the registry.
type LanguageProfile interface {
	Name() string
	Tokenize(src string) ([]lexeme, error)
	NormalizeIdentifiers(lexs []lexeme) []lexeme
	ReduceControlFlow(lexs []lexeme) []models.Token
	Structure(lexs []lexeme) models.StructureSummary
}

const placeholderPrefix = "@p"

// profile is the shared table-driven implementation behind every language.
type profile struct {
	name            string
	lineComments    []string
	blockComments   [][2]string
	keywords        map[string]models.TokenKind // control-flow vocabulary
	literalWords    map[string]bool             // true/false/null/None/nil...
	operatorWords   map[string]bool             // and/or/not
	dropped         map[string]bool             // types, modifiers, noise keywords
	funcKeywords    map[string]bool             // def/func/function
	indentStructure bool                        // python: structure from indentation
	tripleQuotes    bool
	backtickStrings bool
	cFamilyFuncs    bool // detect `name(...) {` definitions
}

func (p *profile) Name() string {
	return p.name
}

func (p *profile) Tokenize(src string) ([]lexeme, error) {
	lexs, err := lex(src, p)
	if err != nil {
		return lexs, fmt.Errorf("%s: %w", p.name, err)
	}
	return lexs, nil
}

// NormalizeIdentifiers replaces every non-keyword identifier with a
// positional placeholder keyed by declaration (first-seen) order, so
// renaming variables cannot change the canonical stream.
func (p *profile) NormalizeIdentifiers(lexs []lexeme) []lexeme {
	seen := make(map[string]string)
	out := make([]lexeme, len(lexs))

	for i, lx := range lexs {
		out[i] = lx
		if lx.class != classIdent || p.isReserved(lx.text) {
			continue
		}
		placeholder, ok := seen[lx.text]
		if !ok {
			placeholder = fmt.Sprintf("%s%d", placeholderPrefix, len(seen))
			seen[lx.text] = placeholder
		}
		out[i].text = placeholder
	}
	return out
}

// ReduceControlFlow maps lexemes onto the shared token vocabulary. Dropped
// keywords and punctuation vanish so that languages with different surface
// syntax produce comparable sequences.
func (p *profile) ReduceControlFlow(lexs []lexeme) []models.Token {
	out := make([]models.Token, 0, len(lexs))

	for i, lx := range lexs {
		switch lx.class {
		case classIdent:
			if kind, ok := p.keywords[lx.text]; ok {
				out = append(out, models.Token{Kind: kind})
				continue
			}
			if p.literalWords[lx.text] {
				out = append(out, models.Token{Kind: models.TokenLit})
				continue
			}
			if p.operatorWords[lx.text] {
				out = append(out, models.Token{Kind: models.TokenOp})
				continue
			}
			if p.dropped[lx.text] {
				continue
			}
			if nextIsOpenParen(lexs, i) {
				out = append(out, models.Token{Kind: models.TokenCall, Text: lx.text})
				continue
			}
			out = append(out, models.Token{Kind: models.TokenIdent, Text: lx.text})
		case classNumber, classString:
			out = append(out, models.Token{Kind: models.TokenLit})
		case classOp:
			if assignOps[lx.text] {
				out = append(out, models.Token{Kind: models.TokenAssign})
			} else {
				out = append(out, models.Token{Kind: models.TokenOp})
			}
		case classPunct:
			// structure, not semantics
		}
	}
	return out
}

func (p *profile) isReserved(word string) bool {
	if _, ok := p.keywords[word]; ok {
		return true
	}
	return p.literalWords[word] || p.operatorWords[word] || p.dropped[word] || p.funcKeywords[word]
}

func nextIsOpenParen(lexs []lexeme, i int) bool {
	if i+1 >= len(lexs) {
		return false
	}
	next := lexs[i+1]
	return next.class == classPunct && next.text == "("
}

func newPythonProfile() LanguageProfile {
	return &profile{
		name:         "python",
		lineComments: []string{"#"},
		keywords: map[string]models.TokenKind{
			"for": models.TokenLoop, "while": models.TokenLoop,
			"if": models.TokenBranch, "elif": models.TokenBranch, "else": models.TokenBranch,
			"return": models.TokenReturn, "yield": models.TokenReturn,
			"def": models.TokenFunc, "lambda": models.TokenFunc, "class": models.TokenFunc,
		},
		literalWords:  set("True", "False", "None"),
		operatorWords: set("and", "or", "not", "is"),
		dropped: set(
			"in", "pass", "import", "from", "as", "with", "try", "except",
			"finally", "raise", "global", "nonlocal", "del", "assert",
			"break", "continue", "async", "await", "match",
		),
		funcKeywords:    set("def"),
		indentStructure: true,
		tripleQuotes:    true,
	}
}

func newJavaProfile() LanguageProfile {
	return &profile{
		name:          "java",
		lineComments:  []string{"//"},
		blockComments: [][2]string{{"/*", "*/"}},
		keywords: map[string]models.TokenKind{
			"for": models.TokenLoop, "while": models.TokenLoop, "do": models.TokenLoop,
			"if": models.TokenBranch, "else": models.TokenBranch,
			"switch": models.TokenBranch, "case": models.TokenBranch,
			"return": models.TokenReturn,
			"class":  models.TokenFunc, "interface": models.TokenFunc,
		},
		literalWords: set("true", "false", "null"),
		dropped: set(
			"public", "private", "protected", "static", "final", "abstract",
			"synchronized", "volatile", "transient", "native", "strictfp",
			"void", "int", "long", "short", "byte", "char", "float", "double",
			"boolean", "var", "enum", "extends", "implements", "import",
			"package", "new", "this", "super", "try", "catch", "finally",
			"throw", "throws", "break", "continue", "instanceof", "default",
		),
		cFamilyFuncs: true,
	}
}

func newCProfile() LanguageProfile {
	return &profile{
		name:          "c",
		lineComments:  []string{"//"},
		blockComments: [][2]string{{"/*", "*/"}},
		keywords: map[string]models.TokenKind{
			"for": models.TokenLoop, "while": models.TokenLoop, "do": models.TokenLoop,
			"if": models.TokenBranch, "else": models.TokenBranch,
			"switch": models.TokenBranch, "case": models.TokenBranch,
			"return": models.TokenReturn,
		},
		literalWords: set("NULL"),
		dropped: set(
			"int", "long", "char", "float", "double", "void", "short",
			"unsigned", "signed", "const", "static", "extern", "struct",
			"union", "enum", "typedef", "sizeof", "register", "inline",
			"break", "continue", "goto", "default", "include", "define",
		),
		cFamilyFuncs: true,
	}
}

func newCppProfile() LanguageProfile {
	return &profile{
		name:          "cpp",
		lineComments:  []string{"//"},
		blockComments: [][2]string{{"/*", "*/"}},
		keywords: map[string]models.TokenKind{
			"for": models.TokenLoop, "while": models.TokenLoop, "do": models.TokenLoop,
			"if": models.TokenBranch, "else": models.TokenBranch,
			"switch": models.TokenBranch, "case": models.TokenBranch,
			"return": models.TokenReturn,
			"class":  models.TokenFunc, "struct": models.TokenFunc,
		},
		literalWords: set("true", "false", "nullptr", "NULL"),
		dropped: set(
			"int", "long", "char", "float", "double", "void", "short",
			"unsigned", "signed", "const", "static", "extern", "union",
			"enum", "typedef", "sizeof", "register", "inline", "auto",
			"bool", "namespace", "template", "typename", "public", "private",
			"protected", "virtual", "override", "new", "delete", "using",
			"this", "try", "catch", "throw", "break", "continue", "goto",
			"default", "include", "define", "std",
		),
		cFamilyFuncs: true,
	}
}

func newJavaScriptProfile() LanguageProfile {
	return &profile{
		name:          "javascript",
		lineComments:  []string{"//"},
		blockComments: [][2]string{{"/*", "*/"}},
		keywords: map[string]models.TokenKind{
			"for": models.TokenLoop, "while": models.TokenLoop, "do": models.TokenLoop,
			"if": models.TokenBranch, "else": models.TokenBranch,
			"switch": models.TokenBranch, "case": models.TokenBranch,
			"return": models.TokenReturn,
			"function": models.TokenFunc, "class": models.TokenFunc,
		},
		literalWords: set("true", "false", "null", "undefined"),
		dropped: set(
			"const", "let", "var", "new", "typeof", "instanceof", "in", "of",
			"this", "try", "catch", "finally", "throw", "break", "continue",
			"default", "export", "import", "async", "await", "extends",
		),
		funcKeywords:    set("function"),
		backtickStrings: true,
		cFamilyFuncs:    true,
	}
}

func newGoProfile() LanguageProfile {
	return &profile{
		name:          "go",
		lineComments:  []string{"//"},
		blockComments: [][2]string{{"/*", "*/"}},
		keywords: map[string]models.TokenKind{
			"for": models.TokenLoop,
			"if":  models.TokenBranch, "else": models.TokenBranch,
			"switch": models.TokenBranch, "case": models.TokenBranch,
			"select": models.TokenBranch,
			"return": models.TokenReturn,
			"func":   models.TokenFunc,
		},
		literalWords: set("true", "false", "nil", "iota"),
		dropped: set(
			"var", "const", "type", "struct", "interface", "map", "chan",
			"go", "defer", "range", "package", "import", "break", "continue",
			"fallthrough", "goto", "default",
		),
		funcKeywords:    set("func"),
		backtickStrings: true,
	}
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = true
		m[w] = true
	}
	return m
}
