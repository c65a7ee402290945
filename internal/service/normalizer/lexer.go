package normalizer

import (
	"fmt"
	"strings"
	"unicode"
)

type lexClass int

const (
	classIdent lexClass = iota
	classNumber
	classString
	classOp
	classPunct
)

// lexeme is a raw lexical token before canonicalization. Index is the
// position in the emitted lexeme stream, Line/Indent come from the source
// and feed the structure summary.
type lexeme struct {
	class  lexClass
	text   string
	line   int
	indent int
	depth  int // brace depth at the lexeme, for brace-structured languages
}

// multi-character operators, longest first so the scan is greedy.
var operators = []string{
	"<<=", ">>=", "**=", "//=", "===", "!==",
	"==", "!=", "<=", ">=", "&&", "||", "->", "=>", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<", ">>", "**", "//", ":=",
	"+", "-", "*", "/", "%", "=", "<", ">", "!", "&", "|", "^", "~", "?",
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
	"**=": true, "//=": true, ":=": true,
}

// lex splits source into lexemes, skipping whitespace and comments per the
// profile's comment syntax. An unterminated string or block comment stops
// the scan; the lexemes gathered so far are returned with the error so the
// caller can build a partial canonical form.
func lex(src string, p *profile) ([]lexeme, error) {
	var out []lexeme

	line := 1
	indent := 0
	depth := 0
	atLineStart := true

	i := 0
	n := len(src)

	emit := func(class lexClass, text string) {
		out = append(out, lexeme{class: class, text: text, line: line, indent: indent, depth: depth})
	}

	for i < n {
		c := src[i]

		if c == '\n' {
			line++
			indent = 0
			atLineStart = true
			i++
			continue
		}

		if c == ' ' || c == '\t' || c == '\r' {
			if atLineStart && c != '\r' {
				if c == '\t' {
					indent += 4
				} else {
					indent++
				}
			}
			i++
			continue
		}
		atLineStart = false

		if marker := matchAny(src[i:], p.lineComments); marker != "" {
			for i < n && src[i] != '\n' {
				i++
			}
			continue
		}

		if open, close := matchBlockComment(src[i:], p.blockComments); open != "" {
			end := strings.Index(src[i+len(open):], close)
			if end < 0 {
				return out, fmt.Errorf("unterminated block comment at line %d", line)
			}
			line += strings.Count(src[i:i+len(open)+end+len(close)], "\n")
			i += len(open) + end + len(close)
			continue
		}

		if c == '"' || c == '\'' || (c == '`' && p.backtickStrings) {
			lit, consumed, lines, err := scanString(src[i:], p)
			if err != nil {
				return out, fmt.Errorf("%v at line %d", err, line)
			}
			emit(classString, lit)
			line += lines
			i += consumed
			continue
		}

		if unicode.IsDigit(rune(c)) {
			start := i
			for i < n && (isIdentByte(src[i]) || src[i] == '.') {
				i++
			}
			emit(classNumber, src[start:i])
			continue
		}

		if isIdentStart(c) {
			start := i
			for i < n && isIdentByte(src[i]) {
				i++
			}
			emit(classIdent, src[start:i])
			continue
		}

		if op := matchAny(src[i:], operators); op != "" {
			emit(classOp, op)
			i += len(op)
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		}
		emit(classPunct, string(c))
		i++
	}

	return out, nil
}

func matchAny(s string, prefixes []string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return p
		}
	}
	return ""
}

func matchBlockComment(s string, pairs [][2]string) (string, string) {
	for _, pair := range pairs {
		if strings.HasPrefix(s, pair[0]) {
			return pair[0], pair[1]
		}
	}
	return "", ""
}

// scanString consumes a quoted literal, honoring backslash escapes and
// python triple quotes. Returns the literal, bytes consumed and newlines
// crossed.
func scanString(s string, p *profile) (string, int, int, error) {
	quote := s[0]

	if p.tripleQuotes && len(s) >= 3 && s[1] == quote && s[2] == quote {
		marker := s[:3]
		end := strings.Index(s[3:], marker)
		if end < 0 {
			return "", 0, 0, fmt.Errorf("unterminated string literal")
		}
		total := 3 + end + 3
		return s[:total], total, strings.Count(s[:total], "\n"), nil
	}

	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return s[:i+1], i + 1, 0, nil
		case '\n':
			if quote != '`' {
				return "", 0, 0, fmt.Errorf("unterminated string literal")
			}
		}
	}
	return "", 0, 0, fmt.Errorf("unterminated string literal")
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
