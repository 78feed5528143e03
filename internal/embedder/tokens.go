package embedder

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOperator
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

// twoCharOps are matched before single-character operators.
var twoCharOps = map[string]bool{
	"==": true, "!=": true, "<=": true, ">=": true, "&&": true, "||": true,
	"+=": true, "-=": true, ":=": true, "=>": true, "->": true, "++": true,
	"--": true, "<<": true, ">>": true, "**": true,
}

const singleCharOps = "=+-*/%<>!&|^?:.,"

// tokenize splits code into a coarse token stream. It is language agnostic:
// good enough for counting, not for parsing.
func tokenize(code string) []token {
	var toks []token
	rs := []rune(code)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '_' || unicode.IsLetter(r):
			j := i + 1
			for j < len(rs) && (rs[j] == '_' || unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i:j])})
			i = j
		case unicode.IsDigit(r):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || unicode.IsLetter(rs[j]) || rs[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[i:j])})
			i = j
		case r == '"' || r == '\'' || r == '`':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				if rs[j] == '\\' {
					j++
				}
				j++
			}
			end := j + 1
			if end > len(rs) {
				end = len(rs)
			}
			toks = append(toks, token{kind: tokString, text: string(rs[i:end])})
			i = end
		default:
			if i+1 < len(rs) && twoCharOps[string(rs[i:i+2])] {
				toks = append(toks, token{kind: tokOperator, text: string(rs[i : i+2])})
				i += 2
				continue
			}
			if strings.ContainsRune(singleCharOps, r) {
				toks = append(toks, token{kind: tokOperator, text: string(r)})
			} else {
				toks = append(toks, token{kind: tokPunct, text: string(r)})
			}
			i++
		}
	}
	return toks
}

// normalize strips comments and collapses whitespace so that formatting
// changes do not alter the content hash.
func normalize(code string) string {
	var b strings.Builder
	rs := []rune(code)
	var quote rune
	space := false
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if quote != 0 {
			b.WriteRune(r)
			if r == '\\' && i+1 < len(rs) {
				i++
				b.WriteRune(rs[i])
				continue
			}
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '"' || r == '\'' || r == '`':
			quote = r
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case r == '#' || (r == '/' && i+1 < len(rs) && rs[i+1] == '/'):
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			space = true
		case r == '/' && i+1 < len(rs) && rs[i+1] == '*':
			i += 2
			for i+1 < len(rs) && !(rs[i] == '*' && rs[i+1] == '/') {
				i++
			}
			i++
			space = true
		case unicode.IsSpace(r):
			space = true
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isCommentLine reports whether a trimmed line is a whole-line comment.
func isCommentLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "/*") ||
		strings.HasPrefix(trimmed, "*") ||
		strings.HasPrefix(trimmed, "--")
}
