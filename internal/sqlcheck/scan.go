package sqlcheck

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuotedIdent
	tokenString
	tokenNumber
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
}

// scanResult carries the token stream plus scan-level findings the checks
// evaluate in their own order (comments are reported, not silently skipped).
type scanResult struct {
	tokens       []token
	hasComment   bool
	unterminated bool
}

// scanSQL splits SQL text into normalized tokens. Word tokens are lowercased,
// quoted identifiers are unquoted and lowercased, string literals are reduced
// to a placeholder so their contents can never trip keyword checks.
func scanSQL(input string) scanResult {
	var result scanResult
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			result.hasComment = true
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			result.hasComment = true
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			if i+1 < len(runes) {
				i += 2
			} else {
				i = len(runes)
				result.unterminated = true
			}
		case r == '\'':
			end, ok := scanSingleQuoted(runes, i)
			if !ok {
				result.unterminated = true
				end = len(runes)
			}
			result.tokens = append(result.tokens, token{kind: tokenString, text: "'...'"})
			i = end
		case r == '"':
			end, ok := scanDoubleQuoted(runes, i)
			inner := end
			if ok {
				inner = end - 1
			} else {
				result.unterminated = true
				end = len(runes)
				inner = end
			}
			text := strings.ToLower(strings.ReplaceAll(string(runes[i+1:inner]), `""`, `"`))
			result.tokens = append(result.tokens, token{kind: tokenQuotedIdent, text: text})
			i = end
		case r == '$':
			end, ok := scanDollarQuoted(runes, i)
			if ok {
				result.tokens = append(result.tokens, token{kind: tokenString, text: "'...'"})
				i = end
				break
			}
			result.tokens = append(result.tokens, token{kind: tokenPunct, text: "$"})
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			result.tokens = append(result.tokens, token{kind: tokenWord, text: strings.ToLower(string(runes[start:i]))})
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			result.tokens = append(result.tokens, token{kind: tokenNumber, text: string(runes[start:i])})
		default:
			result.tokens = append(result.tokens, token{kind: tokenPunct, text: string(r)})
			i++
		}
	}
	return result
}

func scanSingleQuoted(runes []rune, start int) (int, bool) {
	i := start + 1
	for i < len(runes) {
		if runes[i] == '\'' {
			if i+1 < len(runes) && runes[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return i, false
}

func scanDoubleQuoted(runes []rune, start int) (int, bool) {
	i := start + 1
	for i < len(runes) {
		if runes[i] == '"' {
			if i+1 < len(runes) && runes[i+1] == '"' {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return i, false
}

// scanDollarQuoted handles $$...$$ and $tag$...$tag$ literals.
func scanDollarQuoted(runes []rune, start int) (int, bool) {
	i := start + 1
	for i < len(runes) && (unicode.IsLetter(runes[i]) || runes[i] == '_') {
		i++
	}
	if i >= len(runes) || runes[i] != '$' {
		return 0, false
	}
	delimiter := string(runes[start : i+1])
	rest := string(runes[i+1:])
	offset := strings.Index(rest, delimiter)
	if offset < 0 {
		return 0, false
	}
	return i + 1 + offset + len(delimiter), true
}
