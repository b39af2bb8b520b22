package sqldialect

import (
	"errors"
	"strings"
)

var (
	ErrEmpty              = errors.New("empty statement")
	ErrUnterminatedString = errors.New("unterminated string literal")
	ErrUnterminatedIdent  = errors.New("unterminated quoted identifier")
	ErrUnterminatedBlock  = errors.New("unterminated block comment")
	ErrUnbalanced         = errors.New("unbalanced parentheses")
)

type tokenKind int

const (
	tokSpace tokenKind = iota
	tokComment
	tokWord
	tokQuoted
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokDot
	tokSemicolon
)

type token struct {
	kind tokenKind
	text string
}

func (t token) significant() bool {
	return t.kind != tokSpace && t.kind != tokComment
}

func (t token) upper() string {
	return strings.ToUpper(t.text)
}

// tokenize splits sql into tokens. The concatenation of all token texts is
// the input, except for backtick identifiers which are rewritten to double
// quotes.
func tokenize(sql string) ([]token, error) {
	var toks []token
	i := 0
	n := len(sql)
	for i < n {
		c := sql[i]
		switch {
		case isSpace(c):
			j := i
			for j < n && isSpace(sql[j]) {
				j++
			}
			toks = append(toks, token{tokSpace, sql[i:j]})
			i = j
		case c == '-' && i+1 < n && sql[i+1] == '-':
			j := strings.IndexByte(sql[i:], '\n')
			if j == -1 {
				j = n
			} else {
				j += i
			}
			toks = append(toks, token{tokComment, sql[i:j]})
			i = j
		case c == '/' && i+1 < n && sql[i+1] == '*':
			j := strings.Index(sql[i+2:], "*/")
			if j == -1 {
				return nil, ErrUnterminatedBlock
			}
			end := i + 2 + j + 2
			toks = append(toks, token{tokComment, sql[i:end]})
			i = end
		case c == '\'':
			end, ok := scanQuoted(sql, i, '\'')
			if !ok {
				return nil, ErrUnterminatedString
			}
			toks = append(toks, token{tokString, sql[i:end]})
			i = end
		case c == '"':
			end, ok := scanQuoted(sql, i, '"')
			if !ok {
				return nil, ErrUnterminatedIdent
			}
			toks = append(toks, token{tokQuoted, sql[i:end]})
			i = end
		case c == '`':
			end, ok := scanQuoted(sql, i, '`')
			if !ok {
				return nil, ErrUnterminatedIdent
			}
			inner := strings.ReplaceAll(sql[i+1:end-1], "``", "`")
			toks = append(toks, token{tokQuoted, quoteIdent(inner)})
			i = end
		case isDigit(c) || (c == '.' && i+1 < n && isDigit(sql[i+1])):
			j := i
			for j < n && (isDigit(sql[j]) || sql[j] == '.') {
				j++
			}
			if j < n && (sql[j] == 'e' || sql[j] == 'E') {
				k := j + 1
				if k < n && (sql[k] == '+' || sql[k] == '-') {
					k++
				}
				if k < n && isDigit(sql[k]) {
					for k < n && isDigit(sql[k]) {
						k++
					}
					j = k
				}
			}
			toks = append(toks, token{tokNumber, sql[i:j]})
			i = j
		case isWordStart(c):
			j := i
			for j < n && isWordPart(sql[j]) {
				j++
			}
			toks = append(toks, token{tokWord, sql[i:j]})
			i = j
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '.':
			toks = append(toks, token{tokDot, "."})
			i++
		case c == ';':
			toks = append(toks, token{tokSemicolon, ";"})
			i++
		default:
			j := i + 1
			if j < n {
				switch sql[i : j+1] {
				case "<=", ">=", "<>", "!=", "||", "::", "=>", "->":
					j++
				}
			}
			toks = append(toks, token{tokOp, sql[i:j]})
			i = j
		}
	}
	return toks, nil
}

// scanQuoted returns the index just past the closing quote of a literal
// starting at start. Doubled quotes are escapes.
func scanQuoted(s string, start int, q byte) (int, bool) {
	for i := start + 1; i < len(s); i++ {
		if s[i] == '\\' && q == '\'' && i+1 < len(s) {
			i++
			continue
		}
		if s[i] == q {
			if i+1 < len(s) && s[i+1] == q {
				i++
				continue
			}
			return i + 1, true
		}
	}
	return 0, false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func join(toks []token) string {
	var b strings.Builder
	for _, t := range toks {
		b.WriteString(t.text)
	}
	return b.String()
}

// nextSignificant returns the index of the next significant token after i,
// or -1.
func nextSignificant(toks []token, i int) int {
	for j := i + 1; j < len(toks); j++ {
		if toks[j].significant() {
			return j
		}
	}
	return -1
}

func prevSignificant(toks []token, i int) int {
	for j := i - 1; j >= 0; j-- {
		if toks[j].significant() {
			return j
		}
	}
	return -1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}
