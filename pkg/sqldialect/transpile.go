// Package sqldialect normalises generated SQL for the warehouse: it quotes
// identifiers, strips LLM formatting, and checks the emitted SQL against the
// dialect contract.
package sqldialect

import (
	"fmt"
	"strings"
)

// Quoted is SQL that has passed identifier normalisation. It can only be
// produced by Transpile.
type Quoted struct {
	sql string
}

func (q Quoted) String() string { return q.sql }

func (q Quoted) IsZero() bool { return q.sql == "" }

// Transpile quotes every unquoted identifier with double quotes, uppercases
// keywords and function names, and rewrites backtick identifiers. It is
// idempotent: Transpile(Transpile(s)) == Transpile(s).
func Transpile(sql string) (Quoted, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return Quoted{}, ErrEmpty
	}
	toks, err := tokenize(sql)
	if err != nil {
		return Quoted{}, err
	}

	depth := 0
	for _, t := range toks {
		switch t.kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth < 0 {
				return Quoted{}, ErrUnbalanced
			}
		case tokSemicolon:
			return Quoted{}, fmt.Errorf("multiple statements are not allowed")
		}
	}
	if depth != 0 {
		return Quoted{}, ErrUnbalanced
	}

	// Function name for each open parenthesis, "" for grouping parens.
	var funcs []string
	for i := range toks {
		t := toks[i]
		switch t.kind {
		case tokLParen:
			fn := ""
			if p := prevSignificant(toks, i); p >= 0 && toks[p].kind == tokWord && isFuncCall(toks, p) {
				fn = toks[p].upper()
			}
			funcs = append(funcs, fn)
			continue
		case tokRParen:
			funcs = funcs[:len(funcs)-1]
			continue
		case tokWord:
		default:
			continue
		}

		up := t.upper()
		enclosing := ""
		if len(funcs) > 0 {
			enclosing = funcs[len(funcs)-1]
		}
		switch {
		case in(reserved, up) || isFuncCall(toks, i):
			toks[i].text = up
		case in(dateParts, up) && isDatePartPosition(toks, i, enclosing):
			toks[i].text = up
		case in(typeNames, up) && isTypePosition(toks, i, enclosing):
			toks[i].text = up
		default:
			toks[i].text = quoteIdent(t.text)
		}
	}
	return Quoted{sql: join(toks)}, nil
}

// isFuncCall reports whether the word at i is a function name, i.e. it is
// followed by "(" and is not a keyword that introduces a parenthesised list.
func isFuncCall(toks []token, i int) bool {
	n := nextSignificant(toks, i)
	if n < 0 || toks[n].kind != tokLParen {
		return false
	}
	up := toks[i].upper()
	switch up {
	case "IN", "AS", "OVER", "VALUES", "EXISTS", "USING", "ON", "AND", "OR", "NOT", "FROM", "JOIN", "WHERE", "SELECT", "THEN", "ELSE", "WHEN", "BY", "ALL", "ANY", "SOME", "INTERVAL", "LATERAL", "PIVOT", "UNPIVOT", "WITH", "HAVING", "QUALIFY":
		return false
	}
	// A CTE column list "name (a, b) AS (...)" is not a call, but it is rare
	// enough in generated SQL that the name is treated as a function.
	return true
}

func isDatePartPosition(toks []token, i int, enclosing string) bool {
	p := prevSignificant(toks, i)
	n := nextSignificant(toks, i)
	if p >= 0 && toks[p].kind == tokLParen && enclosing != "" {
		if n >= 0 && (toks[n].kind == tokComma || toks[n].upper() == "FROM") {
			return true
		}
	}
	if p >= 0 && toks[p].kind == tokString {
		if pp := prevSignificant(toks, p); pp >= 0 && toks[pp].upper() == "INTERVAL" {
			return true
		}
	}
	return false
}

func isTypePosition(toks []token, i int, enclosing string) bool {
	p := prevSignificant(toks, i)
	if p >= 0 {
		if toks[p].text == "::" {
			return true
		}
		if toks[p].upper() == "AS" && (enclosing == "CAST" || enclosing == "TRY_CAST") {
			return true
		}
	}
	if n := nextSignificant(toks, i); n >= 0 && toks[n].kind == tokString {
		return true
	}
	return false
}
