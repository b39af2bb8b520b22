package sqldialect

import (
	"strings"
)

// Clean strips markdown code fences, surrounding whitespace and trailing
// semicolons from an LLM-produced SQL string.
func Clean(sql string) string {
	sql = strings.TrimSpace(sql)
	if strings.HasPrefix(sql, "```") {
		sql = strings.TrimPrefix(sql, "```")
		if nl := strings.IndexByte(sql, '\n'); nl != -1 {
			first := strings.TrimSpace(sql[:nl])
			if first == "" || !strings.ContainsAny(first, " (") {
				sql = sql[nl+1:]
			}
		}
		sql = strings.TrimSuffix(strings.TrimSpace(sql), "```")
	}
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}

// RemoveLimit drops a trailing top-level LIMIT clause. Limits inside
// subqueries are kept.
func RemoveLimit(sql string) string {
	toks, err := tokenize(sql)
	if err != nil {
		return sql
	}
	depth := 0
	cut := -1
	for i, t := range toks {
		switch t.kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
		case tokWord:
			if depth == 0 && t.upper() == "LIMIT" {
				cut = i
			}
		}
	}
	if cut < 0 {
		return sql
	}
	// Only remove "LIMIT <n>" at the very end of the statement.
	n := nextSignificant(toks, cut)
	if n < 0 || toks[n].kind != tokNumber || nextSignificant(toks, n) >= 0 {
		return sql
	}
	return strings.TrimSpace(join(toks[:cut]))
}

// LooksLikeSQL reports whether text starts with a statement keyword.
func LooksLikeSQL(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	for _, kw := range []string{"SELECT", "WITH", "(SELECT"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}
