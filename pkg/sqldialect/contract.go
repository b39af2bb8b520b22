package sqldialect

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	RuleGuardedDivision = "guarded-division"
	RuleMonthName       = "month-name-filter"
	RuleDateFunction    = "date-function"
)

// Violation is a breach of the SQL dialect contract.
type Violation struct {
	Rule   string
	Detail string
}

func (v Violation) String() string {
	return v.Rule + ": " + v.Detail
}

var aggregates = toSet("SUM", "AVG", "MIN", "MAX", "COUNT")

var dateLiteral = regexp.MustCompile(`^'(\d{4}-\d{2}-\d{2}.*|\d{8})'$`)

// CheckContract returns the contract violations in sql:
//   - every division's denominator must appear in a WHERE or HAVING clause as
//     "<denominator> > 0" (numeric literal denominators are exempt);
//   - WHERE clauses must not compare against month-name strings;
//   - WHERE clauses that filter on dates must use TO_DATE, YEAR, QUARTER or
//     MONTH.
func CheckContract(sql string) []Violation {
	toks, err := tokenize(sql)
	if err != nil {
		return []Violation{{Rule: "parse", Detail: err.Error()}}
	}
	sig := make([]token, 0, len(toks))
	for _, t := range toks {
		if t.significant() {
			sig = append(sig, t)
		}
	}

	regions := clauseRegions(sig, "WHERE")
	guards := append(clauseRegions(sig, "HAVING"), regions...)

	var out []Violation
	for i, t := range sig {
		if t.kind != tokOp || t.text != "/" {
			continue
		}
		den := denominator(sig, i+1)
		if len(den) == 0 {
			out = append(out, Violation{Rule: RuleGuardedDivision, Detail: "division without denominator"})
			continue
		}
		if len(den) == 1 && den[0].kind == tokNumber {
			if strings.Trim(den[0].text, "0.") == "" {
				out = append(out, Violation{Rule: RuleGuardedDivision, Detail: "division by zero literal"})
			}
			continue
		}
		if !guarded(guards, den) {
			out = append(out, Violation{
				Rule:   RuleGuardedDivision,
				Detail: fmt.Sprintf("denominator %s has no WHERE %s > 0 guard", join(den), join(den)),
			})
		}
	}

	for _, r := range regions {
		out = append(out, checkDateFilters(r)...)
	}
	return out
}

// clauseRegions returns the significant tokens of each clause introduced by
// keyword at any nesting depth.
func clauseRegions(sig []token, keyword string) [][]token {
	var regions [][]token
	for i, t := range sig {
		if t.kind != tokWord || t.upper() != keyword {
			continue
		}
		depth := 0
		j := i + 1
	scan:
		for ; j < len(sig); j++ {
			switch sig[j].kind {
			case tokLParen:
				depth++
			case tokRParen:
				if depth == 0 {
					break scan
				}
				depth--
			case tokWord:
				if depth == 0 && in(clauseEnders, sig[j].upper()) {
					break scan
				}
			}
		}
		regions = append(regions, sig[i+1:j])
	}
	return regions
}

// denominator returns the operand starting at sig[i]: a parenthesised group,
// a function call, or a (qualified) column reference.
func denominator(sig []token, i int) []token {
	if i >= len(sig) {
		return nil
	}
	t := sig[i]
	switch t.kind {
	case tokLParen:
		if end := matchParen(sig, i); end > 0 {
			return sig[i : end+1]
		}
		return nil
	case tokNumber:
		return sig[i : i+1]
	case tokWord, tokQuoted:
		j := i
		for j+2 < len(sig) && sig[j+1].kind == tokDot && (sig[j+2].kind == tokWord || sig[j+2].kind == tokQuoted) {
			j += 2
		}
		if j+1 < len(sig) && sig[j+1].kind == tokLParen {
			if end := matchParen(sig, j+1); end > 0 {
				return sig[i : end+1]
			}
		}
		return sig[i : j+1]
	}
	return nil
}

func matchParen(sig []token, open int) int {
	depth := 0
	for j := open; j < len(sig); j++ {
		switch sig[j].kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

func guarded(guards [][]token, den []token) bool {
	forms := [][]token{den}
	if len(den) > 2 && den[0].kind == tokLParen && den[len(den)-1].kind == tokRParen {
		forms = append(forms, den[1:len(den)-1])
	}
	// An aggregate over a guarded column is guarded: SUM(qty) with qty > 0.
	if len(den) > 3 && den[0].kind == tokWord && in(aggregates, den[0].upper()) && den[1].kind == tokLParen {
		forms = append(forms, den[2:len(den)-1])
	}
	for _, g := range guards {
		for _, f := range forms {
			if hasGuard(g, f) {
				return true
			}
		}
	}
	return false
}

// hasGuard reports whether region contains "f > 0" or "0 < f" with f as a
// whole operand: not part of a qualified name or a call.
func hasGuard(region, f []token) bool {
	for i := 0; i+len(f) <= len(region); i++ {
		if !sameTokens(region[i:i+len(f)], f) {
			continue
		}
		before, after := i-1, i+len(f)
		if before >= 0 && region[before].kind == tokDot {
			continue
		}
		if after < len(region) && (region[after].kind == tokDot || region[after].kind == tokLParen) {
			continue
		}
		if after+1 < len(region) && isOp(region[after], ">") && isZero(region[after+1]) {
			return true
		}
		if before >= 1 && isOp(region[before], "<") && isZero(region[before-1]) {
			return true
		}
	}
	return false
}

func sameTokens(a, b []token) bool {
	for i := range a {
		if normalize(a[i:i+1]) != normalize(b[i:i+1]) {
			return false
		}
	}
	return true
}

func isOp(t token, op string) bool {
	return t.kind == tokOp && t.text == op
}

func isZero(t token) bool {
	return t.kind == tokNumber && strings.Trim(t.text, "0.") == ""
}

// normalize renders tokens uppercase without quotes or whitespace so that
// `"spend"` and spend compare equal.
func normalize(toks []token) string {
	var b strings.Builder
	for _, t := range toks {
		switch t.kind {
		case tokQuoted:
			b.WriteString(strings.ToUpper(strings.ReplaceAll(t.text[1:len(t.text)-1], `""`, `"`)))
		case tokString:
			b.WriteString(t.text)
		default:
			b.WriteString(strings.ToUpper(t.text))
		}
	}
	return b.String()
}

func checkDateFilters(region []token) []Violation {
	var out []Violation
	usesDateFunc := false
	mentionsDate := false
	for i, t := range region {
		switch t.kind {
		case tokWord:
			up := t.upper()
			switch up {
			case "TO_DATE", "YEAR", "QUARTER", "MONTH":
				if i+1 < len(region) && region[i+1].kind == tokLParen {
					usesDateFunc = true
				}
			case "CURRENT_DATE", "CURRENT_TIMESTAMP", "DATEADD", "DATE_TRUNC":
				mentionsDate = true
			}
		case tokString:
			if dateLiteral.MatchString(t.text) {
				mentionsDate = true
			}
			name := strings.ToUpper(strings.TrimSpace(strings.Trim(t.text, "'")))
			if in(monthNames, name) && comparedAt(region, i) {
				out = append(out, Violation{Rule: RuleMonthName, Detail: "filter on month name " + t.text})
			}
		}
	}
	if mentionsDate && !usesDateFunc {
		out = append(out, Violation{Rule: RuleDateFunction, Detail: "date filter without TO_DATE/YEAR/QUARTER"})
	}
	return out
}

// comparedAt reports whether the string at i is an operand of a comparison
// or an IN list.
func comparedAt(region []token, i int) bool {
	for j := i - 1; j >= 0; j-- {
		t := region[j]
		switch {
		case t.kind == tokOp:
			switch t.text {
			case "=", "<>", "!=":
				return true
			}
			return false
		case t.kind == tokComma, t.kind == tokString:
			continue
		case t.kind == tokLParen:
			if j > 0 && region[j-1].upper() == "IN" {
				return true
			}
			return false
		case t.kind == tokWord && (t.upper() == "LIKE" || t.upper() == "ILIKE"):
			return true
		default:
			return false
		}
	}
	return false
}
