package sqldialect

// Reserved words are never quoted.
var reserved = toSet(
	"ALL", "ALTER", "AND", "ANY", "AS", "ASC", "BETWEEN", "BY", "CASE", "CAST",
	"CREATE", "CROSS", "CURRENT", "CURRENT_DATE", "CURRENT_TIME",
	"CURRENT_TIMESTAMP", "CURRENT_USER", "DELETE", "DESC", "DISTINCT", "DROP",
	"ELSE", "END", "ESCAPE", "EXCEPT", "EXISTS", "FALSE", "FETCH", "FIRST",
	"FOLLOWING", "FOR", "FROM", "FULL", "GROUP", "HAVING", "ILIKE", "IN",
	"INNER", "INSERT", "INTERSECT", "INTERVAL", "INTO", "IS", "JOIN", "LAST",
	"LATERAL", "LEFT", "LIKE", "LIMIT", "LOCALTIME", "LOCALTIMESTAMP", "MINUS",
	"NATURAL", "NEXT", "NOT", "NULL", "NULLS", "OFFSET", "ON", "ONLY", "OR",
	"ORDER", "OUTER", "OVER", "PARTITION", "PIVOT", "PRECEDING", "QUALIFY",
	"RANGE", "RECURSIVE", "REGEXP", "RIGHT", "RLIKE", "ROW", "ROWS", "SAMPLE",
	"SELECT", "SET", "SOME", "TABLE", "TABLESAMPLE", "THEN", "TOP", "TRUE",
	"TRY_CAST", "UNBOUNDED", "UNION", "UNPIVOT", "UPDATE", "USING", "VALUES",
	"VIEW", "WHEN", "WHERE", "WINDOW", "WITH",
)

// Date parts are keywords only as the leading argument of a date function,
// inside EXTRACT, or after an INTERVAL literal.
var dateParts = toSet(
	"YEAR", "YEARS", "QUARTER", "QUARTERS", "MONTH", "MONTHS", "WEEK", "WEEKS",
	"DAY", "DAYS", "DAYOFWEEK", "DAYOFYEAR", "DOW", "DOY", "HOUR", "HOURS",
	"MINUTE", "MINUTES", "SECOND", "SECONDS", "MILLISECOND", "EPOCH",
)

// Type names are keywords after :: or AS inside CAST, or before a literal
// (DATE '2024-01-01').
var typeNames = toSet(
	"ARRAY", "BIGINT", "BOOLEAN", "CHAR", "DATE", "DECIMAL", "DOUBLE", "FLOAT",
	"INT", "INTEGER", "NUMBER", "NUMERIC", "OBJECT", "PRECISION", "REAL",
	"SMALLINT", "STRING", "TEXT", "TIME", "TIMESTAMP", "TIMESTAMP_LTZ",
	"TIMESTAMP_NTZ", "TIMESTAMP_TZ", "TINYINT", "VARCHAR", "VARIANT",
)

// Clause keywords that end a WHERE region at the same depth.
var clauseEnders = toSet(
	"GROUP", "ORDER", "HAVING", "LIMIT", "QUALIFY", "UNION", "INTERSECT",
	"EXCEPT", "MINUS", "WINDOW", "OFFSET", "FETCH",
)

var monthNames = toSet(
	"JANUARY", "FEBRUARY", "MARCH", "APRIL", "MAY", "JUNE", "JULY", "AUGUST",
	"SEPTEMBER", "OCTOBER", "NOVEMBER", "DECEMBER",
	"JAN", "FEB", "MAR", "APR", "JUN", "JUL", "AUG", "SEP", "SEPT", "OCT",
	"NOV", "DEC",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func in(set map[string]struct{}, w string) bool {
	_, ok := set[w]
	return ok
}
