package sqldialect_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/ada/pkg/sqldialect"
)

func TestAda_SQLDialect_Transpile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "quotes identifiers and keeps functions",
			in:   `select supplier_name, sum(spend) as total_spend from spend_cube where year(to_date(invoice_date, 'YYYYMMDD')) = year(current_date) group by supplier_name order by total_spend desc limit 5`,
			want: `SELECT "supplier_name", SUM("spend") AS "total_spend" FROM "spend_cube" WHERE YEAR(TO_DATE("invoice_date", 'YYYYMMDD')) = YEAR(CURRENT_DATE) GROUP BY "supplier_name" ORDER BY "total_spend" DESC LIMIT 5`,
		},
		{
			name: "qualified names and stars",
			in:   `SELECT s.*, c.category FROM dw.suppliers s JOIN dw.categories c ON s.id = c.supplier_id`,
			want: `SELECT "s".*, "c"."category" FROM "dw"."suppliers" "s" JOIN "dw"."categories" "c" ON "s"."id" = "c"."supplier_id"`,
		},
		{
			name: "date parts stay keywords in date functions",
			in:   `SELECT month FROM t WHERE QUARTER(TO_DATE(d, 'YYYYMMDD')) = QUARTER(DATEADD(MONTH, -3, CURRENT_DATE))`,
			want: `SELECT "month" FROM "t" WHERE QUARTER(TO_DATE("d", 'YYYYMMDD')) = QUARTER(DATEADD(MONTH, -3, CURRENT_DATE))`,
		},
		{
			name: "cast types are not quoted",
			in:   `SELECT CAST(amount AS DECIMAL(18, 2)), code::varchar, DATE '2024-01-01' FROM t`,
			want: `SELECT CAST("amount" AS DECIMAL(18, 2)), "code"::VARCHAR, DATE '2024-01-01' FROM "t"`,
		},
		{
			name: "existing and backtick quotes are kept",
			in:   "SELECT \"Supplier Name\", `region` FROM t -- trailing comment",
			want: `SELECT "Supplier Name", "region" FROM "t" -- trailing comment`,
		},
		{
			name: "strings with quotes are untouched",
			in:   `SELECT a FROM t WHERE b = 'O''Brien supplier'`,
			want: `SELECT "a" FROM "t" WHERE "b" = 'O''Brien supplier'`,
		},
		{
			name: "cte and in lists",
			in:   `WITH base AS (SELECT a FROM t) SELECT a FROM base WHERE a IN (1, 2)`,
			want: `WITH "base" AS (SELECT "a" FROM "t") SELECT "a" FROM "base" WHERE "a" IN (1, 2)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := sqldialect.Transpile(tt.in)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got.String()); diff != "" {
				t.Fatalf("transpile mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAda_SQLDialect_Transpile_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		`select supplier_name, sum(spend) / sum(qty) as unit_price from spend where qty > 0 group by 1`,
		`SELECT "a".b, c::date FROM x.y a WHERE YEAR(TO_DATE(d, 'YYYYMMDD')) = YEAR(CURRENT_DATE)`,
		"SELECT `weird``name` FROM t",
		`SELECT EXTRACT(YEAR FROM ts), DATEADD(day, 1, CURRENT_DATE), INTERVAL '3' MONTH FROM t`,
		`SELECT count(*) FROM (SELECT DISTINCT supplier FROM t) sub`,
	}
	for _, in := range inputs {
		once, err := sqldialect.Transpile(in)
		require.NoError(t, err, in)
		twice, err := sqldialect.Transpile(once.String())
		require.NoError(t, err, in)
		require.Equal(t, once.String(), twice.String(), in)
	}
}

func TestAda_SQLDialect_Transpile_Errors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"   ",
		"SELECT a FROM t WHERE b = 'open",
		`SELECT "a FROM t`,
		"SELECT (a FROM t",
		"SELECT a) FROM t",
		"SELECT 1; DROP TABLE t",
		"SELECT /* unterminated",
	} {
		_, err := sqldialect.Transpile(in)
		require.Error(t, err, in)
	}
}

func TestAda_SQLDialect_Clean(t *testing.T) {
	t.Parallel()

	require.Equal(t, "SELECT 1", sqldialect.Clean("```sql\nSELECT 1;\n```"))
	require.Equal(t, "SELECT 1", sqldialect.Clean("```\nSELECT 1\n```"))
	require.Equal(t, "SELECT 1", sqldialect.Clean("  SELECT 1;; "))
	require.Equal(t, "SELECT a FROM t", sqldialect.Clean("```SELECT a FROM t```"))
}

func TestAda_SQLDialect_RemoveLimit(t *testing.T) {
	t.Parallel()

	require.Equal(t, `SELECT a FROM t ORDER BY a`, sqldialect.RemoveLimit(`SELECT a FROM t ORDER BY a LIMIT 10`))
	require.Equal(t, `SELECT a FROM (SELECT a FROM t LIMIT 5) s`, sqldialect.RemoveLimit(`SELECT a FROM (SELECT a FROM t LIMIT 5) s`))
	require.Equal(t, `SELECT a FROM t LIMIT 5 OFFSET 2`, sqldialect.RemoveLimit(`SELECT a FROM t LIMIT 5 OFFSET 2`))
}
