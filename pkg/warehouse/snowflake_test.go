package warehouse_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/ada/pkg/logger"
	"github.com/malbeclabs/ada/pkg/sqldialect"
	"github.com/malbeclabs/ada/pkg/warehouse"
)

func newMockExecutor(t *testing.T) (*warehouse.Snowflake, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return warehouse.NewSnowflakeWithDB(logger.Discard(), db, 3, 5*time.Second, 0), mock
}

func quoted(t *testing.T, sql string) sqldialect.Quoted {
	t.Helper()
	q, err := sqldialect.Transpile(sql)
	require.NoError(t, err)
	return q
}

func TestAda_Warehouse_Config(t *testing.T) {
	t.Parallel()

	cfg := &warehouse.Config{Logger: logger.Discard(), Account: "org-acct", User: "ada", Password: "p@ss", Database: "PROCUREMENT", Warehouse: "COMPUTE_WH"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "PUBLIC", cfg.Schema)
	require.Equal(t, uint(3), cfg.MaxTries)
	require.Equal(t, warehouse.DefaultMaxRows, cfg.MaxRows)
	require.Equal(t, "ada:p%40ss@org-acct/PROCUREMENT/PUBLIC?warehouse=COMPUTE_WH", cfg.DSN())

	cfg.Role = "ANALYST"
	require.Equal(t, "ada:p%40ss@org-acct/PROCUREMENT/PUBLIC?role=ANALYST&warehouse=COMPUTE_WH", cfg.DSN())

	require.ErrorContains(t, (&warehouse.Config{Logger: logger.Discard()}).Validate(), "account is required")
}

func TestAda_Warehouse_DryRun_OK(t *testing.T) {
	t.Parallel()
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`EXPLAIN USING TEXT SELECT "supplier" FROM "spend"`).
		WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow("GlobalStats: ..."))

	res := exec.Execute(context.Background(), quoted(t, "select supplier from spend"), warehouse.ExecOptions{DryRun: true})
	require.True(t, res.OK)
	require.Nil(t, res.Rows)
	require.NotEmpty(t, res.Meta.CorrelationID)
	require.Empty(t, res.Meta.ErrorKind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAda_Warehouse_DryRun_EngineError(t *testing.T) {
	t.Parallel()
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`EXPLAIN USING TEXT SELECT "supplier" FROM "spend"`).
		WillReturnError(&gosnowflake.SnowflakeError{Number: 1003, Message: "SQL compilation error: invalid identifier 'supplier'"})

	res := exec.Execute(context.Background(), quoted(t, "select supplier from spend"), warehouse.ExecOptions{DryRun: true})
	require.False(t, res.OK)
	require.Equal(t, warehouse.ErrorKindDryRun, res.Meta.ErrorKind)
	require.Equal(t, "SQL compilation error: invalid identifier 'supplier'", res.Meta.ErrorMessage)
	require.NotEmpty(t, res.Meta.CorrelationID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAda_Warehouse_TransientRetried(t *testing.T) {
	t.Parallel()
	exec, mock := newMockExecutor(t)

	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	for i := 0; i < 3; i++ {
		mock.ExpectQuery(`EXPLAIN USING TEXT SELECT 1`).WillReturnError(netErr)
	}

	res := exec.Execute(context.Background(), quoted(t, "SELECT 1"), warehouse.ExecOptions{DryRun: true})
	require.False(t, res.OK)
	require.Equal(t, warehouse.ErrorKindTransient, res.Meta.ErrorKind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAda_Warehouse_TransientThenOK(t *testing.T) {
	t.Parallel()
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`EXPLAIN USING TEXT SELECT 1`).WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")})
	mock.ExpectQuery(`EXPLAIN USING TEXT SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow("ok"))

	res := exec.Execute(context.Background(), quoted(t, "SELECT 1"), warehouse.ExecOptions{DryRun: true})
	require.True(t, res.OK)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAda_Warehouse_ExecuteRows(t *testing.T) {
	t.Parallel()
	exec, mock := newMockExecutor(t)

	mock.ExpectQuery(`SELECT "supplier", SUM("spend") FROM "spend" GROUP BY "supplier"`).
		WillReturnRows(sqlmock.NewRows([]string{"supplier", "spend"}).
			AddRow([]byte("Acme"), 100.5).
			AddRow("Globex", 42.0))

	res := exec.Execute(context.Background(), quoted(t, "select supplier, sum(spend) from spend group by supplier"), warehouse.ExecOptions{})
	require.True(t, res.OK)
	require.NotNil(t, res.Rows)
	require.Equal(t, []string{"supplier", "spend"}, res.Rows.Columns)
	require.Len(t, res.Rows.Data, 2)
	require.Equal(t, "Acme", res.Rows.Data[0][0])
	require.Equal(t, 42.0, res.Rows.Data[1][1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAda_Warehouse_ExecuteRows_Truncated(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	exec := warehouse.NewSnowflakeWithDB(logger.Discard(), db, 3, 5*time.Second, 2)

	mock.ExpectQuery(`SELECT "supplier" FROM "spend"`).
		WillReturnRows(sqlmock.NewRows([]string{"supplier"}).
			AddRow("Acme").
			AddRow("Globex").
			AddRow("Initech"))

	res := exec.Execute(context.Background(), quoted(t, "select supplier from spend"), warehouse.ExecOptions{})
	require.True(t, res.OK)
	require.True(t, res.Rows.Truncated)
	require.Equal(t, [][]any{{"Acme"}, {"Globex"}}, res.Rows.Data)
	require.NoError(t, mock.ExpectationsWereMet())

	t.Run("exactly at the cap is not truncated", func(t *testing.T) {
		t.Parallel()
		mock2db, mock2, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		t.Cleanup(func() { _ = mock2db.Close() })
		exec := warehouse.NewSnowflakeWithDB(logger.Discard(), mock2db, 3, 5*time.Second, 2)
		mock2.ExpectQuery(`SELECT "supplier" FROM "spend"`).
			WillReturnRows(sqlmock.NewRows([]string{"supplier"}).AddRow("Acme").AddRow("Globex"))

		res := exec.Execute(context.Background(), quoted(t, "select supplier from spend"), warehouse.ExecOptions{})
		require.True(t, res.OK)
		require.False(t, res.Rows.Truncated)
		require.Len(t, res.Rows.Data, 2)
	})
}

func TestAda_Warehouse_Submit_AddQuotesFailure(t *testing.T) {
	t.Parallel()
	exec, mock := newMockExecutor(t)

	q, res := warehouse.Submit(context.Background(), exec, "SELECT (a FROM t", warehouse.ExecOptions{DryRun: true})
	require.True(t, q.IsZero())
	require.False(t, res.OK)
	require.Equal(t, warehouse.ErrorKindAddQuotes, res.Meta.ErrorKind)
	require.Contains(t, res.Meta.ErrorMessage, "add_quotes failed")
	require.NoError(t, mock.ExpectationsWereMet())
}
