package cli_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/ada/bootstrap"
	"github.com/malbeclabs/ada/bootstrap/cli"
	"github.com/malbeclabs/ada/config"
)

func run(t *testing.T, vars map[string]string, args ...string) (bootstrap.ExitCode, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := cli.Execute(context.Background(), args, cli.Env{
		Getenv: func(k string) string { return vars[k] },
		Stdout: &out,
		Stderr: &errOut,
	})
	return code, out.String()
}

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range []string{"acme/spend/Top_5_suppliers.sql", "acme/spend/Spend_on_valves.sql", "globex/savings/Savings.sql"} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("SELECT 1"), 0o644))
	}
	return root
}

func closedPort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return strconv.Itoa(port)
}

func TestAda_Bootstrap_CLI_DryRun(t *testing.T) {
	t.Parallel()

	code, out := run(t, map[string]string{config.EnvExamples: writeTree(t)}, "deploy", "--dry-run")
	require.Equal(t, bootstrap.ExitSuccess, code)
	require.Contains(t, out, "acme")
	require.Contains(t, out, "globex")
	require.Contains(t, out, "savings")
}

func TestAda_Bootstrap_CLI_ConfigErrors(t *testing.T) {
	t.Parallel()

	code, _ := run(t, nil, "deploy")
	require.Equal(t, bootstrap.ExitConfig, code)

	code, _ = run(t, nil, "deploy", "--root", filepath.Join(t.TempDir(), "missing"))
	require.Equal(t, bootstrap.ExitConfig, code)

	code, _ = run(t, map[string]string{config.EnvExamples: t.TempDir()}, "deploy", "--dry-run")
	require.Equal(t, bootstrap.ExitConfig, code, "empty tree")

	code, _ = run(t, map[string]string{config.EnvExamples: writeTree(t)}, "deploy")
	require.Equal(t, bootstrap.ExitConfig, code, "missing store settings")

	code, _ = run(t, nil, "deploy", "--no-such-flag")
	require.Equal(t, bootstrap.ExitConfig, code)

	code, _ = run(t, map[string]string{config.EnvRedisPort: "nope"}, "queue-status")
	require.Equal(t, bootstrap.ExitConfig, code)
}

func TestAda_Bootstrap_CLI_Connectivity(t *testing.T) {
	t.Parallel()

	vars := map[string]string{
		config.EnvExamples:     writeTree(t),
		config.EnvRedisHost:    "127.0.0.1",
		config.EnvRedisPort:    closedPort(t),
		config.EnvQdrantHost:   "127.0.0.1",
		config.EnvOpenAIAPIKey: "sk-test",
	}
	code, _ := run(t, vars, "deploy")
	require.Equal(t, bootstrap.ExitConnectivity, code)

	code, _ = run(t, vars, "queue-status")
	require.Equal(t, bootstrap.ExitConnectivity, code)
}

func TestAda_Bootstrap_CLI_QueueStatus(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	mr.Select(2)
	_, err := mr.Lpush("celery", "task-1")
	require.NoError(t, err)
	_, err = mr.Lpush("celery", "task-2")
	require.NoError(t, err)
	_, err = mr.Lpush("unacked", "task-0")
	require.NoError(t, err)

	code, out := run(t, map[string]string{
		config.EnvRedisHost: "127.0.0.1",
		config.EnvRedisPort: mr.Port(),
	}, "queue-status", "--db", "1,2")
	require.Equal(t, bootstrap.ExitSuccess, code)
	require.Contains(t, out, "celery")
	require.Regexp(t, `\|\s*2\s*\|\s*2\s*\|\s*1\s*\|\s*3\s*\|`, out)
	require.Regexp(t, `\|\s*1\s*\|\s*0\s*\|\s*0\s*\|\s*0\s*\|`, out)
}
