package bootstrap_test

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/ada/bootstrap"
	"github.com/malbeclabs/ada/config"
)

func TestAda_Bootstrap_QuestionFromFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{"Top_5_suppliers_by_spend.sql", "top 5 suppliers by spend"},
		{"what's_the_spend_on_bearings.v2.sql", "whats the spend on [category]"},
		{"Marketing_Svcs_spend,_by_quarter.sql", "[category] spend by quarter"},
		{"cibc__and__valves.sql", "[category] and [category]"},
		{"no_extension", "no extension"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, bootstrap.QuestionFromFileName(tt.name, config.DefaultCategoryTokens), tt.name)
	}
	require.Equal(t, "spend on bearings", bootstrap.QuestionFromFileName("spend_on_bearings.sql", nil))
}

func TestAda_Bootstrap_LoadFS(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"acme/querystablization_rules.txt":          {Data: []byte("treat PO as purchase order")},
		"acme/spend/Top_5_suppliers.sql":            {Data: []byte("SELECT 1\n")},
		"acme/spend/notes.md":                       {Data: []byte("ignored")},
		"acme/spend/empty.sql":                      {Data: []byte("  \n")},
		"acme/savings/Savings_by_category.sql":      {Data: []byte("SELECT 2")},
		"acme/.git/config.sql":                      {Data: []byte("SELECT 3")},
		"globex/spend/Spend_on_valves.sql":          {Data: []byte("SELECT 4")},
		".hidden/spend/secret.sql":                  {Data: []byte("SELECT 5")},
		"initech/spend/nested/too_deep.sql":         {Data: []byte("SELECT 6")},
		"initech/spend/Top_vendors_this_year.q.sql": {Data: []byte("SELECT 7")},
	}
	exs, err := bootstrap.LoadFS(fsys, config.DefaultCategoryTokens)
	require.NoError(t, err)

	type row struct{ tenant, qtype, question, sql string }
	var got []row
	for _, ex := range exs {
		got = append(got, row{ex.Tenant, ex.QuestionType, ex.Question, ex.SQL})
		require.Equal(t, bootstrap.ExampleID(ex.Tenant, ex.QuestionType, ex.Path[len(ex.Tenant)+len(ex.QuestionType)+2:]), ex.ID)
	}
	require.Equal(t, []row{
		{"acme", "savings", "savings by category", "SELECT 2"},
		{"acme", "spend", "top 5 suppliers", "SELECT 1"},
		{"globex", "spend", "spend on [category]", "SELECT 4"},
		{"initech", "spend", "top vendors this year", "SELECT 7"},
	}, got)
}

func TestAda_Bootstrap_LoadFSRejectsInvalidTenant(t *testing.T) {
	t.Parallel()

	_, err := bootstrap.LoadFS(fstest.MapFS{"ac:me/spend/a.sql": {Data: []byte("SELECT 1")}}, nil)
	require.ErrorIs(t, err, bootstrap.ErrConfig)
	require.Equal(t, bootstrap.ExitConfig, bootstrap.ExitCodeFor(err))
}

func TestAda_Bootstrap_LoadMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := bootstrap.Load(t.TempDir()+"/missing", nil)
	require.ErrorIs(t, err, bootstrap.ErrConfig)
}

func TestAda_Bootstrap_ExampleIDStable(t *testing.T) {
	t.Parallel()

	a := bootstrap.ExampleID("acme", "spend", "top.sql")
	require.Equal(t, a, bootstrap.ExampleID("acme", "spend", "top.sql"))
	require.NotEqual(t, a, bootstrap.ExampleID("globex", "spend", "top.sql"))
}

func TestAda_Bootstrap_ExitCodeFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, bootstrap.ExitSuccess, bootstrap.ExitCodeFor(nil))
	require.Equal(t, bootstrap.ExitConfig, bootstrap.ExitCodeFor(bootstrap.ErrConfig))
	require.Equal(t, bootstrap.ExitConnectivity, bootstrap.ExitCodeFor(errors.Join(errors.New("dial tcp"), bootstrap.ErrConnectivity)))
	require.Equal(t, bootstrap.ExitUpstream, bootstrap.ExitCodeFor(bootstrap.ErrUpstream))
	require.Equal(t, bootstrap.ExitUpstream, bootstrap.ExitCodeFor(errors.New("boom")))
}
