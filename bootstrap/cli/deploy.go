package cli

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/ada/bootstrap"
	"github.com/malbeclabs/ada/pkg/cache"
	"github.com/malbeclabs/ada/pkg/embed"
	"github.com/malbeclabs/ada/pkg/examples"
)

type DeployCmd struct {
	env Env
}

func NewDeployCmd(env Env) *DeployCmd {
	return &DeployCmd{env: env}
}

func (c *DeployCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Embed the example tree and write it to the example index",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return fmt.Errorf("failed to get force flag: %w", err)
			}
			dryRun, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return fmt.Errorf("failed to get dry-run flag: %w", err)
			}
			skipWren, err := cmd.Flags().GetBool("skip-wren")
			if err != nil {
				return fmt.Errorf("failed to get skip-wren flag: %w", err)
			}
			root, err := cmd.Flags().GetString("root")
			if err != nil {
				return fmt.Errorf("failed to get root flag: %w", err)
			}
			collection, err := cmd.Flags().GetString("collection")
			if err != nil {
				return fmt.Errorf("failed to get collection flag: %w", err)
			}

			log, cfg, err := setup(cmd, c.env)
			if err != nil {
				return err
			}
			if root != "" {
				cfg.ExamplesDir = root
			}
			if cfg.ExamplesDir == "" {
				return fmt.Errorf("%w: EXAMPLES is required", bootstrap.ErrConfig)
			}

			exs, err := bootstrap.Load(cfg.ExamplesDir, cfg.CategoryTokens)
			if err != nil {
				return err
			}
			if len(exs) == 0 {
				return fmt.Errorf("%w: no examples found under %s", bootstrap.ErrConfig, cfg.ExamplesDir)
			}
			log.Info("bootstrap: examples loaded", "root", cfg.ExamplesDir, "count", len(exs))
			if dryRun {
				printExamples(cmd.OutOrStdout(), exs)
				return nil
			}

			if err := cfg.ValidateBootstrap(); err != nil {
				return fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
			}
			ctx := cmd.Context()

			cacheCfg := cfg.Cache(log, -1)
			if err := cacheCfg.Validate(); err != nil {
				return fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
			}
			store, err := cache.New(ctx, cacheCfg)
			if err != nil {
				return fmt.Errorf("%w: %w", bootstrap.ErrConnectivity, err)
			}
			defer store.Close()

			index, err := examples.NewQdrant(cfg.Qdrant(log))
			if err != nil {
				return fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
			}
			defer index.Close()
			if err := index.Ping(ctx); err != nil {
				return fmt.Errorf("%w: qdrant: %w", bootstrap.ErrConnectivity, err)
			}

			client, err := embed.NewClient(cfg.Embedding(log))
			if err != nil {
				return fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
			}
			embedder, err := embed.NewCached(log, client, store, 0)
			if err != nil {
				return err
			}

			deployer, err := bootstrap.NewDeployer(&bootstrap.DeployerConfig{
				Logger:     log,
				Index:      index,
				Embedder:   embedder,
				Cache:      store,
				Collection: collection,
				Force:      force,
			})
			if err != nil {
				return fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
			}
			report, err := deployer.Deploy(ctx, exs)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)

			if skipWren || cfg.WrenUIEndpoint == "" {
				return nil
			}
			wren, err := bootstrap.NewWren(&bootstrap.WrenConfig{Logger: log, Endpoint: cfg.WrenUIEndpoint})
			if err != nil {
				return fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
			}
			return wren.Deploy(ctx, true)
		},
	}

	cmd.Flags().Bool("force", false, "drop and recreate the collection before loading")
	cmd.Flags().Bool("dry-run", false, "load and list the examples without writing anything")
	cmd.Flags().Bool("skip-wren", false, "do not ask the Wren UI to redeploy its models")
	cmd.Flags().String("root", "", "example tree root (defaults to $EXAMPLES)")
	cmd.Flags().String("collection", examples.DefaultCollection, "example collection name")

	return cmd
}

func printExamples(w io.Writer, exs []bootstrap.Example) {
	counts := make(map[[2]string]int)
	for _, ex := range exs {
		counts[[2]string{ex.Tenant, ex.QuestionType}]++
	}
	keys := slices.SortedFunc(maps.Keys(counts), func(a, b [2]string) int {
		if c := cmp.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return cmp.Compare(a[1], b[1])
	})

	table := newTable(w, "TENANT", "QUESTION TYPE", "EXAMPLES")
	for _, k := range keys {
		table.Append([]string{k[0], k[1], strconv.Itoa(counts[k])})
	}
	table.Render()
}

func printReport(w io.Writer, r *bootstrap.Report) {
	table := newTable(w, "TENANT", "POINTS")
	for _, t := range slices.Sorted(maps.Keys(r.PerTenant)) {
		table.Append([]string{t, strconv.Itoa(r.PerTenant[t])})
	}
	table.SetFooter([]string{"total", strconv.FormatUint(r.Points, 10)})
	table.Render()
	fmt.Fprintf(w, "collection %s recreated=%t duration=%s\n", r.Collection, r.Recreated, r.Duration)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(header)
	return table
}

