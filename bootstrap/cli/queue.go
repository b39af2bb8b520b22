package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/malbeclabs/ada/bootstrap"
	"github.com/malbeclabs/ada/pkg/cache"
)

var defaultQueueDBs = []int{1, 2, 3}

var queueNames = []string{"celery", "unacked"}

type QueueStatusCmd struct {
	env Env
}

func NewQueueStatusCmd(env Env) *QueueStatusCmd {
	return &QueueStatusCmd{env: env}
}

func (c *QueueStatusCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue-status",
		Short: "Print the length of the worker queues in each Redis database",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbs, err := cmd.Flags().GetIntSlice("db")
			if err != nil {
				return fmt.Errorf("failed to get db flag: %w", err)
			}
			log, cfg, err := setup(cmd, c.env)
			if err != nil {
				return err
			}
			if cfg.RedisHost == "" {
				return fmt.Errorf("%w: REDIS_HOSTNAME is required", bootstrap.ErrConfig)
			}

			header := append([]string{"DB"}, queueNames...)
			table := newTable(cmd.OutOrStdout(), append(header, "TOTAL")...)
			for _, db := range dbs {
				cacheCfg := cfg.Cache(log, db)
				if err := cacheCfg.Validate(); err != nil {
					return fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
				}
				store, err := cache.New(cmd.Context(), cacheCfg)
				if err != nil {
					return fmt.Errorf("%w: %w", bootstrap.ErrConnectivity, err)
				}
				row := []string{strconv.Itoa(db)}
				var total int64
				for _, q := range queueNames {
					n := store.QueueLength(cmd.Context(), q)
					total += n
					row = append(row, strconv.FormatInt(n, 10))
				}
				_ = store.Close()
				table.Append(append(row, strconv.FormatInt(total, 10)))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntSlice("db", defaultQueueDBs, "Redis databases to inspect")

	return cmd
}
