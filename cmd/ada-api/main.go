package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/ada/agent/history"
	"github.com/malbeclabs/ada/agent/intent"
	"github.com/malbeclabs/ada/agent/pipeline"
	"github.com/malbeclabs/ada/agent/respond"
	"github.com/malbeclabs/ada/api"
	"github.com/malbeclabs/ada/api/metrics"
	"github.com/malbeclabs/ada/config"
	"github.com/malbeclabs/ada/pkg/cache"
	"github.com/malbeclabs/ada/pkg/embed"
	"github.com/malbeclabs/ada/pkg/examples"
	"github.com/malbeclabs/ada/pkg/llm"
	"github.com/malbeclabs/ada/pkg/logger"
	"github.com/malbeclabs/ada/pkg/warehouse"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr        = "0.0.0.0:8000"
	defaultMetricsAddr       = "0.0.0.0:8080"
	defaultReadHeaderTimeout = 30 * time.Second
	defaultShutdownTimeout   = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics (empty disables)")
	readHeaderTimeoutFlag := flag.Duration("read-header-timeout", defaultReadHeaderTimeout, "HTTP read header timeout")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", defaultShutdownTimeout, "Time allowed for running turns to finish on shutdown")
	turnTimeoutFlag := flag.Duration("turn-timeout", api.DefaultTurnTimeout, "Upper bound on a single turn")
	taskRetentionFlag := flag.Duration("task-retention", api.DefaultTaskRetention, "How long finished tasks stay queryable")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "CORS origins allowed to call the API")
	fetchRowsFlag := flag.Bool("fetch-rows", false, "execute the chosen SQL and return rows with the result")
	projectIDFlag := flag.String("project-id", "", "project id attached to warehouse query tags")
	forwardFlag := flag.StringToString("forward", nil, "intent=url pairs; turns with that intent are posted to url")
	flag.Parse()

	log := logger.New(*verboseFlag)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("server: received signal", "signal", sig.String())
		cancel()
	}()

	metricsServerErrCh := make(chan error, 1)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
				return
			}
		}()
	}

	store, err := cache.New(ctx, cfg.Cache(log, -1))
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer store.Close()

	exec, err := warehouse.NewSnowflake(ctx, cfg.Warehouse(log))
	if err != nil {
		return fmt.Errorf("failed to connect to snowflake: %w", err)
	}
	defer exec.Close()

	index, err := examples.NewQdrant(cfg.Qdrant(log))
	if err != nil {
		return fmt.Errorf("failed to create qdrant client: %w", err)
	}
	defer index.Close()

	embedClient, err := embed.NewClient(cfg.Embedding(log))
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	embedder, err := embed.NewCached(log, embedClient, store, 0)
	if err != nil {
		return err
	}

	provider, err := newProvider(log, cfg)
	if err != nil {
		return err
	}
	gateway, err := llm.NewGateway(&llm.GatewayConfig{Logger: log, Provider: provider})
	if err != nil {
		return fmt.Errorf("failed to create LLM gateway: %w", err)
	}

	var archiver history.Archiver
	if cfg.PostgresURL != "" {
		pool, err := history.NewPostgresPool(ctx, log, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()
		archiver = history.NewPostgres(log, pool)
	}
	hist, err := history.NewRedis(&history.RedisConfig{Logger: log, Cache: store, Archiver: archiver})
	if err != nil {
		return err
	}

	router, err := intent.NewRouter(&intent.Config{Logger: log, LLM: gateway})
	if err != nil {
		return err
	}

	dispatcher := respond.NewDispatcher(log)
	knowledge, err := respond.NewKnowledge(log, gateway)
	if err != nil {
		return err
	}
	dispatcher.Register(string(intent.SourceAIKnowledge), knowledge)
	for label, url := range *forwardFlag {
		label = strings.TrimSpace(label)
		if label == string(intent.DataLookup) {
			return fmt.Errorf("intent %s is answered by the pipeline and cannot be forwarded", label)
		}
		fwd, err := respond.NewForwarder(log, url, 0)
		if err != nil {
			return fmt.Errorf("invalid forward target for %s: %w", label, err)
		}
		dispatcher.Register(label, fwd)
		log.Info("server: forwarding intent", "intent", label, "url", url)
	}

	orch, err := pipeline.New(&pipeline.Config{
		Logger:    log,
		LLM:       gateway,
		Executor:  exec,
		Embedder:  embedder,
		Index:     index,
		Cache:     store,
		History:   hist,
		Router:    router,
		Responder: dispatcher,
		Schema:    pipeline.NewDirSchemaSource(log, cfg.MetadataLocation, 0),
		Rules:     pipeline.NewRulesSource(log, cfg.ExamplesDir, 0),
		ResultTTL: cfg.ResultCacheTTL,
		ProjectID: *projectIDFlag,
		FetchRows: *fetchRowsFlag,
		PoolSize:  runtime.NumCPU(),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()
	if err := orch.CheckIndex(ctx); err != nil {
		log.Warn("server: example index check failed", "error", err)
	}

	tasks, err := api.NewTaskManager(&api.TaskManagerConfig{
		Logger:      log,
		Runner:      orch,
		Retention:   *taskRetentionFlag,
		TurnTimeout: *turnTimeoutFlag,
	})
	if err != nil {
		return err
	}

	auth, err := api.NewAuthenticator(ctx, &api.AuthConfig{
		Logger:   log,
		JWKSURI:  cfg.JWKSURI,
		Audience: cfg.Audience,
		Issuer:   cfg.Issuer,
	})
	if err != nil {
		return err
	}

	handler, err := api.NewRouter(&api.Config{
		Logger:         log,
		Tasks:          tasks,
		Auth:           auth,
		AllowedOrigins: *allowedOriginsFlag,
		Health: func(ctx context.Context) error {
			return errors.Join(store.Ping(ctx), index.Ping(ctx))
		},
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", *listenAddrFlag)
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener: %w", err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeoutFlag,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		log.Info("server: listening", "address", listener.Addr().String(), "version", version)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server: shutting down", "reason", ctx.Err())
	case err := <-serverErrCh:
		log.Error("server: server error causing shutdown", "error", err)
		return err
	case err := <-metricsServerErrCh:
		log.Error("server: metrics server error causing shutdown", "error", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeoutFlag)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server: http shutdown", "error", err)
	}
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		log.Warn("server: running turns cancelled at shutdown", "error", err)
	}
	return nil
}

func newProvider(log *slog.Logger, cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		return llm.NewAnthropic(log, cfg.AnthropicAPIKey, cfg.LLMModel), nil
	default:
		p, err := llm.NewOpenAI(&llm.OpenAIConfig{
			Logger:  log,
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.LLMModel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI provider: %w", err)
		}
		return p, nil
	}
}
