// Package cmd defines the partswatch CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partswatch/partswatch/internal/cache"
	"github.com/partswatch/partswatch/internal/config"
	"github.com/partswatch/partswatch/internal/extract"
	"github.com/partswatch/partswatch/internal/identity"
	"github.com/partswatch/partswatch/internal/logging"
	"github.com/partswatch/partswatch/internal/metrics"
	"github.com/partswatch/partswatch/internal/notify"
	"github.com/partswatch/partswatch/internal/store/postgres"
)

var cfgFile string

// appKeyType keys the wired application in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app bundles the long-lived services shared by the subcommands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *postgres.Store
	pool     *identity.Pool
	registry *extract.Registry
	cache    *cache.Cache
	notifier notify.Notifier
}

func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", zap.Error(err))
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("notifier close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}

// newApp wires the services. A variable so tests can substitute a fake.
var newApp = func(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	st, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	pool := identity.NewPool(identity.Config{
		RotationInterval: cfg.RotationInterval(),
		ProbeTimeout:     cfg.ProbeTimeout(),
		ProbeURLs:        cfg.Identity.ProbeURLs,
		UserAgents:       cfg.Identity.UserAgents,
		Strategy:         cfg.Identity.RotationStrategy,
	}, logger)
	if len(cfg.Identity.Proxies) > 0 {
		pool.Validate(ctx, cfg.Identity.Proxies)
	}

	resultCache, err := cache.New(cache.Config{
		Backend:      cfg.Cache.Backend,
		RedisAddr:    cfg.Cache.RedisAddr,
		RedisDB:      cfg.Cache.RedisDB,
		MemcacheAddr: cfg.Cache.MemcacheAddr,
		MemorySize:   cfg.Cache.MemorySize,
		DefaultTTL:   cfg.CacheTTL(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	notifier, err := notify.New(notify.Config{
		Backend:   cfg.Notify.Backend,
		RedisAddr: cfg.Notify.RedisAddr,
		Channel:   cfg.Notify.Channel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		pool:     pool,
		registry: extract.NewRegistry(),
		cache:    resultCache,
		notifier: notifier,
	}, nil
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partswatch",
		Short: "Automotive-parts price monitoring pipeline",
		Long: `partswatch crawls automotive-parts storefronts, resolves listings into
a canonical product catalog and reduces price observations into daily
summaries, trends and alerts.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app); ok && a != nil {
				a.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newAggregateCmd())
	return cmd
}

// Execute runs the CLI. Crawl drops and skipped sites exit zero; aborted or
// failed runs exit one.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "partswatch: %v\n", err)
		os.Exit(1)
	}
}
