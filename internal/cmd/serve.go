package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/appid"
	"github.com/xwander/tablewright/internal/config"
	"github.com/xwander/tablewright/internal/core/client"
	"github.com/xwander/tablewright/internal/core/store"
	errwrap "github.com/xwander/tablewright/internal/errors"
	"github.com/xwander/tablewright/internal/observability"
	"github.com/xwander/tablewright/internal/server"
	"github.com/xwander/tablewright/internal/server/handlers"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	pruneInterval          = time.Hour
)

var (
	serverPort int
	serverHost string
)

func telemetryReady(context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the automation HTTP server",
	Long: `Start the HTTP server that exposes formulas, schema, record queries,
bulk runs and the run journal under /v1, next to the health probes.

All requests share one client, so every caller draws from the same per-base
rate limiters. With a journal retention set, runs older than it are pruned
every hour.

Signals:
  SIGINT, SIGTERM   graceful shutdown (twice within 2s forces quit)
  SIGHUP            re-read the config file; restart to apply client settings`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		identity := appid.Get()
		if err := initServerObservability(ctx, cfg, identity); err != nil {
			return err
		}
		logger := observability.ServerLogger

		hm := handlers.InitHealthManager(appid.CurrentBuild().Version)
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", handlers.CheckFunc(telemetryReady))
		}
		if cfg.API.Token == "" {
			logger.Warn("No API token configured; upstream calls will fail authentication")
			hm.RegisterChecker("credentials", handlers.CheckFunc(func(context.Context) error {
				return handlers.Degraded(errwrap.NewInvalidInputError("api.token is not set"))
			}))
		}

		api, journal := buildAPI(ctx, cfg, hm)
		if journal != nil && cfg.Journal.Retention > 0 {
			go pruneJournal(ctx, journal, cfg.Journal.Retention)
		}

		srv := server.New(cfg.Server.Host, cfg.Server.Port,
			server.WithAPI(api),
			server.WithTimeouts(server.Timeouts{
				Read:  cfg.Server.ReadTimeout,
				Write: cfg.Server.WriteTimeout,
				Idle:  cfg.Server.IdleTimeout,
			}))
		handlers.SetAppIdentity(identity)

		registerLifecycle(srv, journal, cfg.Server.ShutdownTimeout, cancel)
		hm.MarkStarted()

		errCh := make(chan error, 2)
		go func() {
			logger.Info("Starting HTTP server",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port),
				zap.Bool("journal", journal != nil))
			err := srv.Start()
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errCh <- err
		}()
		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errCh <- err
			}
		}()

		if err := <-errCh; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}
		return nil
	},
}

// initServerObservability switches to the structured server logger and,
// when enabled, starts the Prometheus exporter.
func initServerObservability(ctx context.Context, cfg *config.Config, identity appid.Identity) error {
	namespace := identity.Vendor
	observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)

	metricsPort := cfg.Metrics.Port
	if metricsPort == 0 {
		metricsPort = observability.DefaultMetricsPort
	}
	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
			observability.ServerLogger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	}

	observability.ServerLogger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", appid.CurrentBuild().Version),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Int("metrics_port", metricsPort))
	return nil
}

// buildAPI wires the shared records client and, when enabled, the run journal.
// A journal that cannot be opened is logged and skipped.
func buildAPI(ctx context.Context, cfg *config.Config, hm *handlers.HealthManager) (*handlers.API, *store.Store) {
	opts := []client.Option{client.WithLogger(observability.ServerLogger)}
	api := &handlers.API{MergeOn: cfg.Batch.MergeOn}

	var journal *store.Store
	if cfg.Journal.Enabled {
		st, err := openStore(ctx, cfg)
		if err != nil {
			observability.ServerLogger.Warn("Run journal unavailable, serving without it", zap.Error(err))
		} else {
			journal = st
			opts = append(opts, client.WithJournal(journal))
			api.Runs = journal
			hm.RegisterChecker("journal", handlers.CheckFunc(journal.CheckHealth))
		}
	}

	api.Backend = client.New(clientConfig(cfg), opts...)
	return api, journal
}

// registerLifecycle installs the signal handlers. Shutdown handlers run in
// reverse registration order: server first, journal next, logger last.
func registerLifecycle(srv *server.Server, journal *store.Store, timeout time.Duration, stop context.CancelFunc) {
	logger := observability.ServerLogger
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	signals.OnShutdown(func(ctx context.Context) error {
		if err := logger.Sync(); err != nil {
			// stderr may already be closed
			logger.Debug("Logger sync returned error", zap.Error(err))
		}
		return nil
	})

	if journal != nil {
		signals.OnShutdown(func(ctx context.Context) error {
			if err := journal.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "journal close failed")
			}
			return nil
		})
	}

	signals.OnShutdown(func(ctx context.Context) error {
		stop()
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}
		logger.Info("HTTP server stopped")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		err := viper.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			logger.Info("SIGHUP: no config file, using defaults and environment")
			return nil
		case err != nil:
			logger.Error("SIGHUP: config re-read failed", zap.String("file", viper.ConfigFileUsed()), zap.Error(err))
			return errwrap.WrapInvalidInput(ctx, err, "config reload failed")
		}
		if _, err := loadConfig(); err != nil {
			return errwrap.WrapValidationError(ctx, err, "reloaded config is invalid")
		}
		logger.Info("SIGHUP: config re-read; restart to apply client settings", zap.String("file", viper.ConfigFileUsed()))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}
}

// pruneJournal deletes runs older than retention now and every pruneInterval
// until ctx ends.
func pruneJournal(ctx context.Context, journal *store.Store, retention time.Duration) {
	prune := func() {
		removed, err := journal.PruneRuns(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			observability.ServerLogger.Warn("Journal prune failed", zap.Error(err))
		case removed > 0:
			observability.ServerLogger.Info("Journal pruned", zap.Int64("runs", removed), zap.Duration("retention", retention))
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
