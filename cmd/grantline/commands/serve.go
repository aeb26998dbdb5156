package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grantline/grantline/pkg/cloud"
	"github.com/grantline/grantline/pkg/config"
	"github.com/grantline/grantline/pkg/notify"
	"github.com/grantline/grantline/pkg/orchestrator"
	"github.com/grantline/grantline/pkg/provision"
	"github.com/grantline/grantline/pkg/server"
	"github.com/grantline/grantline/pkg/stores"
	"github.com/grantline/grantline/pkg/telemetry"
)

func newServeCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator API server and deployment queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), version)
		},
	}
}

// runServe is the composition root: it wires the store, queue, provisioners,
// notifier, and API server, then blocks until the context is cancelled.
func runServe(ctx context.Context, version string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	if err := metrics.Serve(); err != nil {
		return fmt.Errorf("failed to start metrics endpoint: %w", err)
	}

	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Environment)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	retry := orchestrator.NewExecutor(cfg.Queue.RetryPolicy())
	retry.OnRetry = func(operation string, attempt int, delay time.Duration) {
		metrics.RecordRetry(operation)
		logger.WithField("operation", operation).
			WithField("attempt", attempt).
			WithField("delay", delay.String()).
			Warn("throttled, retrying")
	}

	broker := cloud.NewBroker(retry)
	notifier := notify.NewStatusNotifier(store, metrics, logger)

	provisioners := map[stores.ResourceType]orchestrator.Provisioner{
		stores.ResourceTypeRole:          provision.NewRoleProvisioner(store, broker, retry, logger),
		stores.ResourceTypePermissionSet: provision.NewPermissionSetProvisioner(store, retry, logger),
	}

	queue := orchestrator.NewQueue(store, notifier, provisioners, logger,
		orchestrator.WithCooldown(cfg.Queue.Cooldown),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTracer(tracer),
	)
	if err := queue.Start(ctx); err != nil {
		return err
	}

	srv := server.New(cfg.Server, store, queue, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("http shutdown failed")
		}
		_ = metrics.Shutdown(shutdownCtx)
		_ = tracer.Shutdown(shutdownCtx)
	}()

	if err := srv.Start(); err != nil {
		return err
	}

	// Let the in-flight deployment finish before exiting.
	<-queue.Done()
	return nil
}
