// -- cmd/serve.go --
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/analytics"
	"github.com/xkilldash9x/capgraph/internal/cache"
	"github.com/xkilldash9x/capgraph/internal/config"
	"github.com/xkilldash9x/capgraph/internal/graph"
	"github.com/xkilldash9x/capgraph/internal/ingest"
	"github.com/xkilldash9x/capgraph/internal/observability"
	"github.com/xkilldash9x/capgraph/internal/orchestrator"
	"github.com/xkilldash9x/capgraph/internal/server"
	"github.com/xkilldash9x/capgraph/internal/snapshot"
	"github.com/xkilldash9x/capgraph/internal/validator"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the ingestion pipeline and the analytics query service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := observability.GetLogger()
			defer observability.Sync()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if cfg.Server.AuthSecret == "" {
				return fmt.Errorf("server.auth_secret is required (set CAPGRAPH_AUTH_SECRET)")
			}

			store, err := newSnapshotStore(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to open snapshot store: %w", err)
			}
			defer store.Close()

			queue, err := ingest.NewQueue(cfg.Ingest.QueueCapacity, cfg.Ingest.Policy, logger)
			if err != nil {
				return err
			}

			engine := graph.NewEngine(cfg.Graph, logger)
			resultCache := cache.New(cfg.Cache, logger)
			calc := analytics.New(cfg.Analytics, logger)

			orch, err := orchestrator.New(cfg, logger, engine, queue, resultCache, store)
			if err != nil {
				return err
			}
			if err := orch.Recover(ctx); err != nil {
				return fmt.Errorf("recovery failed: %w", err)
			}

			srv := server.New(cfg.Server, cfg.Analytics.ComputationTimeout, server.Deps{
				Engine:    engine,
				Calc:      calc,
				Cache:     resultCache,
				Snapshots: store,
				Queue:     queue,
				Validator: validator.New(cfg.Ingest.ClockSkew, logger),
			}, logger)

			logger.Info("Engine online",
				zap.String("addr", cfg.Server.Addr),
				zap.Uint64("version", engine.Latest().Version),
				zap.String("snapshot_backend", cfg.Snapshot.Backend),
			)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return orch.Run(ctx)
			})
			g.Go(func() error {
				return srv.ListenAndServe()
			})
			g.Go(func() error {
				<-ctx.Done()
				return srv.Shutdown(context.Background())
			})
			return g.Wait()
		},
	}

	serveCmd.Flags().String("addr", "", "listen address for the query service (overrides config)")
	return serveCmd
}

// newSnapshotStore opens the durable snapshot backend selected by the config.
func newSnapshotStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.SnapshotStore, error) {
	switch cfg.Snapshot.Backend {
	case config.SnapshotBackendPostgres:
		return snapshot.NewPostgresStore(ctx, cfg.Snapshot.Postgres, logger)
	default:
		return snapshot.NewFSStore(cfg.Snapshot.Dir, logger)
	}
}
