package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hcen_sync/internal/config"
	"hcen_sync/internal/logger"
	"hcen_sync/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		a          app
	)

	root := &cobra.Command{
		Use:           "hcen-sync",
		Short:         "Синхронизация клинических документов между клиниками и HCEN",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			l, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Service+"-"+cmd.Name())
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a.cfg, a.logger = cfg, l
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to yaml config (env HCEN_* overrides)")

	root.AddCommand(
		newPeripheralCmd(&a),
		newCentralCmd(&a),
		newMigrateCmd(&a),
		newForceSyncCmd(&a),
	)
	return root
}

func newMigrateCmd(a *app) *cobra.Command {
	var component string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Применить схему БД компонента",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := repository.NewPool(ctx, a.cfg.DB.DSN, a.cfg.DB.MaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.Migrate(ctx, pool, component); err != nil {
				return err
			}
			a.logger.Info("schema applied", zap.String("component", component))
			return nil
		},
	}
	cmd.Flags().StringVar(&component, "component", repository.ComponentPeripheral, "peripheral|central")
	return cmd
}

// signalContext - ctx, который отменяется по SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// serve запускает HTTP-сервер в группе и останавливает его при отмене ctx.
func serve(ctx context.Context, g *errgroup.Group, a *app, r chi.Router) {
	srv := &http.Server{
		Addr:    ":" + a.cfg.HTTP.Port,
		Handler: r,
	}

	g.Go(func() error {
		a.logger.Info("http server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
}
