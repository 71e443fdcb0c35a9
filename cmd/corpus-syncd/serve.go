package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appconfig "github.com/khryptorgraphics/corpus-sync/internal/config"
	"github.com/khryptorgraphics/corpus-sync/internal/httpapi"
)

// serveCmd runs the adaptive sync loop and the ops HTTP surface together in
// one process, the shape a real daemon deployment uses (run alone is mostly
// useful for scripted/headless operation).
func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the adaptive sync loop alongside the ops HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}
			logger := slog.Default()

			engine, mon, local, resolver := newCore(cfg, logger)
			engine.SubscribeProgress(func(p float64) {
				logger.Info("sync progress", "fraction", p)
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := httpapi.New(httpapi.Config{
				ListenAddr:        cfg.HTTPListenAddr,
				JWTSecret:         cfg.HTTPJWTSecret,
				AllowedOrigins:    cfg.HTTPAllowedOrigins,
				AdminUser:         cfg.HTTPAdminUser,
				AdminPasswordHash: cfg.HTTPAdminPasswordHash,
			}, local, resolver, logger)

			httpSrv := &http.Server{Addr: cfg.HTTPListenAddr, Handler: srv.Handler()}
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("httpapi server stopped", "error", err)
				}
			}()

			go mon.Run(ctx, func(ctx context.Context) {
				if err := engine.RunOnce(ctx); err != nil {
					logger.Warn("sync cycle failed", "error", err)
				}
			})

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a yaml config file")
	return cmd
}
