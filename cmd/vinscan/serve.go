package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vinscan-service/internal/config"
	"vinscan-service/internal/db"
	"vinscan-service/internal/http"
	"vinscan-service/internal/registry"
	"vinscan-service/internal/repository"
	"vinscan-service/internal/scan"
	"vinscan-service/internal/service"
	"vinscan-service/internal/settings"
)

func newServeCmd() *cobra.Command {
	var presetsPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the VIN scanning API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd)
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			presets, err := settings.Load(presetsPath)
			if err != nil {
				return fmt.Errorf("loading presets: %w", err)
			}

			gormDB, err := db.Connect(cfg.Database.DSN, log)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}

			repo := repository.NewScanRepository(gormDB)
			reg := registry.NewClient(cfg.Registry.BaseURL, log)
			scanService := service.NewScanService(repo, reg, log)
			manager := scan.NewManager(time.Duration(cfg.Scan.SessionRetentionMinutes)*time.Minute, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go manager.RunJanitor(ctx, time.Minute)

			handler := http.NewHandler(scanService, manager, presets, reg, cfg, log)
			router := http.NewRouter(handler, cfg.Server.CORSOrigins, cfg.Auth.JWTSecret, log)

			srv := &nethttp.Server{
				Addr:    cfg.Server.Addr,
				Handler: router,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			manager.CancelAll()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&presetsPath, "presets", "", "path to a presets YAML file")
	return cmd
}
