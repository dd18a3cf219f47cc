package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediad/internal/server/api"
	"mediad/internal/server/auth"
	"mediad/internal/server/config"
	"mediad/internal/server/database"
	"mediad/internal/server/service"
	"mediad/internal/server/upload"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the media API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			slog.Info("configuration loaded",
				"port", cfg.Port,
				"max_upload_size", cfg.MaxUploadSize,
				"multipart_decoder", cfg.MultipartDecoder,
				"admin_token_configured", cfg.AdminToken != "",
			)
			if cfg.AdminToken == "" {
				slog.Warn("no admin token configured, all admin operations will be denied")
			}

			// Connect to database
			ctx := context.Background()
			db, err := database.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			// Run migrations
			if err := db.RunMigrations(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			slog.Info("database migrations complete")

			// Wire up repository, gate, decoder, and service
			repo := database.NewRepository(db)
			gate := auth.NewGate(cfg.AdminToken)
			decoder, err := upload.NewDecoder(cfg.MultipartDecoder, cfg.MaxUploadSize)
			if err != nil {
				return err
			}
			svc := service.NewMediaService(repo, gate)

			// Start the orphan auditor
			auditCtx, auditCancel := context.WithCancel(context.Background())
			auditor := service.NewOrphanAuditor(repo, cfg.AuditInterval)
			auditor.Start(auditCtx)

			// Setup HTTP router
			handler := api.NewHandler(svc, db, decoder)
			e := api.SetupRouter(handler, gate, cfg)

			// Start server in a goroutine
			go func() {
				addr := fmt.Sprintf(":%s", cfg.Port)
				slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
				if err := e.Start(addr); err != nil {
					slog.Info("server stopped", "reason", err)
				}
			}()

			// Graceful shutdown
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			sig := <-quit

			slog.Info("shutting down", "signal", sig)

			// Stop accepting new requests, finish in-flight with 30s timeout
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if err := e.Shutdown(shutdownCtx); err != nil {
				slog.Error("server forced to shutdown", "error", err)
			}

			auditCancel()
			auditor.Wait()

			slog.Info("server exited cleanly")
			return nil
		},
	}
}
