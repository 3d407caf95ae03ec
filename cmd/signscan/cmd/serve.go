package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/signscan/internal/config"
	"github.com/MeKo-Tech/signscan/internal/server"
	"github.com/MeKo-Tech/signscan/internal/version"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP scan API",
	Long: `Start an HTTP server for the web client.

Endpoints:
  GET  /               status message
  GET  /health         health check
  POST /scan           scan a crop of an uploaded page image (also /process-image)
  POST /scan/pdf       scan a crop of one page of an uploaded scanned PDF
  GET  /ws/scan        WebSocket scans with streamed progress
  POST /export/csv     convert sign records to CSV
  POST /upload/bidx    upload sign records to BidX
  GET  /recent         recently scanned files
  GET  /metrics        Prometheus metrics

Examples:
  signscan serve
  signscan serve --port 8080
  signscan serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		applyServeFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		logger := slog.Default()
		p, store, err := buildPipeline(ctx, &cfg, logger)
		if err != nil {
			return err
		}

		rl := cfg.Server.RateLimit
		scanServer, err := server.NewServer(server.Config{
			Host:        cfg.Server.Host,
			Port:        cfg.Server.Port,
			CORSOrigin:  cfg.Server.CORSOrigin,
			MaxUploadMB: int64(cfg.Server.MaxUploadMB),
			TimeoutSec:  cfg.Server.TimeoutSec,
			Pipeline:    p,
			Policy:      cfg.InFlightPolicy(),
			RateLimit: server.RateLimitConfig{
				Enabled:           rl.Enabled,
				RequestsPerMinute: rl.RequestsPerMinute,
				Burst:             rl.Burst,
				RequestsPerDay:    rl.RequestsPerDay,
			},
			BidX:    cfg.BidXClient(),
			Recent:  store,
			Logger:  logger,
			Version: version.Version,
		})
		if err != nil {
			_ = p.Close()
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		scanServer.SetupRoutes(mux)

		timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			// Scans may wait for OCR and refinement before writing.
			WriteTimeout: timeout + 5*time.Second,
		}

		go func() {
			logger.Info("Starting scan server", "host", cfg.Server.Host, "port", cfg.Server.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		logger.Info("Starting graceful shutdown", "timeout", shutdownTimeout)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		if err := scanServer.Close(); err != nil {
			logger.Error("Server cleanup error", "error", err)
		}
		logger.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("inflight-policy", "reject", "what to do with a second scan from a client while one runs: reject or supersede")
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("rate-limit-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("rate-limit-burst", 10, "request burst per client")
	serveCmd.Flags().Int("rate-limit-per-day", 1000, "maximum requests per day per client")
}

// applyServeFlags overlays explicitly set flags on cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("inflight-policy") {
		cfg.Pipeline.InFlightPolicy, _ = f.GetString("inflight-policy")
	}
	if f.Changed("rate-limit-enabled") {
		cfg.Server.RateLimit.Enabled, _ = f.GetBool("rate-limit-enabled")
	}
	if f.Changed("rate-limit-per-minute") {
		cfg.Server.RateLimit.RequestsPerMinute, _ = f.GetInt("rate-limit-per-minute")
	}
	if f.Changed("rate-limit-burst") {
		cfg.Server.RateLimit.Burst, _ = f.GetInt("rate-limit-burst")
	}
	if f.Changed("rate-limit-per-day") {
		cfg.Server.RateLimit.RequestsPerDay, _ = f.GetInt("rate-limit-per-day")
	}
}
