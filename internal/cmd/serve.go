package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/adapters/http/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	Long: `Start the HTTP service.

In production the command exits when Redis is unreachable at startup. In
development it starts anyway and rate limits from process memory until the
store comes back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		backend, err := a.limiter.Initialize(cmd.Context())
		if err != nil {
			return err
		}

		srv := server.New(server.Config{
			Host:       a.cfg.Server.Host,
			Port:       a.cfg.Server.Port,
			AdminToken: a.cfg.Server.AdminToken,
			Mode:       a.cfg.Deployment,
			Presets:    a.cfg.RateLimit.Presets,

			TrustedProxies: a.cfg.Server.TrustedProxies,
		}, server.Deps{
			Stores:    a.connector,
			Limiter:   a.limiter,
			Inspector: a.window,
			Ledger:    a.ledger,
			Analyzer:  a.detector,
			Tokens:    a.tokens,
		}, a.logger)

		if a.cfg.Server.AdminToken == "" {
			a.logger.Warn("ADMIN_TOKEN not set, admin endpoints are disabled")
		}
		a.logger.Info("secguard ready",
			zap.String("backend", string(backend)),
			zap.String("version", versionInfo.Version),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case <-ctx.Done():
			a.logger.Info("shutdown signal received")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		}

		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("host", "", "listen host (env SERVER_HOST)")
	serveCmd.Flags().Int("port", 0, "listen port (env SERVER_PORT)")
	serveCmd.Flags().Duration("shutdown-timeout", 0, "graceful shutdown timeout (env SERVER_SHUTDOWN_TIMEOUT)")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.shutdown_timeout", serveCmd.Flags().Lookup("shutdown-timeout"))

	rootCmd.AddCommand(serveCmd)
}
