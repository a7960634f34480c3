package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewave-dev/codewave/internal/app"
	"github.com/codewave-dev/codewave/internal/logging"
	"github.com/codewave-dev/codewave/internal/server"
)

var (
	servePort     int
	serveHostname string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the realtime gateway server",
	Long: `Start the HTTP gateway: document synchronization endpoints,
session control, command submission and the SSE event stream.

The gateway also runs the session idle reaper. Commands submitted here
are executed by 'codewave worker' processes sharing the same data
directory.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	serverConfig := server.DefaultConfig()
	if cfg.Server != nil {
		if cfg.Server.Port > 0 {
			serverConfig.Port = cfg.Server.Port
		}
		if cfg.Server.Hostname != "" {
			serverConfig.Hostname = cfg.Server.Hostname
		}
		if cfg.Server.EnableCORS != nil {
			serverConfig.EnableCORS = *cfg.Server.EnableCORS
		}
	}
	if servePort > 0 {
		serverConfig.Port = servePort
	}
	if serveHostname != "" {
		serverConfig.Hostname = serveHostname
	}

	srv := server.New(serverConfig, a.Docs, a.Queue, a.Sessions, a.Bus)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go a.Sessions.RunReaper(reaperCtx, time.Minute)

	go func() {
		logging.Info().
			Str("hostname", serverConfig.Hostname).
			Int("port", serverConfig.Port).
			Msg("Gateway listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("Shutting down gateway")
	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Server shutdown error")
	}
	if err := a.Close(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Service shutdown error")
	}

	logging.Info().Msg("Gateway stopped")
	return nil
}
