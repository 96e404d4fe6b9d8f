// Package cmd implements the codexola command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log/v2"
	"github.com/spf13/cobra"

	"github.com/codexola/codexola/internal/app"
	"github.com/codexola/codexola/internal/config"
	applog "github.com/codexola/codexola/internal/log"
	"github.com/codexola/codexola/internal/server"
	"github.com/codexola/codexola/internal/version"
)

var serverHost string

func init() {
	rootCmd.PersistentFlags().StringP("data-dir", "D", "", "Custom codexola data directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.Flags().StringVarP(&serverHost, "host", "H", server.DefaultHost(), "Server host (TCP or Unix socket)")
}

var rootCmd = &cobra.Command{
	Use:   "codexola",
	Short: "Orchestrator for codex agent sessions",
	Long: `Codexola manages codex app-server processes across workspaces: it spawns
and supervises them, relays their events, and tracks token usage over a
sliding 24 hour window.`,
	Example: `
	# Start the server on the default local socket
	codexola

	# Start with debug logging
	codexola -d

	# Start on a TCP address
	codexola -H tcp://127.0.0.1:7878

	# Show the current usage window
	codexola usage
  `,
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		dataDir = config.DataDir(dataDir)

		if debug {
			logger := log.New(os.Stderr)
			logger.SetReportTimestamp(true)
			logger.SetLevel(log.DebugLevel)
			slog.SetDefault(slog.New(logger))
			slog.SetLogLoggerLevel(slog.LevelDebug)
		} else {
			applog.Setup(config.LogPath(dataDir), false)
		}

		hostURL, err := server.ParseHostURL(serverHost)
		if err != nil {
			return fmt.Errorf("invalid server host: %v", err)
		}

		a, err := app.New(dataDir)
		if err != nil {
			return fmt.Errorf("failed to initialize: %v", err)
		}
		defer a.Shutdown()

		srv := server.NewServer(a, hostURL.Scheme, hostURL.Host)
		srv.SetLogger(slog.Default())
		slog.Info("Starting codexola server...", "addr", serverHost, "data_dir", dataDir)

		errch := make(chan error, 1)
		sigch := make(chan os.Signal, 1)
		sigs := []os.Signal{os.Interrupt}
		sigs = append(sigs, addSignals(sigs)...)
		signal.Notify(sigch, sigs...)

		go func() {
			errch <- srv.ListenAndServe()
		}()

		select {
		case <-sigch:
			slog.Info("Received interrupt signal...")
		case err = <-errch:
			if err != nil && !errors.Is(err, server.ErrServerClosed) {
				_ = srv.Close()
				slog.Error("Server error", "error", err)
				return fmt.Errorf("server error: %v", err)
			}
		}

		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		slog.Info("Shutting down...")

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown server", "error", err)
			return fmt.Errorf("failed to shutdown server: %v", err)
		}

		return nil
	},
}

func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version.Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
