package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prguard/internal/api"
	"github.com/joescharf/prguard/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the GitHub webhook server",
	Long: `Run an HTTP server that receives GitHub webhooks on /webhook/github,
evaluates guardrails on pull request events and ingests submitted reviews.
It also serves /healthz, /metrics and a read-only run history API under
/api/v1. By default it listens on port 8080. Use --port to change it.

Deliveries are verified against webhook.secret; without one every delivery
is rejected.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the webhook server in the background",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background webhook server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background webhook server is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func stateDir() string {
	return filepath.Dir(viper.GetString("db_path"))
}

func pidFile() *daemon.PIDFile {
	return daemon.New(filepath.Join(stateDir(), "prguard-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(stateDir(), "prguard-serve.log")
}

// serverLogger logs JSON to stderr, at debug level in verbose mode.
func serverLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := serverLogger()

	secret := viper.GetString("webhook.secret")
	if secret == "" {
		ui.Warning("webhook.secret is not set: every delivery will be rejected")
	}

	p, _, err := newPipeline(pipelineOpts{})
	if err != nil {
		return err
	}
	var runs api.RunStore
	if s, err := getStore(); err == nil {
		runs = s
	}

	if err := os.MkdirAll(stateDir(), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	pf := pidFile()
	if err := pf.Claim(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	srv := api.NewServer(p, runs, secret, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("port")),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	// Accepted deliveries finish before the process exits.
	srv.Wait()
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if pid, ok := pf.Running(); ok {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"serve", "--port", fmt.Sprint(viper.GetInt("port"))}
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if verbose {
		args = append(args, "--verbose")
	}

	if dryRun {
		ui.DryRunMsg("Would start: %s %v (log %s)", exe, args, serveLogPath())
		return nil
	}

	if err := os.MkdirAll(stateDir(), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	daemon.Detach(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	// The child claims the PID file itself; record it now so status works
	// immediately.
	if err := pf.Write(child.Process.Pid); err != nil {
		return err
	}
	_ = child.Process.Release()

	ui.Success("Server started (pid %d), logging to %s", child.Process.Pid, serveLogPath())
	return nil
}

func serveStopRun() error {
	if dryRun {
		ui.DryRunMsg("Would stop the server in %s", pidFile().Path)
		return nil
	}
	if err := pidFile().Stop(10 * time.Second); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			return fmt.Errorf("server is not running")
		}
		return err
	}
	ui.Success("Server stopped")
	return nil
}

func serveStatusRun() error {
	if pid, ok := pidFile().Running(); ok {
		ui.Success("Server running (pid %d), port %d", pid, viper.GetInt("port"))
		return nil
	}
	ui.Info("Server not running")
	return nil
}
