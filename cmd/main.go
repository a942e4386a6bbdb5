package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opswatch/pkg/logger"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "opswatch",
		Short:        "Operational telemetry and alerting for AI inference backends",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("CONFIG_PATH", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or config/config.yaml)")

	root.AddCommand(newServeCmd(), newEvaluateCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the prober, sampler and evaluator jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
	return cmd
}

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run one alert evaluation pass against the store and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication()
			if err := app.Initialize(app.evaluateSteps()); err != nil {
				return err
			}
			defer app.Shutdown(10 * time.Second)

			if err := app.evaluator.Tick(cmd.Context()); err != nil {
				return err
			}
			alerts, err := app.mysqlRepo.Alert.ListUnresolved(cmd.Context(), 0, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d unresolved alerts\n", len(alerts))
			for _, a := range alerts {
				fmt.Fprintf(out, "  [%d] %-8s %s\n", a.Severity, a.AlertType, a.Title)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func serve(shutdownTimeout time.Duration) error {
	// Create application instance
	app := NewApplication()

	// Initialize all components
	if err := app.Initialize(app.serveSteps()); err != nil {
		return fmt.Errorf("application initialization failed: %w", err)
	}

	// Start all components
	if err := app.Start(); err != nil {
		return fmt.Errorf("application startup failed: %w", err)
	}

	// Wait for exit signal
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	logger.InfoCtx(app.ctx, "Received exit signal")

	// Graceful shutdown
	if err := app.Shutdown(shutdownTimeout); err != nil {
		return fmt.Errorf("application shutdown failed: %w", err)
	}

	logger.InfoCtx(app.ctx, "Application safely exited")
	return nil
}
