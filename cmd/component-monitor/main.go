package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/schaermu/component-monitor/internal/config"
	"github.com/schaermu/component-monitor/internal/logging"
	"github.com/schaermu/component-monitor/internal/monitor"
	"github.com/schaermu/component-monitor/internal/reconcile"
	"github.com/schaermu/component-monitor/internal/systemd"
	"github.com/schaermu/component-monitor/internal/watch"
)

const identifier = "component-monitor"

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile      string
	debug        bool
	logFormat    string
	watchBackend string

	// exit is replaced in tests.
	exit = os.Exit
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "component-monitor [SENTINEL_PATH] [TARGET]",
	Short: "Mirror a directory into a target once its sentinel file is written",
	Long: `component-monitor watches the directory containing SENTINEL_PATH. Whenever the
sentinel file is written with new content, TARGET is emptied and refilled with
a copy of that directory, the sentinel being copied last. When the sentinel is
deleted, TARGET is emptied.

Arguments fall back to COMPONENT_SENTINEL_PATH and COMPONENT_TARGET.`,
	Args:         cobra.MaximumNArgs(2),
	SilenceUsage: true,
	RunE:         runMonitor,
}

var checkCmd = &cobra.Command{
	Use:   "check [SENTINEL_PATH] [TARGET]",
	Short: "Validate the configuration and print the resolved paths",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", identifier, version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("COMPONENT_CONFIG"), "optional YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "turn on debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (auto, text, json, journal)")
	rootCmd.PersistentFlags().StringVar(&watchBackend, "watch-backend", "", "watch backend (inotify, fsnotify)")

	// Add commands
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig layers positional arguments and explicitly set flags over the
// config file and environment.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	overrides := map[string]any{}
	if len(args) > 0 {
		overrides["sentinel_path"] = args[0]
	}
	if len(args) > 1 {
		overrides["target"] = args[1]
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		overrides["debug"] = debug
	}
	if flags.Changed("log-format") {
		overrides["log.format"] = logFormat
	}
	if flags.Changed("watch-backend") {
		overrides["watch.backend"] = watchBackend
	}

	return config.Load(config.LoadOptions{File: cfgFile, Overrides: overrides})
}

func setupLogger(cfg *config.Config, out io.Writer) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Debug:      cfg.Debug,
		Format:     cfg.LogFormat(),
		Output:     out,
		Identifier: identifier,
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	paths, err := cfg.Resolve()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "source:   %s\n", paths.Source)
	fmt.Fprintf(out, "sentinel: %s\n", paths.Sentinel)
	fmt.Fprintf(out, "target:   %s\n", paths.Target)
	fmt.Fprintf(out, "backend:  %s\n", cfg.WatchBackend())
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := setupLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	paths, err := cfg.Resolve()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	listenForShutdown(logger)

	monitorLogger := logging.Monitor(logger)
	watcher, err := watch.New(cfg.WatchBackend(), paths.Source)
	if err != nil {
		logger.Error("failed to watch source directory", "error", err)
		return err
	}
	monitorLogger.Debug("watching source directory", "path", paths.Source, "backend", cfg.WatchBackend())

	return run(cmd.Context(), paths, watcher, logger)
}

// run performs the startup populate and then dispatches events until a fatal
// error occurs or ctx is cancelled.
func run(ctx context.Context, paths config.Paths, watcher watch.Watcher, logger *slog.Logger) error {
	reconciler := reconcile.New(afero.NewOsFs(), paths.Source, paths.Sentinel, paths.Target, logging.Files(logger))

	if _, err := reconciler.Populate(); err != nil {
		_ = watcher.Close()
		logger.Error("initial populating failed", "error", err)
		return fmt.Errorf("initial populating failed: %w", err)
	}

	systemd.Ready(logger)
	systemd.Status(logger, "monitoring "+paths.Source)

	dispatcher := monitor.NewDispatcher(watcher, paths.Sentinel, reconciler, logging.Monitor(logger))
	if err := dispatcher.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("sentinel monitoring failed: %w", err)
	}
	return nil
}

// listenForShutdown exits the process on SIGINT or SIGTERM without waiting
// for in-flight work.
func listenForShutdown(logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		systemd.Stopping(logger)
		exit(0)
	}()
}
