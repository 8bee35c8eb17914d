package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ImageSync/internal/app"
	"ImageSync/internal/config"
	"ImageSync/internal/domain"
	"ImageSync/internal/logging"
	"ImageSync/internal/usecase"
)

var (
	flagConfig      string
	flagConcurrency int
	flagLimit       int
	flagDryRun      bool
	flagVerbosity   string
)

var rootCmd = &cobra.Command{
	Use:   "imagesync",
	Short: "Synchronize catalog product images into the object store",
	Long: `imagesync enumerates catalog items with missing or dangling image
references, fetches their images from the source site, deduplicates them
against the object store and reconciles the catalog references. Safe to run
with multiple concurrent replicas.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one synchronization run and print the report as JSON",
	RunE:  runSync,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file (default: $IMAGESYNC_CONFIG)")
	runCmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "worker count (overrides config)")
	runCmd.Flags().IntVar(&flagLimit, "limit", 0, "process at most this many items (0 = unlimited)")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "enumerate pending work without locks or mutations")
	runCmd.Flags().StringVar(&flagVerbosity, "verbosity", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.AddCommand(runCmd)
}

// Execute runs the CLI and maps errors to exit codes: 0 for a completed run
// (even with per-item failures), 1 for run-fatal aborts.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagVerbosity != "" {
		cfg.Logging.Level = flagVerbosity
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	// First signal lets in-flight items finish and release their locks;
	// the orchestrator stops taking new work immediately.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, app.Options{
		Concurrency: flagConcurrency,
		Limit:       flagLimit,
		DryRun:      flagDryRun,
	}, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer application.Close()

	report, err := application.Run(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrCatalogUnavailable) || errors.Is(err, domain.ErrLockStoreUnavailable) {
			logger.Error("run aborted", "error", err)
		} else {
			logger.Error("run failed", "error", err)
		}
		return err
	}

	if writeErr := usecase.WriteReport(os.Stdout, report); writeErr != nil {
		logger.Error("report emit failed", "error", writeErr)
		return writeErr
	}

	logger.Info("run complete",
		"pending", report.Pending,
		"skipped_valid", report.SkippedValid,
		"processed", report.Processed,
		"deduplicated", report.Deduplicated,
		"skipped_locked", report.SkippedLocked,
		"failed", report.Failed,
		"inconsistent", report.Inconsistent,
	)
	return nil
}

func loadConfig() (config.Config, error) {
	if flagConfig != "" {
		return config.LoadFile(flagConfig)
	}
	return config.Load(), nil
}
