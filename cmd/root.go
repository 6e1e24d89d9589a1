package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cxl-sched/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	} else {
		// Try to load from the application directory
		if execPath, err := os.Executable(); err == nil {
			appDir := filepath.Dir(execPath)
			envFile = filepath.Join(appDir, ".env")
			if _, err := os.Stat(envFile); err == nil {
				if err := godotenv.Load(envFile); err != nil {
					logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
				} else {
					logger.WithField("file", envFile).Debug("Loaded environment variables")
				}
			}
		}
	}
}

func newRootCommand() *cobra.Command {
	var logLevel string
	var opts runOptions

	rootCmd := &cobra.Command{
		Use:           "cxl-sched",
		Short:         "Bandwidth-aware scheduling policy engine",
		Long:          "Runs the CXL bandwidth-aware scheduling policy against live hardware counters or a recorded trace",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
				opts.logLevelOverride = logLevel
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd.Context(), opts)
		},
	}

	var validateTrace string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a scheduler configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(opts.configFile, validateTrace)
		},
	}

	runCmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to scheduler configuration file")
	runCmd.Flags().StringVar(&opts.traceFile, "trace", "", "Replay a recorded trace instead of running live")
	runCmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop a live run after this long (0 = until interrupted)")
	runCmd.MarkFlagRequired("config")

	validateCmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to scheduler configuration file")
	validateCmd.Flags().StringVar(&validateTrace, "trace", "", "Also validate a trace file")
	validateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	return rootCmd
}

// Execute runs the command line interface.
func Execute() error {
	loadEnvironment()
	return newRootCommand().Execute()
}

// since returns monotonic nanoseconds elapsed from start, never zero.
func since(start time.Time) uint64 {
	return uint64(time.Since(start).Nanoseconds()) + 1
}
