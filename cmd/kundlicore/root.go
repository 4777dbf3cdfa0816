package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/kundlicore/internal/config"
	"github.com/rewired-gh/kundlicore/internal/logger"
	"github.com/rewired-gh/kundlicore/internal/storage"
	"github.com/rewired-gh/kundlicore/internal/telegram"
)

// skipConfig marks commands that run without a configuration file.
const skipConfig = "skip-config"

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kundlicore",
	Short: "Condition-tree evaluation engine for authored astrology variants.",
	Long: `kundlicore loads schema-checked variant bundles, evaluates their condition
trees against a chart snapshot, and returns the matching variants ranked by
dominance and intensity.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipConfig] == "true" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger.Init(cfg.Logging.Level, cfg.Logging.Format)
		logger.Debug("Configuration loaded from %s", cfgFile)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute adds all child commands to the root command and runs it with a
// context canceled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/kundlicore.yaml", "path to configuration file")

	rootCmd.AddCommand(validateCmd, evaluateCmd, inspectCmd, schemaCmd)
}

func openStorage() (*storage.Storage, error) {
	store, err := storage.New(cfg.Storage.MaxRuns, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func closeStorage(store *storage.Storage) {
	if err := store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

// alert sends alerts when Telegram is enabled. Delivery failures are logged,
// never returned: the alert is secondary to the error being reported.
func alert(ctx context.Context, alerts ...telegram.Alert) {
	if !cfg.Telegram.Enabled {
		logger.Debug("Telegram alerts disabled, dropping %d alert(s)", len(alerts))
		return
	}
	client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
	if err != nil {
		logger.Error("Failed to initialize Telegram client: %v", err)
		return
	}
	if err := client.Send(ctx, alerts); err != nil {
		logger.Error("Failed to send alert: %v", err)
	}
}
