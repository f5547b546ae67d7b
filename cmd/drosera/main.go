package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CTAG07/Drosera/pkg/vocab"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configPath string
	config     *Config
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:     "drosera",
	Short:   "Schema-constrained JSON generation from a stored vocabulary",
	Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		var logLevel slog.Level
		switch strings.ToLower(config.LogLevel) {
		case "debug":
			logLevel = slog.LevelDebug
		case "info":
			logLevel = slog.LevelInfo
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		return nil
	},
	SilenceUsage: true,
}

// openStore opens the configured database and returns a ready vocabulary
// store. The caller is responsible for closing both.
func openStore() (*sql.DB, *vocab.Store, error) {
	db, err := initDB(config.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err = vocab.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to setup vocabulary schema: %w", err)
	}
	store, err := vocab.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to create vocabulary store: %w", err)
	}
	store.SetLogger(logger)
	return db, store, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to the configuration file")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(vocabCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
