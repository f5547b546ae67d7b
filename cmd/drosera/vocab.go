package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var vocabCmd = &cobra.Command{
	Use:   "vocab",
	Short: "Manage the stored vocabulary",
}

var vocabInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the vocabulary database and seed basic tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			store.Close()
			_ = db.Close()
		}()

		if err = store.EnsureBasics(cmd.Context()); err != nil {
			return fmt.Errorf("failed to seed basic tokens: %w", err)
		}
		logger.Info("Vocabulary initialized")
		return nil
	},
}

var vocabIngestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a text corpus into the vocabulary",
	Long: `Ingest tokenizes a text corpus and merges its word and punctuation
tokens into the vocabulary with frequency counts. With no argument, or
with "-", the corpus is read from standard input.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if len(args) == 1 && args[0] != "-" {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open corpus file: %w", err)
			}
			defer func() {
				_ = file.Close()
			}()
			in = file
		}

		db, store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			store.Close()
			_ = db.Close()
		}()

		if err = store.Ingest(cmd.Context(), in); err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		return nil
	},
}

var vocabExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the vocabulary to a JSON snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			store.Close()
			_ = db.Close()
		}()

		if err = store.ExportFile(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		logger.Info("Vocabulary exported", slog.String("path", args[0]))
		return nil
	},
}

var vocabImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge a JSON snapshot into the vocabulary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open snapshot file: %w", err)
		}
		defer func() {
			_ = file.Close()
		}()

		db, store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			store.Close()
			_ = db.Close()
		}()

		if err = store.Import(cmd.Context(), file); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		return nil
	},
}

var vocabStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print vocabulary statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			store.Close()
			_ = db.Close()
		}()

		stats, err := store.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}

		fmt.Printf("tokens:          %d\n", stats.TokenCount)
		fmt.Printf("special tokens:  %d\n", stats.SpecialCount)
		fmt.Printf("total frequency: %d\n", stats.TotalFrequency)
		return nil
	},
}

func init() {
	vocabCmd.AddCommand(vocabInitCmd)
	vocabCmd.AddCommand(vocabIngestCmd)
	vocabCmd.AddCommand(vocabExportCmd)
	vocabCmd.AddCommand(vocabImportCmd)
	vocabCmd.AddCommand(vocabStatsCmd)
}
