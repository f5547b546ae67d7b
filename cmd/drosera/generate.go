package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/CTAG07/Drosera/pkg/structured"
	"github.com/CTAG07/Drosera/pkg/vocab"
)

var (
	generateSchemaPath  string
	generateBudget      int
	generateTemperature float64
	generateTopK        int
	generateSeed        uint64
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a JSON document conforming to a schema",
	Long: `Generate reads a JSON Schema file, loads the stored vocabulary, and
produces a JSON document whose structure conforms to the schema. Flags
left unset fall back to the values in the configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(generateSchemaPath)
		if err != nil {
			return fmt.Errorf("failed to read schema file: %w", err)
		}
		schema, err := structured.ParseSchema(data)
		if err != nil {
			return fmt.Errorf("failed to load schema: %w", err)
		}

		db, store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			store.Close()
			_ = db.Close()
		}()

		// Structural literals must always tokenize, even against a
		// vocabulary that was never explicitly initialized.
		if err = store.EnsureBasics(ctx); err != nil {
			return fmt.Errorf("failed to seed basic tokens: %w", err)
		}

		budget := config.TokenBudget
		if cmd.Flags().Changed("budget") {
			budget = generateBudget
		}
		temperature := config.Temperature
		if cmd.Flags().Changed("temperature") {
			temperature = generateTemperature
		}
		topK := config.TopK
		if cmd.Flags().Changed("top-k") {
			topK = generateTopK
		}

		opts := []vocab.BackendOption{
			vocab.WithTemperature(temperature),
			vocab.WithTopK(topK),
		}
		if cmd.Flags().Changed("seed") {
			opts = append(opts, vocab.WithSeed(generateSeed))
		}

		backend, err := vocab.NewBackend(ctx, store, budget, opts...)
		if err != nil {
			return fmt.Errorf("failed to build token backend: %w", err)
		}

		generator, err := structured.New(ctx, backend, schema)
		if err != nil {
			return fmt.Errorf("failed to create generator: %w", err)
		}
		generator.SetLogger(logger)

		output, err := generator.Generate(ctx)
		if err != nil {
			return fmt.Errorf("generation failed: %w", err)
		}

		logger.Debug("Generation finished",
			slog.Int("tokens_spent", backend.TotalTokenBudget()-backend.RemainingTokens()),
			slog.Int("output_length", len(output)),
		)

		fmt.Println(output)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVarP(&generateSchemaPath, "schema", "s", "", "path to the JSON Schema file (required)")
	generateCmd.Flags().IntVarP(&generateBudget, "budget", "b", 0, "token budget for this generation")
	generateCmd.Flags().Float64VarP(&generateTemperature, "temperature", "t", 1.0, "sampling temperature (0 for deterministic)")
	generateCmd.Flags().IntVarP(&generateTopK, "top-k", "k", 0, "restrict sampling to the k most frequent allowed tokens")
	generateCmd.Flags().Uint64Var(&generateSeed, "seed", 0, "seed the sampler for reproducible output")
	_ = generateCmd.MarkFlagRequired("schema")
}
