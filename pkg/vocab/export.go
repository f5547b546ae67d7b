package vocab

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/natefinch/atomic"
)

// ExportedVocabulary is the serializable representation of a stored
// vocabulary, used for JSON-based import and export.
type ExportedVocabulary struct {
	Tokens []ExportedToken `json:"tokens"`
}

// ExportedToken is one vocabulary entry within an ExportedVocabulary.
type ExportedToken struct {
	ID        int    `json:"id"`
	Text      string `json:"text"`
	Special   bool   `json:"special,omitempty"`
	Frequency int    `json:"frequency"`
}

// Export serializes the vocabulary into JSON and writes it to the
// provided io.Writer. This is useful for backups or for transferring a
// vocabulary between databases.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	tokens, err := s.AllTokens(ctx)
	if err != nil {
		return fmt.Errorf("could not read vocabulary for export: %w", err)
	}

	exported := ExportedVocabulary{Tokens: make([]ExportedToken, 0, len(tokens))}
	for _, tok := range tokens {
		exported.Tokens = append(exported.Tokens, ExportedToken{
			ID:        tok.ID,
			Text:      tok.Text,
			Special:   tok.Special,
			Frequency: tok.Frequency,
		})
	}

	s.logger.InfoContext(ctx, "Vocabulary exported",
		slog.Int("tokens_exported", len(exported.Tokens)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// ExportFile writes the vocabulary snapshot to a file atomically, so a
// crash mid-write never leaves a truncated snapshot behind.
func (s *Store) ExportFile(ctx context.Context, path string) error {
	var buf bytes.Buffer
	if err := s.Export(ctx, &buf); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("could not write vocabulary file: %w", err)
	}
	return nil
}

// Import reads a JSON vocabulary snapshot and merges it into the
// database. Tokens are matched by text; frequencies are added and IDs
// are re-assigned, so snapshots from different databases merge cleanly.
// The operation is transactional.
func (s *Store) Import(ctx context.Context, r io.Reader) error {
	var imported ExportedVocabulary
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return fmt.Errorf("failed to decode vocabulary json: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	stmtUpsert := tx.StmtContext(ctx, s.stmtUpsertToken)

	for _, tok := range imported.Tokens {
		if tok.Text == EOSTokenText {
			continue
		}
		specialFlag := 0
		if tok.Special {
			specialFlag = 1
		}
		freq := tok.Frequency
		if freq < 1 {
			freq = 1
		}
		var id int
		if err := stmtUpsert.QueryRowContext(ctx, tok.Text, specialFlag, freq).Scan(&id); err != nil {
			return fmt.Errorf("failed to merge token %q: %w", tok.Text, err)
		}
	}

	s.logger.InfoContext(ctx, "Vocabulary imported",
		slog.Int("tokens_merged", len(imported.Tokens)),
	)

	return tx.Commit()
}
