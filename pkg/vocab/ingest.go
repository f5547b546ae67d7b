package vocab

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"regexp"
)

// tokenPattern splits ingested text into word and punctuation tokens.
var tokenPattern = regexp.MustCompile(`[\w'-]+|[.,!?;:{}\[\]"]`)

// EnsureBasics seeds the vocabulary with every printable ASCII
// character plus tab and newline, so any structural literal the
// generator emits is tokenizable even against an otherwise empty
// vocabulary. It is idempotent; existing entries keep their frequency.
func (s *Store) EnsureBasics(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	stmtInsert, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO vocab_tokens (token_text) VALUES (?);`)
	if err != nil {
		return fmt.Errorf("failed to prepare basic token insert: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtInsert)

	for c := byte(0x20); c <= 0x7e; c++ {
		if _, err = stmtInsert.ExecContext(ctx, string(c)); err != nil {
			return fmt.Errorf("failed to insert basic token %q: %w", string(c), err)
		}
	}
	for _, text := range []string{"\t", "\n"} {
		if _, err = stmtInsert.ExecContext(ctx, text); err != nil {
			return fmt.Errorf("failed to insert basic token %q: %w", text, err)
		}
	}

	return tx.Commit()
}

// Ingest processes a stream of text, splits it into word and
// punctuation tokens, and merges them into the vocabulary with
// frequency counts. The whole operation runs inside a single
// transaction with an in-memory batch, so large corpora ingest
// efficiently and either land completely or not at all.
func (s *Store) Ingest(ctx context.Context, data io.Reader) error {
	// tokenBatchSize determines how many distinct token texts are
	// buffered before being flushed to the database.
	const tokenBatchSize = 1000

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	stmtUpsert := tx.StmtContext(ctx, s.stmtUpsertToken)

	counts := make(map[string]int, tokenBatchSize)
	var tokenCount int64

	flush := func() error {
		for text, n := range counts {
			var id int
			if err := stmtUpsert.QueryRowContext(ctx, text, 0, n).Scan(&id); err != nil {
				return fmt.Errorf("failed to merge token %q: %w", text, err)
			}
		}
		clear(counts)
		return nil
	}

	scanner := bufio.NewScanner(data)
	for scanner.Scan() {
		for _, text := range tokenPattern.FindAllString(scanner.Text(), -1) {
			counts[text]++
			tokenCount++
		}
		if len(counts) >= tokenBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read ingest stream: %w", err)
	}

	if err := flush(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Ingest completed",
		slog.Int64("tokens_processed", tokenCount),
	)

	return tx.Commit()
}
