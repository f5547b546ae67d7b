package vocab

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
)

const (
	// EOSTokenID is the reserved ID for the end-of-sequence token.
	EOSTokenID = 0
	// EOSTokenText is the reserved text for the end-of-sequence token.
	EOSTokenText = "<EOS>"
)

// SetupSchema initializes the vocabulary table and the reserved special
// tokens in the provided database. It should be called once on a new
// database; it is idempotent and safe to call on an initialized one.
func SetupSchema(db *sql.DB) error {
	const schemaTokens = `
CREATE TABLE IF NOT EXISTS vocab_tokens (
    token_id INTEGER PRIMARY KEY,
    token_text TEXT NOT NULL UNIQUE,
    special INTEGER NOT NULL DEFAULT 0,
    frequency INTEGER NOT NULL DEFAULT 1
);
`

	eosToken := fmt.Sprintf("INSERT OR IGNORE INTO vocab_tokens (token_id, token_text, special) VALUES (%d, '%s', 1);", EOSTokenID, EOSTokenText)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaTokens); err != nil {
		return fmt.Errorf("could not create vocabulary schema: %w", err)
	}

	if _, err = tx.Exec(eosToken); err != nil {
		return fmt.Errorf("could not insert special tokens: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Store is the entry point for managing a stored vocabulary. It holds
// the database connection and prepared SQL statements for efficient
// lookups and inserts.
type Store struct {
	db               *sql.DB
	stmtGetTokenID   *sql.Stmt
	stmtGetTokenText *sql.Stmt
	stmtUpsertToken  *sql.Stmt
	stmtAllTokens    *sql.Stmt
	stmtCountTokens  *sql.Stmt
	stmtCountSpecial *sql.Stmt
	stmtSumFrequency *sql.Stmt
	logger           *slog.Logger
}

// NewStore creates and returns a new Store over the given database. It
// pre-compiles all necessary SQL statements, returning an error if any
// preparation fails.
func NewStore(db *sql.DB) (*Store, error) {
	stmtGetTokenID, err := db.Prepare(`SELECT token_id FROM vocab_tokens WHERE token_text = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetTokenText, err := db.Prepare(`SELECT token_text FROM vocab_tokens WHERE token_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtUpsertToken, err := db.Prepare(`INSERT INTO vocab_tokens (token_text, special, frequency) VALUES (?, ?, ?) ON CONFLICT(token_text) DO UPDATE SET frequency = frequency + excluded.frequency RETURNING token_id;`)
	if err != nil {
		return nil, err
	}

	stmtAllTokens, err := db.Prepare(`SELECT token_id, token_text, special, frequency FROM vocab_tokens ORDER BY token_id;`)
	if err != nil {
		return nil, err
	}

	stmtCountTokens, err := db.Prepare(`SELECT COUNT(*) FROM vocab_tokens;`)
	if err != nil {
		return nil, err
	}

	stmtCountSpecial, err := db.Prepare(`SELECT COUNT(*) FROM vocab_tokens WHERE special != 0;`)
	if err != nil {
		return nil, err
	}

	stmtSumFrequency, err := db.Prepare(`SELECT coalesce(SUM(frequency), 0) FROM vocab_tokens;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:               db,
		stmtGetTokenID:   stmtGetTokenID,
		stmtGetTokenText: stmtGetTokenText,
		stmtUpsertToken:  stmtUpsertToken,
		stmtAllTokens:    stmtAllTokens,
		stmtCountTokens:  stmtCountTokens,
		stmtCountSpecial: stmtCountSpecial,
		stmtSumFrequency: stmtSumFrequency,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the Store. It
// should be called when the Store is no longer needed.
func (s *Store) Close() {
	_ = s.stmtGetTokenID.Close()
	_ = s.stmtGetTokenText.Close()
	_ = s.stmtUpsertToken.Close()
	_ = s.stmtAllTokens.Close()
	_ = s.stmtCountTokens.Close()
	_ = s.stmtCountSpecial.Close()
	_ = s.stmtSumFrequency.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are
// discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// TokenID looks up a token text and returns its ID. It returns an error
// if the token is not in the vocabulary.
func (s *Store) TokenID(ctx context.Context, text string) (int, error) {
	var id int
	if err := s.stmtGetTokenID.QueryRowContext(ctx, text).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// TokenText looks up a token ID and returns its text. It returns an
// error if the ID is not in the vocabulary.
func (s *Store) TokenText(ctx context.Context, id int) (string, error) {
	var text string
	if err := s.stmtGetTokenText.QueryRowContext(ctx, id).Scan(&text); err != nil {
		return "", err
	}
	return text, nil
}

// AddToken inserts a token or bumps its frequency when it already
// exists, returning the token's ID.
func (s *Store) AddToken(ctx context.Context, text string, special bool) (int, error) {
	specialFlag := 0
	if special {
		specialFlag = 1
	}
	var id int
	if err := s.stmtUpsertToken.QueryRowContext(ctx, text, specialFlag, 1).Scan(&id); err != nil {
		return 0, fmt.Errorf("could not upsert token %q: %w", text, err)
	}
	return id, nil
}

// StoredToken is one vocabulary entry as read back from the database.
type StoredToken struct {
	ID        int
	Text      string
	Special   bool
	Frequency int
}

// AllTokens returns every vocabulary entry ordered by ID.
func (s *Store) AllTokens(ctx context.Context) ([]StoredToken, error) {
	rows, err := s.stmtAllTokens.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var tokens []StoredToken
	for rows.Next() {
		var tok StoredToken
		var special int
		if err = rows.Scan(&tok.ID, &tok.Text, &special, &tok.Frequency); err != nil {
			return nil, err
		}
		tok.Special = special != 0
		tokens = append(tokens, tok)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Stats holds aggregated statistics for a stored vocabulary.
type Stats struct {
	TokenCount     int // Number of vocabulary entries, special tokens included.
	SpecialCount   int // Number of special (non-content) tokens.
	TotalFrequency int // Sum of all token frequencies.
}

// GetStats returns a snapshot of statistics for the vocabulary.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := s.stmtCountTokens.QueryRowContext(ctx).Scan(&stats.TokenCount); err != nil {
		return nil, err
	}
	if err := s.stmtCountSpecial.QueryRowContext(ctx).Scan(&stats.SpecialCount); err != nil {
		return nil, err
	}
	if err := s.stmtSumFrequency.QueryRowContext(ctx).Scan(&stats.TotalFrequency); err != nil {
		return nil, err
	}
	return &stats, nil
}
