package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Interaction is one stored user/assistant exchange.
type Interaction struct {
	ID        int64
	UserName  string
	UserText  string
	Response  string
	Emotion   string
	CreatedAt time.Time
}

// Store is the SQLite-backed long-term memory. All pipeline access to it is
// best-effort: retrieval or storage failures degrade a single turn, never
// the pipeline.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS interactions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_name  TEXT NOT NULL,
	user_text  TEXT NOT NULL,
	response   TEXT NOT NULL,
	emotion    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_name);
CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
`

// OpenStore opens (creating if needed) the long-term memory database.
func OpenStore(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// Single writer; the turn loop is the only client.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "memory-store").Logger(),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreInteraction persists one completed turn.
func (s *Store) StoreInteraction(ctx context.Context, userName, userText, response, emotion string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (user_name, user_text, response, emotion, created_at) VALUES (?, ?, ?, ?, ?)`,
		userName, userText, response, emotion, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store interaction: %w", err)
	}
	return nil
}

// Search returns interactions whose user text or response contains any of
// the given keywords, newest first.
func (s *Store) Search(ctx context.Context, keywords []string, userName string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 5
	}

	var conds []string
	var args []any
	for _, kw := range keywords {
		conds = append(conds, "(user_text LIKE ? OR response LIKE ?)")
		pat := "%" + kw + "%"
		args = append(args, pat, pat)
	}

	query := "SELECT id, user_name, user_text, response, emotion, created_at FROM interactions"
	var where []string
	if len(conds) > 0 {
		where = append(where, "("+strings.Join(conds, " OR ")+")")
	}
	if userName != "" {
		where = append(where, "user_name = ?")
		args = append(args, userName)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var it Interaction
		if err := rows.Scan(&it.ID, &it.UserName, &it.UserText, &it.Response, &it.Emotion, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Recent returns the most recent interactions regardless of content.
func (s *Store) Recent(ctx context.Context, limit int) ([]Interaction, error) {
	return s.Search(ctx, nil, "", limit)
}

// Count returns the number of stored interactions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions`).Scan(&n)
	return n, err
}
