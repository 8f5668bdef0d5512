package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"skyroute-hq/charon/pkg/provider"
)

// schema creates the provider-chain table.
const schema = `
CREATE TABLE IF NOT EXISTS provider_chain (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    provider_id TEXT NOT NULL,
    endpoint_id TEXT,
    attempt INTEGER NOT NULL,
    status_code INTEGER,
    error_message TEXT,
    reason TEXT,
    attempted_at TIMESTAMP NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_provider_chain_session ON provider_chain(session_id);
CREATE INDEX IF NOT EXISTS idx_provider_chain_provider ON provider_chain(provider_id, attempted_at);
`

const insertEntry = `
INSERT INTO provider_chain (
    session_id, provider_id, endpoint_id, attempt,
    status_code, error_message, reason, attempted_at, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteConfig contains configuration for the SQLite audit sink.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteSink persists provider chains to SQLite with WAL mode and a
// prepared insert statement.
type SQLiteSink struct {
	db     *sql.DB
	insert *sql.Stmt
	logger *slog.Logger
}

// NewSQLiteSink opens (and if needed creates) the audit database.
func NewSQLiteSink(cfg SQLiteConfig) (*SQLiteSink, error) {
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database %q: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	stmt, err := db.Prepare(insertEntry)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}

	logger := slog.Default().With("component", "audit.sqlite")
	logger.Info("audit sink initialized", "path", cfg.Path)

	return &SQLiteSink{db: db, insert: stmt, logger: logger}, nil
}

// AppendChain implements Sink. All entries of a chain land in one
// transaction.
func (s *SQLiteSink) AppendChain(ctx context.Context, sessionID string, entries []provider.ChainEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}

	now := time.Now()
	stmt := tx.Stmt(s.insert)
	for _, e := range entries {
		endpointID := sql.NullString{String: e.EndpointID, Valid: e.EndpointID != ""}
		statusCode := sql.NullInt64{Int64: int64(e.StatusCode), Valid: e.StatusCode != 0}
		if _, err := stmt.ExecContext(ctx,
			sessionID, e.ProviderID, endpointID, e.Attempt,
			statusCode, e.ErrorMessage, e.Reason, e.Timestamp, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert chain entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit transaction: %w", err)
	}
	return nil
}

// ChainForSession loads the stored chain for one session, ordered by
// attempt number. Exposed for the admin surface and tests.
func (s *SQLiteSink) ChainForSession(ctx context.Context, sessionID string) ([]provider.ChainEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, endpoint_id, attempt, status_code, error_message, reason, attempted_at
		FROM provider_chain WHERE session_id = ? ORDER BY attempt`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain: %w", err)
	}
	defer rows.Close()

	var out []provider.ChainEntry
	for rows.Next() {
		var e provider.ChainEntry
		var endpointID sql.NullString
		var statusCode sql.NullInt64
		if err := rows.Scan(&e.ProviderID, &endpointID, &e.Attempt, &statusCode, &e.ErrorMessage, &e.Reason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chain entry: %w", err)
		}
		e.EndpointID = endpointID.String
		e.StatusCode = int(statusCode.Int64)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	s.insert.Close()
	return s.db.Close()
}
