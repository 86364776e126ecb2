package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/BTreeMap/PortfolioChat/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists to an SQLite file through either the cgo driver
// (mattn/go-sqlite3, the default) or the pure-Go driver (modernc.org/sqlite).
type SQLiteStore struct {
	db     *sql.DB
	driver string
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "", "driver", cfg.Driver)

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite3
	}
	if driver != DriverSQLite3 && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported SQLite driver %q", driver)
	}

	if path := SQLiteFilePath(dsn); path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "driver", driver, "error", err)
		return nil, err
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "driver", driver, "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "driver", driver)

	return &SQLiteStore{db: db, driver: driver}, nil
}

// Driver returns the database/sql driver name in use.
func (s *SQLiteStore) Driver() string {
	return s.driver
}

func (s *SQLiteStore) SaveTranscript(ctx context.Context, t models.Transcript) error {
	if t.ConversationID == "" {
		return fmt.Errorf("transcript without conversation id: %w", models.ErrInvalidInput)
	}
	messagesJSON, users, err := encodeMessages(t.Messages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcripts (conversation_id, opened_at, closed_at, close_reason, user_messages, messages_json)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
		   opened_at = excluded.opened_at,
		   closed_at = excluded.closed_at,
		   close_reason = excluded.close_reason,
		   user_messages = excluded.user_messages,
		   messages_json = excluded.messages_json`,
		t.ConversationID, t.OpenedAt.UnixNano(), t.ClosedAt.UnixNano(), nilIfEmpty(t.CloseReason), users, messagesJSON,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveTranscript failed", "error", err, "conversationID", t.ConversationID)
		return fmt.Errorf("failed to save transcript %s: %w", t.ConversationID, err)
	}
	slog.Debug("SQLiteStore SaveTranscript succeeded", "conversationID", t.ConversationID, "messages", len(t.Messages))
	return nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, conversationID string) (*models.Transcript, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, opened_at, closed_at, close_reason, messages_json
		 FROM transcripts WHERE conversation_id = ?`,
		conversationID,
	)
	t, err := scanSQLiteTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTranscriptNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetTranscript failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) ListTranscripts(ctx context.Context, limit int) ([]models.Transcript, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, opened_at, closed_at, close_reason, messages_json
		 FROM transcripts ORDER BY closed_at DESC, conversation_id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		slog.Error("SQLiteStore ListTranscripts query failed", "error", err)
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	var out []models.Transcript
	for rows.Next() {
		t, err := scanSQLiteTranscript(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcript rows: %w", err)
	}
	return out, nil
}

func scanSQLiteTranscript(row rowScanner) (models.Transcript, error) {
	var (
		t                  models.Transcript
		openedAt, closedAt int64
		reason             sql.NullString
		messagesJSON       string
	)
	if err := row.Scan(&t.ConversationID, &openedAt, &closedAt, &reason, &messagesJSON); err != nil {
		return t, err
	}
	msgs, err := decodeMessages(messagesJSON)
	if err != nil {
		return t, err
	}
	t.OpenedAt = unixNano(openedAt)
	t.ClosedAt = unixNano(closedAt)
	t.CloseReason = reason.String
	t.Messages = msgs
	return t, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
		return err
	}
	return nil
}
