package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/BTreeMap/PortfolioChat/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists to PostgreSQL through lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, t models.Transcript) error {
	if t.ConversationID == "" {
		return fmt.Errorf("transcript without conversation id: %w", models.ErrInvalidInput)
	}
	messagesJSON, users, err := encodeMessages(t.Messages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcripts (conversation_id, opened_at, closed_at, close_reason, user_messages, messages_json)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (conversation_id) DO UPDATE SET
		   opened_at = EXCLUDED.opened_at,
		   closed_at = EXCLUDED.closed_at,
		   close_reason = EXCLUDED.close_reason,
		   user_messages = EXCLUDED.user_messages,
		   messages_json = EXCLUDED.messages_json`,
		t.ConversationID, t.OpenedAt.UTC(), t.ClosedAt.UTC(), nilIfEmpty(t.CloseReason), users, messagesJSON,
	)
	if err != nil {
		slog.Error("PostgresStore SaveTranscript failed", "error", err, "conversationID", t.ConversationID)
		return fmt.Errorf("failed to save transcript %s: %w", t.ConversationID, err)
	}
	slog.Debug("PostgresStore SaveTranscript succeeded", "conversationID", t.ConversationID, "messages", len(t.Messages))
	return nil
}

func (s *PostgresStore) GetTranscript(ctx context.Context, conversationID string) (*models.Transcript, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, opened_at, closed_at, close_reason, messages_json
		 FROM transcripts WHERE conversation_id = $1`,
		conversationID,
	)
	t, err := scanPostgresTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTranscriptNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetTranscript failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) ListTranscripts(ctx context.Context, limit int) ([]models.Transcript, error) {
	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, opened_at, closed_at, close_reason, messages_json
		 FROM transcripts ORDER BY closed_at DESC, conversation_id ASC LIMIT $1`,
		limitArg,
	)
	if err != nil {
		slog.Error("PostgresStore ListTranscripts query failed", "error", err)
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	var out []models.Transcript
	for rows.Next() {
		t, err := scanPostgresTranscript(rows)
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

func scanPostgresTranscript(row rowScanner) (models.Transcript, error) {
	var (
		t            models.Transcript
		reason       sql.NullString
		messagesJSON string
	)
	if err := row.Scan(&t.ConversationID, &t.OpenedAt, &t.ClosedAt, &reason, &messagesJSON); err != nil {
		return t, err
	}
	msgs, err := decodeMessages(messagesJSON)
	if err != nil {
		return t, err
	}
	t.CloseReason = reason.String
	t.Messages = msgs
	return t, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
		return err
	}
	return nil
}
