// Package store provides storage backends for PortfolioChat.
//
// It archives closed conversation transcripts and keeps a durable outbox of
// owner notifications. InMemoryStore serves tests and ephemeral runs;
// SQLiteStore and PostgresStore persist across restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
	"github.com/BTreeMap/PortfolioChat/internal/util"
)

// ErrTranscriptNotFound is returned when no transcript exists for a conversation.
var ErrTranscriptNotFound = errors.New("transcript not found")

// TranscriptRepo archives closed conversations.
type TranscriptRepo interface {
	// SaveTranscript stores t, replacing any earlier transcript for the same conversation.
	SaveTranscript(ctx context.Context, t models.Transcript) error

	// GetTranscript returns the transcript for conversationID or ErrTranscriptNotFound.
	GetTranscript(ctx context.Context, conversationID string) (*models.Transcript, error)

	// ListTranscripts returns up to limit transcripts, most recently closed first.
	// A non-positive limit returns all of them.
	ListTranscripts(ctx context.Context, limit int) ([]models.Transcript, error)
}

// Store is the full storage backend.
type Store interface {
	TranscriptRepo
	OutboxRepo
	Close() error
}

// Compile-time checks that every backend implements Store.
var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Driver names accepted by WithDriver.
const (
	DriverSQLite3  = "sqlite3" // github.com/mattn/go-sqlite3 (cgo)
	DriverSQLite   = "sqlite"  // modernc.org/sqlite (pure Go)
	DriverPostgres = "postgres"
)

// Opts holds configuration options for stores.
type Opts struct {
	DSN    string
	Driver string
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithDSN sets the data source name.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets an SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithDriver selects the database/sql driver for SQLite ("sqlite3" or "sqlite").
func WithDriver(driver string) Option {
	return func(o *Opts) {
		o.Driver = driver
	}
}

// DetectDSNType reports whether dsn looks like a PostgreSQL connection string
// ("postgres") or an SQLite file path ("sqlite3").
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(strings.ToLower(dsn))
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return DriverPostgres
	case strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user="):
		return DriverPostgres
	default:
		return DriverSQLite3
	}
}

// SQLiteFilePath returns the file path inside an SQLite DSN, dropping a
// "file:" URI scheme and any query parameters. It returns "" for in-memory
// databases.
func SQLiteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	path, _, _ = strings.Cut(path, "?")
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

// Open creates the backend matching dsn: PostgresStore for a PostgreSQL
// connection string, SQLiteStore otherwise. An empty dsn yields an InMemoryStore.
func Open(dsn string, opts ...Option) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		slog.Info("Store.Open: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	opts = append([]Option{WithDSN(dsn)}, opts...)
	if DetectDSNType(dsn) == DriverPostgres {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string]models.Transcript
	outbox      map[string]*OutboxMessage
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		transcripts: make(map[string]models.Transcript),
		outbox:      make(map[string]*OutboxMessage),
	}
}

func (s *InMemoryStore) SaveTranscript(ctx context.Context, t models.Transcript) error {
	if t.ConversationID == "" {
		return fmt.Errorf("transcript without conversation id: %w", models.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Messages = slices.Clone(t.Messages)
	s.transcripts[t.ConversationID] = t
	return nil
}

func (s *InMemoryStore) GetTranscript(ctx context.Context, conversationID string) (*models.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transcripts[conversationID]
	if !ok {
		return nil, ErrTranscriptNotFound
	}
	t.Messages = slices.Clone(t.Messages)
	return &t, nil
}

func (s *InMemoryStore) ListTranscripts(ctx context.Context, limit int) ([]models.Transcript, error) {
	s.mu.RLock()
	out := make([]models.Transcript, 0, len(s.transcripts))
	for _, t := range s.transcripts {
		out = append(out, t)
	}
	s.mu.RUnlock()

	sortTranscripts(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortTranscripts orders by close time descending, then id.
func sortTranscripts(ts []models.Transcript) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].ClosedAt.Equal(ts[j].ClosedAt) {
			return ts[i].ClosedAt.After(ts[j].ClosedAt)
		}
		return ts[i].ConversationID < ts[j].ConversationID
	})
}

func (s *InMemoryStore) EnqueueOutboxMessage(conversationID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	id := util.GenerateRandomID("outbox_", 32)
	s.outbox[id] = &OutboxMessage{
		ID:             id,
		ConversationID: conversationID,
		Kind:           kind,
		PayloadJSON:    payloadJSON,
		Status:         OutboxStatusQueued,
		DedupeKey:      dedupeKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return id, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusSent
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		next := nextAttemptAt
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &next
		m.LockedAt = nil
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) CancelOutboxMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusCanceled
		m.LockedAt = nil
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

// GetOutboxMessage returns a copy of the outbox message with id, or nil.
func (s *InMemoryStore) GetOutboxMessage(id string) (*OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.outbox[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
