package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
)

// Close reasons recorded on archived transcripts.
const (
	CloseReasonVisitor  = "visitor"
	CloseReasonIdle     = "idle"
	CloseReasonShutdown = "shutdown"
)

// Archiver persists closed conversations.
type Archiver interface {
	SaveTranscript(ctx context.Context, t models.Transcript) error
}

// Notifier relays closed conversations to the site owner.
type Notifier interface {
	NotifyTranscript(ctx context.Context, t models.Transcript) error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithArchiver stores every closed transcript.
func WithArchiver(a Archiver) ManagerOption {
	return func(m *Manager) {
		m.archiver = a
	}
}

// WithNotifier relays every closed transcript that contains a user message.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) {
		m.notifier = n
	}
}

// Manager is the registry of open conversations, keyed by id.
type Manager struct {
	engine   *Engine
	archiver Archiver
	notifier Notifier

	mu    sync.RWMutex
	convs map[string]*Conversation
}

// NewManager creates a Manager opening conversations on engine.
func NewManager(engine *Engine, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine: engine,
		convs:  make(map[string]*Conversation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Engine returns the engine conversations are opened on.
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Open opens and registers a conversation. An empty seed opens an empty log.
func (m *Manager) Open(seed string) (*Conversation, error) {
	var (
		c   *Conversation
		err error
	)
	if seed == "" {
		c, err = m.engine.Open()
	} else {
		c, err = m.engine.Open(seed)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.convs[c.ID()] = c
	count := len(m.convs)
	m.mu.Unlock()

	slog.Info("Manager.Open: conversation opened", "id", c.ID(), "open", count)
	return c, nil
}

// Get returns the open conversation with id.
func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrConversationNotFound)
	}
	return c, nil
}

// List returns snapshots of every open conversation, oldest first.
func (m *Manager) List() []models.ConversationSnapshot {
	m.mu.RLock()
	convs := make([]*Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		convs = append(convs, c)
	}
	m.mu.RUnlock()

	out := make([]models.ConversationSnapshot, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of open conversations.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.convs)
}

// Close closes the conversation, unregisters it, then archives and relays its
// transcript. Archive and notification failures are logged and returned, but
// the conversation is closed regardless.
func (m *Manager) Close(ctx context.Context, id, reason string) (models.Transcript, error) {
	m.mu.Lock()
	c, ok := m.convs[id]
	delete(m.convs, id)
	m.mu.Unlock()

	if !ok {
		return models.Transcript{}, fmt.Errorf("conversation %s: %w", id, models.ErrConversationNotFound)
	}

	t := models.Transcript{
		ConversationID: c.ID(),
		Messages:       c.Close(),
		OpenedAt:       c.OpenedAt(),
		ClosedAt:       m.engine.timer.Now(),
		CloseReason:    reason,
	}
	slog.Info("Manager.Close: conversation closed", "id", id, "reason", reason, "messages", len(t.Messages))
	return t, m.archive(ctx, t)
}

func (m *Manager) archive(ctx context.Context, t models.Transcript) error {
	if len(t.Messages) == 0 {
		return nil
	}
	if m.archiver != nil {
		if err := m.archiver.SaveTranscript(ctx, t); err != nil {
			slog.Error("Manager.archive: failed to save transcript", "id", t.ConversationID, "error", err)
			return fmt.Errorf("failed to archive conversation %s: %w", t.ConversationID, err)
		}
	}
	if m.notifier != nil && t.CountBySender(models.SenderUser) > 0 {
		if err := m.notifier.NotifyTranscript(ctx, t); err != nil {
			slog.Error("Manager.archive: failed to relay transcript", "id", t.ConversationID, "error", err)
			return fmt.Errorf("failed to relay conversation %s: %w", t.ConversationID, err)
		}
	}
	return nil
}

// ReapIdle closes conversations with no activity for longer than maxIdle.
// Conversations waiting on a reply are left alone. It returns how many
// conversations were closed.
func (m *Manager) ReapIdle(ctx context.Context, maxIdle time.Duration) int {
	now := m.engine.timer.Now()

	m.mu.RLock()
	var idle []string
	for id, c := range m.convs {
		if c.State() == models.StateIdle && now.Sub(c.LastActivity()) > maxIdle {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(idle)

	reaped := 0
	for _, id := range idle {
		// Archive failures still close; only a concurrent Close is skipped.
		if _, err := m.Close(ctx, id, CloseReasonIdle); errors.Is(err, models.ErrConversationNotFound) {
			continue
		}
		reaped++
	}
	if reaped > 0 {
		slog.Info("Manager.ReapIdle: closed idle conversations", "count", reaped, "maxIdle", maxIdle)
	}
	return reaped
}

// Shutdown closes every open conversation.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.convs))
	for id := range m.convs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		_, _ = m.Close(ctx, id, CloseReasonShutdown)
	}
	slog.Info("Manager.Shutdown: closed all conversations", "count", len(ids))
}
