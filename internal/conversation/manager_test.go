package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
)

// mockArchiver records saved transcripts.
type mockArchiver struct {
	mu    sync.Mutex
	saved []models.Transcript
	err   error
}

func (m *mockArchiver) SaveTranscript(ctx context.Context, t models.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, t)
	return nil
}

// mockNotifier records relayed transcripts.
type mockNotifier struct {
	relayed []models.Transcript
}

func (m *mockNotifier) NotifyTranscript(ctx context.Context, t models.Transcript) error {
	m.relayed = append(m.relayed, t)
	return nil
}

func TestManager_OpenGetClose(t *testing.T) {
	e, mt := newTestEngine(t)
	archiver := &mockArchiver{}
	notifier := &mockNotifier{}
	m := NewManager(e, WithArchiver(archiver), WithNotifier(notifier))

	c, err := m.Open("hello")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, err := m.Get(c.ID())
	if err != nil || got != c {
		t.Fatalf("Get returned %v, %v", got, err)
	}
	mt.Advance(DefaultTypingDelay)

	tr, err := m.Close(context.Background(), c.ID(), CloseReasonVisitor)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	assertTexts(t, tr.Messages, "hello")
	if tr.CloseReason != CloseReasonVisitor || tr.ConversationID != c.ID() {
		t.Errorf("unexpected transcript %+v", tr)
	}
	if !tr.ClosedAt.Equal(epoch.Add(DefaultTypingDelay)) {
		t.Errorf("unexpected close time %v", tr.ClosedAt)
	}
	if len(archiver.saved) != 1 || len(notifier.relayed) != 1 {
		t.Errorf("expected one archived and one relayed transcript, got %d/%d", len(archiver.saved), len(notifier.relayed))
	}

	if _, err := m.Get(c.ID()); !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound after Close, got %v", err)
	}
	if _, err := m.Close(context.Background(), c.ID(), CloseReasonVisitor); !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound for second Close, got %v", err)
	}
}

func TestManager_EmptyConversationIsNotArchived(t *testing.T) {
	e, _ := newTestEngine(t)
	archiver := &mockArchiver{}
	m := NewManager(e, WithArchiver(archiver))

	c, _ := m.Open("")
	if _, err := m.Close(context.Background(), c.ID(), CloseReasonVisitor); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(archiver.saved) != 0 {
		t.Errorf("expected nothing archived, got %d", len(archiver.saved))
	}
}

func TestManager_ArchiveFailureStillCloses(t *testing.T) {
	e, _ := newTestEngine(t)
	m := NewManager(e, WithArchiver(&mockArchiver{err: errors.New("disk full")}))

	c, _ := m.Open("hello")
	if _, err := m.Close(context.Background(), c.ID(), CloseReasonVisitor); err == nil {
		t.Error("expected archive error")
	}
	if c.IsOpen() {
		t.Error("expected conversation closed despite archive failure")
	}
	if m.Count() != 0 {
		t.Errorf("expected no open conversations, got %d", m.Count())
	}
}

func TestManager_OpenRejectsBlankSeed(t *testing.T) {
	e, _ := newTestEngine(t)
	m := NewManager(e)

	if _, err := m.Open("   "); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("expected nothing registered, got %d", m.Count())
	}
}

func TestManager_ReapIdle(t *testing.T) {
	e, mt := newTestEngine(t)
	archiver := &mockArchiver{}
	m := NewManager(e, WithArchiver(archiver))

	stale, _ := m.Open("old")
	mt.Advance(10 * time.Minute)
	busy, _ := m.Open("new")
	fresh, _ := m.Open("")
	mt.Advance(DefaultTypingDelay + DefaultReplyDelay)
	busy.Submit("still typing")

	if n := m.ReapIdle(context.Background(), 5*time.Minute); n != 1 {
		t.Fatalf("expected 1 reaped conversation, got %d", n)
	}
	if stale.IsOpen() {
		t.Error("expected stale conversation closed")
	}
	if !busy.IsOpen() || !fresh.IsOpen() {
		t.Error("expected active conversations to stay open")
	}
	if len(archiver.saved) != 1 || archiver.saved[0].CloseReason != CloseReasonIdle {
		t.Errorf("expected idle transcript archived, got %+v", archiver.saved)
	}
	assertTexts(t, archiver.saved[0].Messages, "old", "re:old")
}

func TestManager_ListAndShutdown(t *testing.T) {
	e, mt := newTestEngine(t)
	m := NewManager(e)

	first, _ := m.Open("a")
	mt.Advance(time.Second)
	second, _ := m.Open("")

	list := m.List()
	if len(list) != 2 || list[0].ID != first.ID() || list[1].ID != second.ID() {
		t.Fatalf("unexpected listing %+v", list)
	}

	m.Shutdown(context.Background())
	if m.Count() != 0 {
		t.Errorf("expected no conversations after Shutdown, got %d", m.Count())
	}
	if first.IsOpen() || second.IsOpen() {
		t.Error("expected every conversation closed")
	}
	if mt.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", mt.Pending())
	}
}
