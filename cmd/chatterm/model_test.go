package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BTreeMap/PortfolioChat/internal/conversation"
	"github.com/BTreeMap/PortfolioChat/internal/models"
	"github.com/BTreeMap/PortfolioChat/internal/typewriter"
)

type submitRecorder struct {
	texts []string
	err   error
}

func (r *submitRecorder) submit(text string) error {
	r.texts = append(r.texts, text)
	return r.err
}

func newTestModel(rec *submitRecorder) model {
	snap := models.ConversationSnapshot{ID: "c1", Open: true, State: models.StateIdle}
	return newModel("portfolio", "say hi", []string{"first", "second"}, snap, rec.submit)
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return nm, cmd
}

func TestModel_FrameUpdatesHeadline(t *testing.T) {
	m, _ := update(t, newTestModel(&submitRecorder{}), frameMsg(typewriter.Frame{Text: "Fro"}))
	if m.headline != "Fro" {
		t.Errorf("expected headline %q, got %q", "Fro", m.headline)
	}
	if !strings.Contains(m.View(), "Fro") {
		t.Error("expected headline in view")
	}
}

func TestModel_EventsMirrorConversation(t *testing.T) {
	m := newTestModel(&submitRecorder{})
	user := models.Message{ID: "m1", Sender: models.SenderUser, Text: "hello"}
	placeholder := models.Message{ID: "m2", Sender: models.SenderCounterpart, Text: "typing...", IsPlaceholder: true}
	reply := models.Message{ID: "m3", Sender: models.SenderCounterpart, Text: "hi there"}

	for _, ev := range []conversation.Event{
		{Kind: conversation.EventAppended, Message: &user},
		{Kind: conversation.EventAppended, Message: &placeholder},
		{Kind: conversation.EventState, State: models.StateAwaitingReply},
		{Kind: conversation.EventRemoved, Message: &placeholder},
		{Kind: conversation.EventAppended, Message: &reply},
		{Kind: conversation.EventState, State: models.StateIdle},
	} {
		m, _ = update(t, m, eventMsg(ev))
	}

	if len(m.messages) != 2 || m.messages[0].ID != "m1" || m.messages[1].ID != "m3" {
		t.Fatalf("unexpected messages %+v", m.messages)
	}
	if m.state != models.StateIdle {
		t.Errorf("expected idle, got %s", m.state)
	}
	view := m.View()
	if !strings.Contains(view, "you: hello") || !strings.Contains(view, "hi there") || strings.Contains(view, "typing...") {
		t.Errorf("unexpected view:\n%s", view)
	}
}

func TestModel_EnterSubmitsThroughCommand(t *testing.T) {
	rec := &submitRecorder{}
	m := newTestModel(rec)
	m.input.SetValue("what do you build?")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a submit command")
	}
	if len(rec.texts) != 0 {
		t.Fatal("submit must not run inside Update")
	}
	if msg := cmd(); msg != nil {
		t.Errorf("expected no message on success, got %v", msg)
	}
	if len(rec.texts) != 1 || rec.texts[0] != "what do you build?" {
		t.Errorf("unexpected submissions %q", rec.texts)
	}
	if m.input.Value() != "" {
		t.Errorf("expected input cleared, got %q", m.input.Value())
	}
}

func TestModel_SubmitErrorIsShown(t *testing.T) {
	rec := &submitRecorder{err: errors.New("message exceeds maximum length")}
	m := newTestModel(rec)
	m.input.SetValue("x")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, cmd())
	if !strings.Contains(m.View(), "message exceeds maximum length") {
		t.Errorf("expected error in view:\n%s", m.View())
	}
}

func TestModel_BlankEnterIsIgnored(t *testing.T) {
	m := newTestModel(&submitRecorder{})
	m.input.SetValue("   ")
	if _, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("expected no command for blank input")
	}
}

func TestModel_TabCyclesPresets(t *testing.T) {
	m := newTestModel(&submitRecorder{})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.input.Value() != "first" {
		t.Errorf("expected first preset, got %q", m.input.Value())
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.input.Value() != "first" {
		t.Errorf("expected presets to wrap, got %q", m.input.Value())
	}
}

func TestModel_QuitKeysAndClose(t *testing.T) {
	m := newTestModel(&submitRecorder{})
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected ctrl+c to quit")
	}

	m, cmd = update(t, m, eventMsg(conversation.Event{Kind: conversation.EventClosed}))
	if !m.closed || cmd == nil {
		t.Fatal("expected closed model and quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected close to quit")
	}
}

func TestModel_GreetingOnEmptyLog(t *testing.T) {
	m := newTestModel(&submitRecorder{})
	if !strings.Contains(m.View(), "say hi") {
		t.Error("expected greeting while the log is empty")
	}
}
