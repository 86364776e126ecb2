package conversation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
	"github.com/BTreeMap/PortfolioChat/internal/timer"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// echoResolver replies with a predictable text per submission.
var echoResolver = ResolverFunc(func(_ context.Context, text string) (string, error) {
	return "re:" + text, nil
})

func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *timer.ManualTimer) {
	t.Helper()
	mt := timer.NewManualTimer(epoch)
	base := []Option{
		WithTimer(mt),
		WithResolver(echoResolver),
		WithIDGenerator(seqIDs("m")),
		WithConversationIDGenerator(seqIDs("c")),
	}
	e, err := NewEngine(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e, mt
}

func texts(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
		if m.IsPlaceholder {
			out[i] = "<placeholder>"
		}
	}
	return out
}

func assertTexts(t *testing.T, msgs []models.Message, want ...string) {
	t.Helper()
	got := texts(msgs)
	if len(got) != len(want) {
		t.Fatalf("expected messages %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected messages %q, got %q", want, got)
		}
	}
}

func countPlaceholders(msgs []models.Message) int {
	n := 0
	for _, m := range msgs {
		if m.IsPlaceholder {
			n++
		}
	}
	return n
}

func TestSubmit_PlaceholderThenReply(t *testing.T) {
	e, mt := newTestEngine(t)
	c, err := e.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := c.Submit("  hello "); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	assertTexts(t, c.Messages(), "hello")
	if c.State() != models.StateAwaitingPlaceholder {
		t.Errorf("expected awaiting_placeholder, got %s", c.State())
	}

	mt.Advance(DefaultTypingDelay - time.Millisecond)
	assertTexts(t, c.Messages(), "hello")

	mt.Advance(time.Millisecond)
	msgs := c.Messages()
	assertTexts(t, msgs, "hello", "<placeholder>")
	if msgs[1].Sender != models.SenderCounterpart || msgs[1].Text != DefaultPlaceholderText {
		t.Errorf("unexpected placeholder %+v", msgs[1])
	}
	if c.State() != models.StateAwaitingReply {
		t.Errorf("expected awaiting_reply, got %s", c.State())
	}

	mt.Advance(DefaultReplyDelay - time.Millisecond)
	assertTexts(t, c.Messages(), "hello", "<placeholder>")

	mt.Advance(time.Millisecond)
	msgs = c.Messages()
	assertTexts(t, msgs, "hello", "re:hello")
	if msgs[1].Sender != models.SenderCounterpart {
		t.Errorf("expected counterpart reply, got %s", msgs[1].Sender)
	}
	if c.State() != models.StateIdle || c.Pending() != 0 {
		t.Errorf("expected idle with nothing pending, got %s/%d", c.State(), c.Pending())
	}
	if mt.Pending() != 0 {
		t.Errorf("expected no timers left, got %d", mt.Pending())
	}
}

func TestSubmit_RejectsEmptyText(t *testing.T) {
	e, mt := newTestEngine(t)
	c, _ := e.Open()

	for _, text := range []string{"", "   ", "\n\t"} {
		if err := c.Submit(text); !errors.Is(err, models.ErrInvalidInput) {
			t.Errorf("Submit(%q): expected ErrInvalidInput, got %v", text, err)
		}
	}
	if n := len(c.Messages()); n != 0 {
		t.Errorf("expected empty log, got %d messages", n)
	}
	if c.State() != models.StateIdle {
		t.Errorf("expected idle, got %s", c.State())
	}
	if mt.Pending() != 0 {
		t.Errorf("expected nothing scheduled, got %d", mt.Pending())
	}
}

func TestSubmit_RejectsOverlongText(t *testing.T) {
	e, _ := newTestEngine(t)
	c, _ := e.Open()

	long := make([]byte, models.MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := c.Submit(string(long)); !errors.Is(err, models.ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
	if n := len(c.Messages()); n != 0 {
		t.Errorf("expected empty log, got %d messages", n)
	}
}

func TestClose_BeforePlaceholder(t *testing.T) {
	e, mt := newTestEngine(t)
	c, _ := e.Open()

	var events []Event
	c.Subscribe(func(ev Event) { events = append(events, ev) })

	if err := c.Submit("x"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	final := c.Close()
	assertTexts(t, final, "x")
	if final[0].Sender != models.SenderUser {
		t.Errorf("expected user message, got %s", final[0].Sender)
	}

	closedAt := len(events)
	mt.Advance(time.Hour)
	if len(events) != closedAt {
		t.Errorf("expected no events after Close, got %d more", len(events)-closedAt)
	}
	for _, ev := range events {
		if ev.Message != nil && ev.Message.IsPlaceholder {
			t.Error("a placeholder appeared after submit+close")
		}
	}
	if mt.Pending() != 0 {
		t.Errorf("expected pending transition cancelled, got %d timers", mt.Pending())
	}
	if c.IsOpen() || c.State() != models.StateClosed {
		t.Errorf("expected closed, got open=%v state=%s", c.IsOpen(), c.State())
	}
	if n := len(c.Messages()); n != 0 {
		t.Errorf("expected log discarded, got %d messages", n)
	}
}

func TestClose_DuringAwaitingReply(t *testing.T) {
	e, mt := newTestEngine(t)
	c, _ := e.Open()

	appended := 0
	c.Subscribe(func(ev Event) {
		if ev.Kind == EventAppended {
			appended++
		}
	})

	c.Submit("x")
	mt.Advance(DefaultTypingDelay)
	assertTexts(t, c.Messages(), "x", "<placeholder>")

	final := c.Close()
	assertTexts(t, final, "x")

	before := appended
	mt.Advance(time.Hour)
	if appended != before {
		t.Errorf("expected no messages appended after Close, got %d", appended-before)
	}
}

func TestClose_IsIdempotentAndBlocksSubmit(t *testing.T) {
	e, _ := newTestEngine(t)
	c, _ := e.Open()

	if final := c.Close(); len(final) != 0 {
		t.Errorf("expected empty transcript for idle conversation, got %d", len(final))
	}
	if final := c.Close(); final != nil {
		t.Errorf("expected nil from second Close, got %v", final)
	}
	if err := c.Submit("hello"); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestClose_WhileResolvingDropsReply(t *testing.T) {
	var c *Conversation
	var resolverCtx context.Context
	resolver := ResolverFunc(func(ctx context.Context, text string) (string, error) {
		resolverCtx = ctx
		c.Close()
		return "late reply", nil
	})
	e, mt := newTestEngine(t, WithResolver(resolver))
	c, _ = e.Open()

	c.Submit("x")
	mt.Advance(DefaultTypingDelay + DefaultReplyDelay)

	if resolverCtx == nil || resolverCtx.Err() == nil {
		t.Error("expected resolver context to be cancelled by Close")
	}
	if n := len(c.Messages()); n != 0 {
		t.Errorf("expected closed conversation to stay empty, got %d messages", n)
	}
	if c.State() != models.StateClosed {
		t.Errorf("expected closed, got %s", c.State())
	}
}

func TestSubmit_QueuesFIFOBeforePlaceholder(t *testing.T) {
	e, mt := newTestEngine(t)
	c, _ := e.Open()

	c.Submit("a")
	c.Submit("b")
	if c.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", c.Pending())
	}

	mt.Advance(DefaultTypingDelay)
	assertTexts(t, c.Messages(), "a", "b", "<placeholder>")
	mt.Advance(DefaultReplyDelay)
	assertTexts(t, c.Messages(), "a", "b", "re:a")
	if c.State() != models.StateAwaitingPlaceholder {
		t.Errorf("expected next cycle to start, got %s", c.State())
	}
	mt.Advance(DefaultTypingDelay + DefaultReplyDelay)
	assertTexts(t, c.Messages(), "a", "b", "re:a", "re:b")
	if c.State() != models.StateIdle {
		t.Errorf("expected idle, got %s", c.State())
	}
}

func TestSubmit_MovesVisiblePlaceholder(t *testing.T) {
	e, mt := newTestEngine(t)
	c, _ := e.Open()

	c.Submit("a")
	mt.Advance(DefaultTypingDelay)
	first := c.Messages()[1]

	c.Submit("b")
	msgs := c.Messages()
	assertTexts(t, msgs, "a", "b", "<placeholder>")
	if msgs[2].ID == first.ID {
		t.Error("expected the moved placeholder to get a fresh id")
	}

	// The first reply keeps its original schedule.
	mt.Advance(DefaultReplyDelay)
	assertTexts(t, c.Messages(), "a", "b", "re:a")
	mt.Advance(DefaultTypingDelay)
	assertTexts(t, c.Messages(), "a", "b", "re:a", "<placeholder>")
	mt.Advance(DefaultReplyDelay)
	assertTexts(t, c.Messages(), "a", "b", "re:a", "re:b")
}

func TestSubmit_RandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))

	for round := 0; round < 20; round++ {
		e, mt := newTestEngine(t)
		c, _ := e.Open()

		var submitted []string
		for step := 0; step < 40; step++ {
			if rng.IntN(3) == 0 {
				text := fmt.Sprintf("r%d-s%d", round, step)
				if err := c.Submit(text); err != nil {
					t.Fatalf("Submit failed: %v", err)
				}
				submitted = append(submitted, text)
			} else {
				mt.Advance(time.Duration(rng.IntN(1200)) * time.Millisecond)
			}

			msgs := c.Messages()
			if n := countPlaceholders(msgs); n > 1 {
				t.Fatalf("round %d step %d: %d placeholders in %q", round, step, n, texts(msgs))
			}
			seen := make(map[string]bool)
			for _, m := range msgs {
				if seen[m.ID] {
					t.Fatalf("round %d step %d: duplicate id %s", round, step, m.ID)
				}
				seen[m.ID] = true
			}
		}

		mt.Advance(time.Duration(len(submitted)+1) * (DefaultTypingDelay + DefaultReplyDelay))

		var users, replies []string
		for _, m := range c.Messages() {
			if m.IsPlaceholder {
				t.Fatalf("round %d: placeholder left after settle", round)
			}
			if m.Sender == models.SenderUser {
				users = append(users, m.Text)
			} else {
				replies = append(replies, m.Text)
			}
		}
		if len(users) != len(submitted) || len(replies) != len(submitted) {
			t.Fatalf("round %d: expected %d users and replies, got %d/%d", round, len(submitted), len(users), len(replies))
		}
		for i := range submitted {
			if users[i] != submitted[i] || replies[i] != "re:"+submitted[i] {
				t.Fatalf("round %d: reply %d out of order: user=%q reply=%q", round, i, users[i], replies[i])
			}
		}
		c.Close()
	}
}

func TestOpen_WithSeed(t *testing.T) {
	e, mt := newTestEngine(t)

	c, err := e.Open(" hi ")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	assertTexts(t, c.Messages(), "hi")
	if c.State() != models.StateAwaitingPlaceholder {
		t.Errorf("expected seed to start a reply cycle, got %s", c.State())
	}
	mt.Advance(DefaultTypingDelay + DefaultReplyDelay)
	assertTexts(t, c.Messages(), "hi", "re:hi")

	if _, err := e.Open("   "); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for blank seed, got %v", err)
	}
	if _, err := e.Open("a", "b"); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for two seeds, got %v", err)
	}
}

func TestOpen_FreshLogAfterClose(t *testing.T) {
	e, mt := newTestEngine(t)

	c1, _ := e.Open("first")
	mt.Advance(DefaultTypingDelay)
	c1.Close()

	c2, _ := e.Open()
	if c2.ID() == c1.ID() {
		t.Error("expected a new conversation id")
	}
	if n := len(c2.Messages()); n != 0 {
		t.Errorf("expected an empty log, got %d messages", n)
	}
}

func TestResolver_FailureUsesFallback(t *testing.T) {
	tests := []struct {
		name     string
		resolver Resolver
	}{
		{"error", ResolverFunc(func(context.Context, string) (string, error) { return "", errors.New("boom") })},
		{"empty reply", ResolverFunc(func(context.Context, string) (string, error) { return "", nil })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mt := newTestEngine(t, WithResolver(tt.resolver))
			c, _ := e.Open("hello")
			mt.Advance(DefaultTypingDelay + DefaultReplyDelay)
			assertTexts(t, c.Messages(), "hello", DefaultFallbackReply)
		})
	}
}

func TestSubscribe_EventSequence(t *testing.T) {
	e, mt := newTestEngine(t)
	c, _ := e.Open()

	var kinds []string
	unsubscribe := c.Subscribe(func(ev Event) {
		if ev.ConversationID != c.ID() {
			t.Errorf("event for wrong conversation: %s", ev.ConversationID)
		}
		k := string(ev.Kind)
		if ev.Kind == EventState {
			k += ":" + string(ev.State)
		}
		kinds = append(kinds, k)
	})

	c.Submit("hi")
	mt.Advance(DefaultTypingDelay + DefaultReplyDelay)

	want := []string{
		"appended",
		"state:awaiting_placeholder",
		"appended",
		"state:awaiting_reply",
		"removed",
		"appended",
		"state:idle",
	}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("expected events %v, got %v", want, kinds)
	}

	unsubscribe()
	c.Submit("again")
	if len(kinds) != len(want) {
		t.Errorf("expected no events after unsubscribe, got %v", kinds[len(want):])
	}
}

func TestConversations_AreIndependent(t *testing.T) {
	e, mt := newTestEngine(t)
	a, _ := e.Open("a")
	b, _ := e.Open("b")

	a.Close()
	mt.Advance(DefaultTypingDelay + DefaultReplyDelay)

	assertTexts(t, b.Messages(), "b", "re:b")
	if a.IsOpen() {
		t.Error("expected a to stay closed")
	}
}

func TestSnapshot(t *testing.T) {
	e, mt := newTestEngine(t)
	c, _ := e.Open("hi")
	mt.Advance(DefaultTypingDelay)

	snap := c.Snapshot()
	if snap.ID != c.ID() || !snap.Open || snap.Pending != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.State != models.StateAwaitingReply || len(snap.Messages) != 2 {
		t.Errorf("unexpected snapshot state %s with %d messages", snap.State, len(snap.Messages))
	}
	if !snap.OpenedAt.Equal(epoch) || !snap.LastActivity.Equal(epoch) {
		t.Errorf("unexpected timestamps opened=%v last=%v", snap.OpenedAt, snap.LastActivity)
	}
}

func TestWatch_SnapshotThenEvents(t *testing.T) {
	e, mt := newTestEngine(t)
	c, _ := e.Open("hi")
	mt.Advance(DefaultTypingDelay)

	var events []Event
	snap, unsubscribe := c.Watch(func(ev Event) { events = append(events, ev) })
	defer unsubscribe()

	if len(snap.Messages) != 2 || snap.State != models.StateAwaitingReply {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events before the next change, got %v", events)
	}

	mt.Advance(DefaultReplyDelay)
	if len(events) != 3 || events[0].Kind != EventRemoved || events[1].Kind != EventAppended {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[1].Message == nil || events[1].Message.Text != "re:hi" {
		t.Errorf("expected reply event, got %+v", events[1].Message)
	}

	c.Close()
	if last := events[len(events)-1]; last.Kind != EventClosed {
		t.Errorf("expected closed event last, got %s", last.Kind)
	}
}

func TestWatch_ClosedConversation(t *testing.T) {
	e, _ := newTestEngine(t)
	c, _ := e.Open()
	c.Close()

	called := false
	snap, unsubscribe := c.Watch(func(Event) { called = true })
	unsubscribe()
	if snap.Open || snap.State != models.StateClosed {
		t.Errorf("expected closed snapshot, got %+v", snap)
	}
	if called {
		t.Error("listener called for closed conversation")
	}
}

func TestNewEngine_RejectsNegativeDelays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReplyDelay = -time.Second
	if _, err := NewEngine(WithConfig(cfg)); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEngine_CustomConfig(t *testing.T) {
	cfg := Config{TypingDelay: 10 * time.Millisecond, ReplyDelay: 20 * time.Millisecond}
	e, mt := newTestEngine(t, WithConfig(cfg))
	c, _ := e.Open("hi")

	mt.Advance(10 * time.Millisecond)
	msgs := c.Messages()
	if len(msgs) != 2 || msgs[1].Text != DefaultPlaceholderText {
		t.Fatalf("expected default placeholder text, got %q", texts(msgs))
	}
	mt.Advance(20 * time.Millisecond)
	assertTexts(t, c.Messages(), "hi", "re:hi")
}

func TestEngine_SimpleTimer(t *testing.T) {
	e, err := NewEngine(
		WithConfig(Config{TypingDelay: time.Millisecond, ReplyDelay: time.Millisecond}),
		WithResolver(echoResolver),
	)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	c, _ := e.Open()
	defer c.Close()

	done := make(chan struct{})
	c.Subscribe(func(ev Event) {
		if ev.Kind == EventState && ev.State == models.StateIdle {
			close(done)
		}
	})
	if err := c.Submit("ping"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reply never arrived")
	}
	assertTexts(t, c.Messages(), "ping", "re:ping")
}
