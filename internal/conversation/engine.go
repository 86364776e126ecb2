// Package conversation implements the scripted chat engine: an ordered message
// log, a transient typing placeholder and a delayed reply per submission.
//
// Every conversation owns its timer ids and guards its state with its own
// mutex. Timer callbacks carry a generation token and re-check it under that
// mutex, so once Close returns no callback can mutate the log.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
	"github.com/BTreeMap/PortfolioChat/internal/timer"
	"github.com/BTreeMap/PortfolioChat/internal/util"
)

const (
	// DefaultTypingDelay is the pause before the placeholder appears.
	DefaultTypingDelay = 500 * time.Millisecond
	// DefaultReplyDelay is how long the placeholder stays before the reply.
	DefaultReplyDelay = 1500 * time.Millisecond
	// DefaultPlaceholderText is the text of the typing placeholder.
	DefaultPlaceholderText = "typing..."
	// DefaultFallbackReply is sent when reply resolution fails.
	DefaultFallbackReply = "I'm having trouble connecting. Please try again."
	// DefaultResolveTimeout bounds a single reply resolution.
	DefaultResolveTimeout = 30 * time.Second
)

// Config holds the reply choreography.
type Config struct {
	TypingDelay     time.Duration `json:"typing_delay" yaml:"typing_delay"`
	ReplyDelay      time.Duration `json:"reply_delay" yaml:"reply_delay"`
	PlaceholderText string        `json:"placeholder_text" yaml:"placeholder_text"`
	FallbackReply   string        `json:"fallback_reply" yaml:"fallback_reply"`
	ResolveTimeout  time.Duration `json:"resolve_timeout" yaml:"resolve_timeout"`
}

// DefaultConfig returns the chat widget cadence.
func DefaultConfig() Config {
	return Config{
		TypingDelay:     DefaultTypingDelay,
		ReplyDelay:      DefaultReplyDelay,
		PlaceholderText: DefaultPlaceholderText,
		FallbackReply:   DefaultFallbackReply,
		ResolveTimeout:  DefaultResolveTimeout,
	}
}

// Validate checks the delays.
func (c Config) Validate() error {
	if c.TypingDelay < 0 || c.ReplyDelay < 0 || c.ResolveTimeout < 0 {
		return fmt.Errorf("conversation delays must be non-negative: %w", models.ErrInvalidInput)
	}
	return nil
}

// withDefaults fills blank texts.
func (c Config) withDefaults() Config {
	if c.PlaceholderText == "" {
		c.PlaceholderText = DefaultPlaceholderText
	}
	if c.FallbackReply == "" {
		c.FallbackReply = DefaultFallbackReply
	}
	return c
}

// Opts holds optional engine dependencies.
type Opts struct {
	Config    *Config
	Timer     timer.Timer
	Resolver  Resolver
	NewID     func() string
	NewConvID func() string
}

// Option defines a configuration option for NewEngine.
type Option func(*Opts)

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *Opts) {
		o.Config = &cfg
	}
}

// WithTimer schedules transitions on t instead of a private wall-clock timer.
func WithTimer(t timer.Timer) Option {
	return func(o *Opts) {
		o.Timer = t
	}
}

// WithResolver sets the reply strategy.
func WithResolver(r Resolver) Option {
	return func(o *Opts) {
		o.Resolver = r
	}
}

// WithIDGenerator sets the message id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Opts) {
		o.NewID = fn
	}
}

// WithConversationIDGenerator sets the conversation id generator.
func WithConversationIDGenerator(fn func() string) Option {
	return func(o *Opts) {
		o.NewConvID = fn
	}
}

// Engine opens conversations that share a configuration, a timer queue and a
// reply strategy. Conversations never share state with each other.
type Engine struct {
	cfg       Config
	timer     timer.Timer
	resolver  Resolver
	newID     func() string
	newConvID func() string
}

// NewEngine creates an Engine. Without WithResolver, replies come from
// DefaultTemplateResolver.
func NewEngine(opts ...Option) (*Engine, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}

	cfg := DefaultConfig()
	if o.Config != nil {
		cfg = o.Config.withDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		timer:     o.Timer,
		resolver:  o.Resolver,
		newID:     o.NewID,
		newConvID: o.NewConvID,
	}
	if e.timer == nil {
		e.timer = timer.NewSimpleTimer()
	}
	if e.resolver == nil {
		e.resolver = DefaultTemplateResolver()
	}
	if e.newID == nil {
		e.newID = util.NewMessageID
	}
	if e.newConvID == nil {
		e.newConvID = util.NewConversationID
	}
	slog.Debug("Engine.NewEngine: created", "typingDelay", cfg.TypingDelay, "replyDelay", cfg.ReplyDelay)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Timer returns the timer queue shared by the engine's conversations.
func (e *Engine) Timer() timer.Timer {
	return e.timer
}

// Open creates a fresh conversation. An optional seed message is submitted
// exactly as Submit would; an invalid seed fails the whole Open.
func (e *Engine) Open(seed ...string) (*Conversation, error) {
	if len(seed) > 1 {
		return nil, fmt.Errorf("at most one seed message allowed, got %d: %w", len(seed), models.ErrInvalidInput)
	}
	var seedText string
	if len(seed) == 1 {
		text, err := models.NormalizeMessageText(seed[0])
		if err != nil {
			return nil, err
		}
		seedText = text
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := e.timer.Now()
	c := &Conversation{
		id:           e.newConvID(),
		engine:       e,
		state:        models.StateIdle,
		open:         true,
		ctx:          ctx,
		cancel:       cancel,
		openedAt:     now,
		lastActivity: now,
	}
	if seedText != "" {
		c.mu.Lock()
		err := c.submitLocked(seedText)
		c.mu.Unlock()
		if err != nil {
			c.Close()
			return nil, err
		}
	}
	slog.Debug("Engine.Open: opened conversation", "id", c.id, "seeded", seedText != "")
	return c, nil
}

// EventKind names a conversation change.
type EventKind string

const (
	EventAppended EventKind = "appended"
	EventRemoved  EventKind = "removed"
	EventState    EventKind = "state"
	EventClosed   EventKind = "closed"
)

// Event describes one change to a conversation.
type Event struct {
	Kind           EventKind                `json:"kind"`
	ConversationID string                   `json:"conversation_id"`
	Message        *models.Message          `json:"message,omitempty"`
	State          models.ConversationState `json:"state"`
}

// Listener receives events. It runs while the conversation holds its lock, so
// it must not call back into the same Conversation and should not block.
type Listener func(Event)

// Conversation is one open chat session.
type Conversation struct {
	mu     sync.Mutex
	id     string
	engine *Engine

	messages      []models.Message
	queue         []string // submissions without a reply yet, head in flight
	state         models.ConversationState
	open          bool
	placeholderID string
	timerID       string
	seq           uint64

	listeners    map[int]Listener
	nextListener int

	ctx          context.Context
	cancel       context.CancelFunc
	openedAt     time.Time
	lastActivity time.Time
}

// ID returns the conversation id.
func (c *Conversation) ID() string {
	return c.id
}

// OpenedAt returns when the conversation was opened.
func (c *Conversation) OpenedAt() time.Time {
	return c.openedAt
}

// Submit appends a user message and queues its reply. Empty text fails with
// models.ErrInvalidInput and a closed conversation with models.ErrInvalidState;
// neither mutates the log.
func (c *Conversation) Submit(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return fmt.Errorf("conversation %s is closed: %w", c.id, models.ErrInvalidState)
	}
	normalized, err := models.NormalizeMessageText(text)
	if err != nil {
		return err
	}
	return c.submitLocked(normalized)
}

// submitLocked appends already normalized text. Caller must hold c.mu.
func (c *Conversation) submitLocked(text string) error {
	if c.state == models.StateIdle {
		// Arm the cycle first so a scheduling failure leaves the log untouched.
		if err := c.schedule(c.engine.cfg.TypingDelay, c.onTypingElapsed); err != nil {
			return err
		}
	}

	c.append(models.Message{
		ID:        c.engine.newID(),
		Sender:    models.SenderUser,
		Text:      text,
		CreatedAt: c.engine.timer.Now(),
	})
	c.queue = append(c.queue, text)
	c.lastActivity = c.engine.timer.Now()

	switch c.state {
	case models.StateIdle:
		c.setState(models.StateAwaitingPlaceholder)
	case models.StateAwaitingReply:
		// Keep the placeholder last so it never sits above a newer user message.
		if c.placeholderID != "" {
			c.removePlaceholder()
			c.appendPlaceholder()
		}
	}
	slog.Debug("Conversation.Submit: queued", "id", c.id, "pending", len(c.queue), "state", c.state)
	return nil
}

// schedule arms the single pending transition. Caller must hold c.mu.
func (c *Conversation) schedule(delay time.Duration, fn func(seq uint64)) error {
	c.seq++
	seq := c.seq
	id, err := c.engine.timer.ScheduleAfter(delay, func() { fn(seq) })
	if err != nil {
		slog.Error("Conversation.schedule: failed to schedule transition", "id", c.id, "error", err)
		return err
	}
	c.timerID = id
	return nil
}

// current reports whether a callback with seq may still act. Caller must hold c.mu.
func (c *Conversation) current(seq uint64) bool {
	return c.open && seq == c.seq
}

func (c *Conversation) onTypingElapsed(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current(seq) {
		return
	}
	c.timerID = ""
	c.appendPlaceholder()
	c.setState(models.StateAwaitingReply)
	if err := c.schedule(c.engine.cfg.ReplyDelay, c.onReplyDue); err != nil {
		c.recoverFromScheduleError()
	}
}

func (c *Conversation) onReplyDue(seq uint64) {
	c.mu.Lock()
	if !c.current(seq) {
		c.mu.Unlock()
		return
	}
	c.timerID = ""
	text := c.queue[0]
	ctx := c.ctx
	c.mu.Unlock()

	reply := c.resolve(ctx, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Close may have run while the resolver was busy.
	if !c.current(seq) {
		slog.Debug("Conversation.onReplyDue: dropping reply for closed conversation", "id", c.id)
		return
	}
	c.removePlaceholder()
	c.append(models.Message{
		ID:        c.engine.newID(),
		Sender:    models.SenderCounterpart,
		Text:      reply,
		CreatedAt: c.engine.timer.Now(),
	})
	c.queue = c.queue[1:]
	c.lastActivity = c.engine.timer.Now()

	if len(c.queue) == 0 {
		c.setState(models.StateIdle)
		return
	}
	c.setState(models.StateAwaitingPlaceholder)
	if err := c.schedule(c.engine.cfg.TypingDelay, c.onTypingElapsed); err != nil {
		c.recoverFromScheduleError()
	}
}

// resolve runs the reply strategy without holding c.mu.
func (c *Conversation) resolve(ctx context.Context, text string) string {
	cfg := c.engine.cfg
	if cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ResolveTimeout)
		defer cancel()
	}

	reply, err := c.engine.resolver.Resolve(ctx, text)
	if err != nil {
		slog.Warn("Conversation.resolve: resolver failed, using fallback", "id", c.id, "error", err)
		return cfg.FallbackReply
	}
	if reply == "" {
		slog.Warn("Conversation.resolve: resolver returned empty reply, using fallback", "id", c.id)
		return cfg.FallbackReply
	}
	return reply
}

// recoverFromScheduleError answers every queued submission with the fallback
// so no user message is left without a reply. Caller must hold c.mu.
func (c *Conversation) recoverFromScheduleError() {
	c.removePlaceholder()
	for range c.queue {
		c.append(models.Message{
			ID:        c.engine.newID(),
			Sender:    models.SenderCounterpart,
			Text:      c.engine.cfg.FallbackReply,
			CreatedAt: c.engine.timer.Now(),
		})
	}
	c.queue = nil
	c.setState(models.StateIdle)
}

func (c *Conversation) append(m models.Message) {
	c.messages = append(c.messages, m)
	c.notify(Event{Kind: EventAppended, Message: &m})
}

func (c *Conversation) appendPlaceholder() {
	c.placeholderID = c.engine.newID()
	c.append(models.Message{
		ID:            c.placeholderID,
		Sender:        models.SenderCounterpart,
		Text:          c.engine.cfg.PlaceholderText,
		IsPlaceholder: true,
		CreatedAt:     c.engine.timer.Now(),
	})
}

func (c *Conversation) removePlaceholder() {
	if c.placeholderID == "" {
		return
	}
	i := slices.IndexFunc(c.messages, func(m models.Message) bool { return m.ID == c.placeholderID })
	c.placeholderID = ""
	if i < 0 {
		return
	}
	removed := c.messages[i]
	c.messages = slices.Delete(c.messages, i, i+1)
	c.notify(Event{Kind: EventRemoved, Message: &removed})
}

func (c *Conversation) setState(s models.ConversationState) {
	if c.state == s {
		return
	}
	c.state = s
	c.notify(Event{Kind: EventState})
}

func (c *Conversation) notify(ev Event) {
	ev.ConversationID = c.id
	ev.State = c.state
	for _, id := range c.listenerOrder() {
		c.listeners[id](ev)
	}
}

// listenerOrder returns listener ids in subscription order.
func (c *Conversation) listenerOrder() []int {
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Subscribe registers l for future events and returns a function that removes
// it. Subscribing to a closed conversation is a no-op.
func (c *Conversation) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.subscribeLocked(l)
}

// Watch returns a snapshot and subscribes l to every event after it, with no
// gap or overlap between the two.
func (c *Conversation) Watch(l Listener) (models.ConversationSnapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(), c.subscribeLocked(l)
}

func (c *Conversation) subscribeLocked(l Listener) func() {
	if !c.open || l == nil {
		return func() {}
	}
	if c.listeners == nil {
		c.listeners = make(map[int]Listener)
	}
	c.nextListener++
	id := c.nextListener
	c.listeners[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Close cancels any pending transition, marks the conversation closed and
// returns the final transcript without the placeholder. The log is discarded.
// Closing an already closed conversation returns nil.
func (c *Conversation) Close() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}
	c.open = false
	c.seq++
	if c.timerID != "" {
		_ = c.engine.timer.Cancel(c.timerID)
		c.timerID = ""
	}
	c.cancel()

	final := make([]models.Message, 0, len(c.messages))
	for _, m := range c.messages {
		if !m.IsPlaceholder {
			final = append(final, m)
		}
	}
	c.messages = nil
	c.queue = nil
	c.placeholderID = ""
	c.state = models.StateClosed
	c.notify(Event{Kind: EventClosed})
	c.listeners = nil

	slog.Debug("Conversation.Close: closed", "id", c.id, "messages", len(final))
	return final
}

// Messages returns a copy of the current log.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// State returns the current state.
func (c *Conversation) State() models.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the conversation accepts submissions.
func (c *Conversation) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Pending returns the number of submissions still waiting for a reply.
func (c *Conversation) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// LastActivity returns the time of the latest submission or reply.
func (c *Conversation) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Snapshot returns a consistent view of the conversation.
func (c *Conversation) Snapshot() models.ConversationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() models.ConversationSnapshot {
	return models.ConversationSnapshot{
		ID:           c.id,
		State:        c.state,
		Open:         c.open,
		Pending:      len(c.queue),
		Messages:     slices.Clone(c.messages),
		OpenedAt:     c.openedAt,
		LastActivity: c.lastActivity,
	}
}
