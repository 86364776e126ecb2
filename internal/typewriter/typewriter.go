package typewriter

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/timer"
)

// Observer receives every render state. It runs while the handle holds its
// lock, so it must not call back into the same Handle and should not block.
type Observer func(Frame)

// Opts holds optional engine settings.
type Opts struct {
	Timer      timer.Timer
	StartDelay time.Duration
	Name       string
}

// Option defines a configuration option for Start.
type Option func(*Opts)

// WithTimer schedules ticks on t instead of a private wall-clock timer.
func WithTimer(t timer.Timer) Option {
	return func(o *Opts) {
		o.Timer = t
	}
}

// WithStartDelay waits d (instead of the type interval) before the first
// character appears.
func WithStartDelay(d time.Duration) Option {
	return func(o *Opts) {
		o.StartDelay = d
	}
}

// WithName labels the handle in logs.
func WithName(name string) Option {
	return func(o *Opts) {
		o.Name = name
	}
}

// Handle is one running animation. It owns exactly one pending tick at a time.
type Handle struct {
	mu        sync.Mutex
	name      string
	timer     timer.Timer
	ownsTimer bool
	cycle     *cycle
	observer  Observer
	timerID   string
	seq       uint64
	stopped   bool
}

// Start validates the phrases and cadence, emits the initial empty text to
// observer and schedules the animation. Invalid input returns an error
// wrapping models.ErrInvalidInput and schedules nothing.
func Start(phrases []string, cfg Config, observer Observer, opts ...Option) (*Handle, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}

	c, err := newCycle(phrases, cfg)
	if err != nil {
		slog.Warn("Typewriter.Start: rejected", "name", o.Name, "error", err)
		return nil, err
	}
	if o.StartDelay < 0 {
		o.StartDelay = 0
	}

	h := &Handle{
		name:     o.Name,
		timer:    o.Timer,
		cycle:    c,
		observer: observer,
	}
	if h.timer == nil {
		h.timer = timer.NewSimpleTimer()
		h.ownsTimer = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f := c.frame()
	h.emit(f)
	delay := f.Delay
	if o.StartDelay > 0 {
		delay = o.StartDelay
	}
	if err := h.schedule(delay); err != nil {
		return nil, err
	}
	slog.Debug("Typewriter.Start: started", "name", h.name, "phrases", len(phrases))
	return h, nil
}

// schedule arms the next tick. Caller must hold h.mu.
func (h *Handle) schedule(delay time.Duration) error {
	h.seq++
	seq := h.seq
	id, err := h.timer.ScheduleAfter(delay, func() { h.tick(seq) })
	if err != nil {
		slog.Error("Typewriter.schedule: failed to schedule tick", "name", h.name, "error", err)
		return err
	}
	h.timerID = id
	return nil
}

func (h *Handle) tick(seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A tick from a cancelled or superseded schedule never touches state.
	if h.stopped || seq != h.seq {
		return
	}
	h.timerID = ""
	h.cycle.advance()
	f := h.cycle.frame()
	h.emit(f)
	if err := h.schedule(f.Delay); err != nil {
		h.stopped = true
	}
}

func (h *Handle) emit(f Frame) {
	if h.observer != nil {
		h.observer(f)
	}
}

// Current returns the latest render state.
func (h *Handle) Current() Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cycle.frame()
}

// Stopped reports whether Stop has been called.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Stop cancels the pending tick. It is idempotent, and once it returns the
// observer is never invoked again. Calling Stop on a nil handle is a no-op.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.stopped = true
	h.seq++
	if h.timerID != "" {
		_ = h.timer.Cancel(h.timerID)
		h.timerID = ""
	}
	if h.ownsTimer {
		h.timer.Stop()
	}
	slog.Debug("Typewriter.Stop: stopped", "name", h.name)
}
