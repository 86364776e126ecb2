// Package typewriter drives a looping type/delete animation over a fixed list
// of phrases.
//
// The same phrase-cycle state machine backs both the timer-driven engine
// (Start) and the pure lazy sequence (Frames).
package typewriter

import (
	"fmt"
	"iter"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
)

// Direction tells whether the displayed text is growing or shrinking.
type Direction int

const (
	// Growing appends one rune per tick until the phrase is complete.
	Growing Direction = iota
	// Shrinking removes one rune per tick until the text is empty.
	Shrinking
)

func (d Direction) String() string {
	switch d {
	case Growing:
		return "growing"
	case Shrinking:
		return "shrinking"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// MarshalText renders the direction by name in JSON payloads.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds the animation cadence.
type Config struct {
	TypeInterval   time.Duration `json:"type_interval" yaml:"type_interval"`
	DeleteInterval time.Duration `json:"delete_interval" yaml:"delete_interval"`
	Hold           time.Duration `json:"hold" yaml:"hold"`
	Gap            time.Duration `json:"gap" yaml:"gap"`
}

// DefaultConfig returns the hero-banner cadence: type 100ms, delete 50ms,
// hold the full phrase for 2s and pause 500ms between phrases.
func DefaultConfig() Config {
	return Config{
		TypeInterval:   100 * time.Millisecond,
		DeleteInterval: 50 * time.Millisecond,
		Hold:           2 * time.Second,
		Gap:            500 * time.Millisecond,
	}
}

// Validate checks the cadence. Intervals must be non-negative, and at least
// one of TypeInterval or DeleteInterval must be positive so the cycle always
// makes progress in time.
func (c Config) Validate() error {
	if c.TypeInterval < 0 || c.DeleteInterval < 0 || c.Hold < 0 || c.Gap < 0 {
		return fmt.Errorf("typewriter intervals must be non-negative: %w", models.ErrInvalidInput)
	}
	if c.TypeInterval == 0 && c.DeleteInterval == 0 {
		return fmt.Errorf("typewriter type and delete intervals cannot both be zero: %w", models.ErrInvalidInput)
	}
	return nil
}

// Frame is one render state of the animation.
type Frame struct {
	Text        string        `json:"text"`
	PhraseIndex int           `json:"phrase_index"`
	Direction   Direction     `json:"direction"`
	Delay       time.Duration `json:"delay"` // time until the next frame
}

// cycle is the phrase-cycle state machine. It is not safe for concurrent use.
type cycle struct {
	phrases [][]rune
	cfg     Config
	index   int
	length  int
	dir     Direction
}

func newCycle(phrases []string, cfg Config) (*cycle, error) {
	if len(phrases) == 0 {
		return nil, fmt.Errorf("typewriter needs at least one phrase: %w", models.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runes := make([][]rune, len(phrases))
	allEmpty := true
	for i, p := range phrases {
		if len(p) > models.MaxPhraseLength {
			return nil, fmt.Errorf("phrase %d exceeds %d bytes: %w", i, models.MaxPhraseLength, models.ErrInvalidInput)
		}
		runes[i] = []rune(p)
		if p != "" {
			allEmpty = false
		}
	}
	// Empty phrases only ever wait Gap+TypeInterval.
	if allEmpty && cfg.Gap+cfg.TypeInterval == 0 {
		return nil, fmt.Errorf("empty phrases need a positive gap or type interval: %w", models.ErrInvalidInput)
	}
	return &cycle{phrases: runes, cfg: cfg, dir: Growing}, nil
}

// frame reports the current state and the delay before the next advance.
func (c *cycle) frame() Frame {
	full := len(c.phrases[c.index])
	var delay time.Duration
	switch {
	case full == 0:
		delay = c.cfg.Gap + c.cfg.TypeInterval
	case c.dir == Growing && c.length < full:
		delay = c.cfg.TypeInterval
	case c.dir == Growing:
		delay = c.cfg.Hold + c.cfg.DeleteInterval
	case c.length > 0:
		delay = c.cfg.DeleteInterval
	default:
		delay = c.cfg.Gap + c.cfg.TypeInterval
	}
	return Frame{
		Text:        string(c.phrases[c.index][:c.length]),
		PhraseIndex: c.index,
		Direction:   c.dir,
		Delay:       delay,
	}
}

// advance moves to the next render state.
func (c *cycle) advance() {
	full := len(c.phrases[c.index])
	switch c.dir {
	case Growing:
		if c.length < full {
			c.length++
			return
		}
		c.dir = Shrinking
		if c.length > 0 {
			c.length--
			return
		}
		// An empty phrase has nothing to delete.
		c.nextPhrase()
	case Shrinking:
		if c.length > 0 {
			c.length--
			return
		}
		c.nextPhrase()
	}
}

func (c *cycle) nextPhrase() {
	c.index = (c.index + 1) % len(c.phrases)
	c.dir = Growing
	c.length = 0
	if len(c.phrases[c.index]) > 0 {
		c.length = 1
	}
}

// Frames returns the infinite lazy sequence of render states, starting with
// the empty text of the first phrase. Each Frame carries the delay the
// timer-driven engine would wait before producing the next one.
func Frames(phrases []string, cfg Config) (iter.Seq[Frame], error) {
	c, err := newCycle(phrases, cfg)
	if err != nil {
		return nil, err
	}
	return func(yield func(Frame) bool) {
		// Each iteration restarts from the initial state.
		local := &cycle{phrases: c.phrases, cfg: c.cfg, dir: Growing}
		for {
			if !yield(local.frame()) {
				return
			}
			local.advance()
		}
	}, nil
}
