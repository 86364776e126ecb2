// Package timer provides cancellable timer queues for the interaction engines.
//
// Every scheduled callback is identified by an id that the owner keeps and
// cancels on teardown. SimpleTimer runs on the wall clock; ManualTimer runs on
// a virtual clock advanced explicitly, which makes engine timelines testable.
package timer

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
)

// Timer defines the interface for scheduling delayed actions.
type Timer interface {
	// ScheduleAfter schedules fn to run after delay and returns its cancel id.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// Cancel cancels a scheduled function by id. Unknown ids are ignored.
	Cancel(id string) error

	// Stop cancels every scheduled function.
	Stop()

	// Now reports the current time on this timer's clock.
	Now() time.Time

	// ListActive returns information about all pending timers.
	ListActive() []models.TimerInfo
}

// Compile-time checks that both clocks implement Timer.
var (
	_ Timer = (*SimpleTimer)(nil)
	_ Timer = (*ManualTimer)(nil)
)

// timerEntry tracks information about a scheduled timer
type timerEntry struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
	description string
}

// SimpleTimer implements the Timer interface using Go's standard time package.
//
// A callback only runs if its id is still registered when the underlying
// time.Timer fires. Callers that need a hard guarantee against a callback
// that already started (Cancel racing a firing timer) must also guard their
// own state, as the engines do with generation tokens.
type SimpleTimer struct {
	timers map[string]*timerEntry
	mu     sync.RWMutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	slog.Debug("Creating SimpleTimer")
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if delay < 0 {
		return "", fmt.Errorf("negative delay %v: %w", delay, models.ErrInvalidInput)
	}
	if fn == nil {
		return "", fmt.Errorf("nil callback: %w", models.ErrInvalidInput)
	}

	now := time.Now()

	// The entry is registered before the time.Timer exists so a zero delay
	// cannot fire ahead of its own registration.
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	entry := &timerEntry{
		scheduledAt: now,
		expiresAt:   now.Add(delay),
		description: fmt.Sprintf("Timer scheduled for %v", delay),
	}
	t.timers[id] = entry
	entry.timer = time.AfterFunc(delay, func() { t.fire(id, fn) })
	t.mu.Unlock()

	slog.Debug("SimpleTimer ScheduleAfter succeeded", "id", id, "delay", delay)
	return id, nil
}

func (t *SimpleTimer) fire(id string, fn func()) {
	t.mu.Lock()
	_, ok := t.timers[id]
	delete(t.timers, id)
	t.mu.Unlock()

	if !ok {
		slog.Debug("SimpleTimer dropping cancelled timer", "id", id)
		return
	}
	fn()
}

// Cancel cancels a scheduled function by ID.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id)
		return nil
	}

	slog.Debug("SimpleTimer Cancel: timer not found", "id", id)
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	slog.Debug("SimpleTimer stopping all timers", "count", len(t.timers))
	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	t.timers = make(map[string]*timerEntry)
	slog.Info("SimpleTimer stopped all timers")
}

// Now returns the wall-clock time.
func (t *SimpleTimer) Now() time.Time {
	return time.Now()
}

// ListActive returns information about all active timers.
func (t *SimpleTimer) ListActive() []models.TimerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]models.TimerInfo, 0, len(t.timers))
	now := time.Now()

	for id, entry := range t.timers {
		result = append(result, timerInfo(id, entry.scheduledAt, entry.expiresAt, entry.description, now))
	}
	sortTimerInfo(result)

	slog.Debug("SimpleTimer ListActive", "count", len(result))
	return result
}

// GetTimer returns information about a specific timer by ID.
func (t *SimpleTimer) GetTimer(id string) (*models.TimerInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, exists := t.timers[id]
	if !exists {
		return nil, fmt.Errorf("timer with ID %s not found", id)
	}

	info := timerInfo(id, entry.scheduledAt, entry.expiresAt, entry.description, time.Now())
	return &info, nil
}

func timerInfo(id string, scheduledAt, expiresAt time.Time, description string, now time.Time) models.TimerInfo {
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return models.TimerInfo{
		ID:          id,
		ScheduledAt: scheduledAt,
		ExpiresAt:   expiresAt,
		Remaining:   remaining.String(),
		Description: description,
	}
}

// sortTimerInfo orders by expiry, then id, so listings are stable.
func sortTimerInfo(infos []models.TimerInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ExpiresAt.Equal(infos[j].ExpiresAt) {
			return infos[i].ExpiresAt.Before(infos[j].ExpiresAt)
		}
		return infos[i].ID < infos[j].ID
	})
}
