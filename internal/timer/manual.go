package timer

import (
	"container/heap"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
)

// manualEntry is a callback waiting on the virtual clock.
type manualEntry struct {
	id          string
	fn          func()
	scheduledAt time.Time
	deadline    time.Time
	seq         int64
	cancelled   bool
	index       int
}

// entryHeap orders entries by deadline, then by scheduling order.
type entryHeap []*manualEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*manualEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	e.index = -1
	return e
}

// ManualTimer is a Timer driven by a virtual clock.
//
// Nothing fires until Advance or Next is called. Callbacks run on the caller's
// goroutine, one at a time, in deadline order; callbacks with equal deadlines
// run in the order they were scheduled.
type ManualTimer struct {
	mu      sync.Mutex
	now     time.Time
	queue   entryHeap
	entries map[string]*manualEntry
	seq     int64
	nextID  int64
}

// NewManualTimer creates a ManualTimer whose clock starts at start.
func NewManualTimer(start time.Time) *ManualTimer {
	return &ManualTimer{
		now:     start,
		entries: make(map[string]*manualEntry),
	}
}

// ScheduleAfter schedules fn to run once the virtual clock reaches now+delay.
func (m *ManualTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if delay < 0 {
		return "", fmt.Errorf("negative delay %v: %w", delay, models.ErrInvalidInput)
	}
	if fn == nil {
		return "", fmt.Errorf("nil callback: %w", models.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.seq++
	e := &manualEntry{
		id:          fmt.Sprintf("manual_%d", m.nextID),
		fn:          fn,
		scheduledAt: m.now,
		deadline:    m.now.Add(delay),
		seq:         m.seq,
	}
	heap.Push(&m.queue, e)
	m.entries[e.id] = e
	return e.id, nil
}

// Cancel removes a pending callback. Unknown ids are ignored.
func (m *ManualTimer) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	e.cancelled = true
	delete(m.entries, id)
	if e.index >= 0 {
		heap.Remove(&m.queue, e.index)
	}
	return nil
}

// Stop cancels every pending callback.
func (m *ManualTimer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		e.cancelled = true
	}
	m.entries = make(map[string]*manualEntry)
	m.queue = nil
	slog.Debug("ManualTimer stopped all timers")
}

// Now returns the virtual time.
func (m *ManualTimer) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of callbacks waiting to fire.
func (m *ManualTimer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Advance moves the clock forward by d, firing every callback whose deadline
// falls within the window, including callbacks scheduled by earlier callbacks
// in the same window. It returns the number of callbacks fired.
func (m *ManualTimer) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	fired := 0
	for {
		e := m.popDue(target)
		if e == nil {
			break
		}
		e.fn()
		fired++
	}

	m.mu.Lock()
	if m.now.Before(target) {
		m.now = target
	}
	m.mu.Unlock()
	return fired
}

// Next advances the clock to the earliest pending deadline and fires that one
// callback. It returns false when nothing is pending.
func (m *ManualTimer) Next() bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	target := m.queue[0].deadline
	m.mu.Unlock()

	e := m.popDue(target)
	if e == nil {
		return false
	}
	e.fn()
	return true
}

// popDue removes and returns the earliest entry due at or before target,
// moving the clock to its deadline.
func (m *ManualTimer) popDue(target time.Time) *manualEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 || m.queue[0].deadline.After(target) {
		return nil
	}
	e := heap.Pop(&m.queue).(*manualEntry)
	delete(m.entries, e.id)
	if e.deadline.After(m.now) {
		m.now = e.deadline
	}
	return e
}

// ListActive returns information about all pending callbacks.
func (m *ManualTimer) ListActive() []models.TimerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]models.TimerInfo, 0, len(m.entries))
	for id, e := range m.entries {
		result = append(result, timerInfo(id, e.scheduledAt, e.deadline, fmt.Sprintf("Manual timer due at %v", e.deadline.Sub(e.scheduledAt)), m.now))
	}
	sortTimerInfo(result)
	return result
}
