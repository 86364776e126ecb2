package main

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// pump forwards engine callbacks to the UI loop from its own goroutine.
// Engine observers run under engine locks, so they only ever append here.
type pump struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []tea.Msg
	closed bool
}

func newPump() *pump {
	p := &pump{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// push queues msg. It never blocks; messages after close are dropped.
func (p *pump) push(msg tea.Msg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, msg)
	p.cond.Signal()
}

// run delivers queued messages in order until close.
func (p *pump) run(send func(tea.Msg)) {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, msg := range batch {
			send(msg)
		}
	}
}

func (p *pump) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.queue = nil
	p.cond.Broadcast()
}
