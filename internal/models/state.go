// Package models defines state management structures for PortfolioChat conversations.
package models

import "time"

// ConversationState is the per-conversation reply choreography state.
type ConversationState string

const (
	// StateIdle means no submission is awaiting a reply.
	StateIdle ConversationState = "idle"
	// StateAwaitingPlaceholder means a user message was appended and the typing placeholder is not yet shown.
	StateAwaitingPlaceholder ConversationState = "awaiting_placeholder"
	// StateAwaitingReply means the typing placeholder is shown.
	StateAwaitingReply ConversationState = "awaiting_reply"
	// StateClosed is terminal.
	StateClosed ConversationState = "closed"
)

// IsValidConversationState checks if the given state is one of the known states.
func IsValidConversationState(s ConversationState) bool {
	switch s {
	case StateIdle, StateAwaitingPlaceholder, StateAwaitingReply, StateClosed:
		return true
	default:
		return false
	}
}

// ConversationSnapshot is a point-in-time copy of a conversation, safe to serialize.
type ConversationSnapshot struct {
	ID           string            `json:"id"`
	State        ConversationState `json:"state"`
	Open         bool              `json:"open"`
	Pending      int               `json:"pending"`
	Messages     []Message         `json:"messages"`
	OpenedAt     time.Time         `json:"opened_at"`
	LastActivity time.Time         `json:"last_activity"`
}

// TimerInfo describes an active scheduled timer.
type TimerInfo struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
	Description string    `json:"description"`
}
