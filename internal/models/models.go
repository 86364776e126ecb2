// Package models defines the core data structures for PortfolioChat.
//
// It includes the conversation message log types, transcripts, and the JSON
// response envelope shared by the engines, the store, and the HTTP shell.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a submitted chat message
	MaxMessageLength = 4096
	// MaxPhraseLength defines the maximum allowed length for a single typewriter phrase
	MaxPhraseLength = 512
)

// Error variables for better error handling and testability
var (
	// ErrInvalidInput is returned when a caller violates an input precondition
	// (empty phrase list, empty or whitespace-only message text).
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState is returned when operating on a closed conversation.
	ErrInvalidState = errors.New("invalid state")
	// ErrConversationNotFound is returned when a conversation id is unknown.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageTooLong is returned when a submitted message exceeds MaxMessageLength.
	ErrMessageTooLong = errors.New("message exceeds maximum length")
)

// Sender identifies who authored a message.
type Sender string

const (
	// SenderUser marks messages typed by the visitor.
	SenderUser Sender = "user"
	// SenderCounterpart marks simulated replies (and the typing placeholder).
	SenderCounterpart Sender = "counterpart"
)

// IsValidSender checks if the given sender is supported.
func IsValidSender(s Sender) bool {
	switch s {
	case SenderUser, SenderCounterpart:
		return true
	default:
		return false
	}
}

// Message is one entry of a conversation log.
type Message struct {
	ID            string    `json:"id"`
	Sender        Sender    `json:"sender"`
	Text          string    `json:"text"`
	IsPlaceholder bool      `json:"is_placeholder,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NormalizeMessageText trims the submitted text and validates it.
// It returns ErrInvalidInput for empty or whitespace-only text.
func NormalizeMessageText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrInvalidInput
	}
	if len(trimmed) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return trimmed, nil
}

// Transcript is the archived, placeholder-free record of a closed conversation.
type Transcript struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	OpenedAt       time.Time `json:"opened_at"`
	ClosedAt       time.Time `json:"closed_at"`
	CloseReason    string    `json:"close_reason,omitempty"`
}

// CountBySender returns how many non-placeholder messages the given sender authored.
func (t Transcript) CountBySender(s Sender) int {
	n := 0
	for _, m := range t.Messages {
		if m.Sender == s && !m.IsPlaceholder {
			n++
		}
	}
	return n
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
