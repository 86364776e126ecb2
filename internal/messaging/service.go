// Package messaging delivers owner notifications about finished visitor
// conversations over WhatsApp (Twilio or whatsmeow) or the log.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}

// Notification channels selectable through configuration.
const (
	ChannelLog      = "log"
	ChannelTwilio   = "twilio"
	ChannelWhatsApp = "whatsapp"
)

// DefaultSendTimeout bounds a single delivery attempt.
const DefaultSendTimeout = 30 * time.Second

// ErrServiceStopped is returned by services used after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// canonicalizePhone strips everything but digits and requires at least six.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}
