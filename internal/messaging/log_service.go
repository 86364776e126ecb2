package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogService writes notifications to the structured log. It is the default
// when no WhatsApp channel is configured.
type LogService struct{}

func NewLogService() *LogService {
	return &LogService{}
}

// ValidateAndCanonicalizeRecipient accepts any recipient, including none.
func (s *LogService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return strings.TrimSpace(recipient), nil
}

func (s *LogService) Start(ctx context.Context) error { return nil }

func (s *LogService) Stop() error { return nil }

func (s *LogService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Info("LogService.SendMessage: owner notification", "to", to, "body", body)
	return nil
}

// SentMessage is a message recorded by MockService.
type SentMessage struct {
	To   string
	Body string
}

// MockService records sends for tests. Err, when set, fails every send.
type MockService struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

func NewMockService() *MockService {
	return &MockService{}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error { return nil }

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
