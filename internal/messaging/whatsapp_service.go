package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/PortfolioChat/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the whatsmeow client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // set when client is a live session

	mu        sync.Mutex
	stopped   bool
	handlerID uint32
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{client: client}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
	}
	return s
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start registers a connection-state logger on a live session.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event handling")
		return nil
	}
	id := s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Connected:
			slog.Info("WhatsAppService: connected")
		case *events.Disconnected:
			slog.Warn("WhatsAppService: disconnected")
		case *events.LoggedOut:
			slog.Error("WhatsAppService: logged out, owner notifications will fail", "reason", v.Reason.String())
		}
	})
	s.mu.Lock()
	s.handlerID = id
	s.mu.Unlock()
	return nil
}

// Stop removes the event handler and disconnects a live session.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().RemoveEventHandler(s.handlerID)
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends body to the canonicalized recipient.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("WhatsAppService.SendMessage: message sent", "to", canonicalTo)
	return nil
}
