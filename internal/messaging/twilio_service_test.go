package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/PortfolioChat/internal/twiliowhatsapp"
)

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "whatsapp:+1-555-123-4567", "hi"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "+15551234567" {
		t.Errorf("unexpected sends %+v", mock.SentMessages)
	}
}

func TestTwilioService_ClientErrorPropagates(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	mock.Err = errors.New("rate limited")
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "15551234567", "hi"); err == nil {
		t.Error("expected client error")
	}
}

func TestTwilioService_Stop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	svc.Stop()
	if err := svc.SendMessage(context.Background(), "15551234567", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 555 123 4567", "15551234567", false},
		{"555123", "555123", false},
		{"", "", true},
		{"no digits", "", true},
		{"12-34", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalizePhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("canonicalizePhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("canonicalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
