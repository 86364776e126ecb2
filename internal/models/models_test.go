package models

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeMessageText(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"plain", "hello", "hello", nil},
		{"trimmed", "  hi there \n", "hi there", nil},
		{"empty", "", "", ErrInvalidInput},
		{"whitespace", " \t\n ", "", ErrInvalidInput},
		{"too long", strings.Repeat("x", MaxMessageLength+1), "", ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMessageText(tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTranscriptCountBySender(t *testing.T) {
	tr := Transcript{Messages: []Message{
		{ID: "1", Sender: SenderUser, Text: "hi"},
		{ID: "2", Sender: SenderCounterpart, Text: "typing...", IsPlaceholder: true},
		{ID: "3", Sender: SenderCounterpart, Text: "hello"},
		{ID: "4", Sender: SenderUser, Text: "bye"},
	}}
	if n := tr.CountBySender(SenderUser); n != 2 {
		t.Errorf("expected 2 user messages, got %d", n)
	}
	if n := tr.CountBySender(SenderCounterpart); n != 1 {
		t.Errorf("expected 1 counterpart message, got %d", n)
	}
}

func TestIsValidConversationState(t *testing.T) {
	for _, s := range []ConversationState{StateIdle, StateAwaitingPlaceholder, StateAwaitingReply, StateClosed} {
		if !IsValidConversationState(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if IsValidConversationState("sleeping") {
		t.Error("expected unknown state to be invalid")
	}
	if !IsValidSender(SenderUser) || IsValidSender("bot") {
		t.Error("sender validation mismatch")
	}
}

func TestErrorEnvelope(t *testing.T) {
	r := Error("boom")
	if r.Status != string(APIStatusError) || r.Message != "boom" || r.Result != nil {
		t.Errorf("unexpected error envelope: %+v", r)
	}
	s := SuccessWithMessage("done", 3)
	if s.Status != string(APIStatusOK) || s.Message != "done" || s.Result != 3 {
		t.Errorf("unexpected success envelope: %+v", s)
	}
}
