package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
	"github.com/BTreeMap/PortfolioChat/internal/store"
)

// OutboxKindTranscript marks outbox rows carrying a closed conversation.
const OutboxKindTranscript = "transcript"

// transcriptPayload is the outbox row body for OutboxKindTranscript.
type transcriptPayload struct {
	To         string            `json:"to"`
	Transcript models.Transcript `json:"transcript"`
}

// TranscriptRelay queues closed conversations for delivery to the site owner.
// Delivery happens later through the outbox, so a provider outage never
// blocks closing a conversation.
type TranscriptRelay struct {
	outbox store.OutboxRepo
	to     string
}

// NewTranscriptRelay creates a relay addressing notifications to to.
func NewTranscriptRelay(outbox store.OutboxRepo, to string) *TranscriptRelay {
	return &TranscriptRelay{outbox: outbox, to: to}
}

// NotifyTranscript enqueues t. A transcript is queued at most once while a
// previous delivery for the same conversation is still pending.
func (r *TranscriptRelay) NotifyTranscript(ctx context.Context, t models.Transcript) error {
	payload, err := json.Marshal(transcriptPayload{To: r.to, Transcript: t})
	if err != nil {
		return fmt.Errorf("failed to marshal transcript payload: %w", err)
	}
	id, err := r.outbox.EnqueueOutboxMessage(t.ConversationID, OutboxKindTranscript, string(payload), OutboxKindTranscript+":"+t.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to queue transcript %s: %w", t.ConversationID, err)
	}
	slog.Debug("TranscriptRelay.NotifyTranscript: queued", "conversationID", t.ConversationID, "outboxID", id)
	return nil
}

// SendFunc returns the outbox callback delivering queued transcripts via svc.
func SendFunc(svc Service) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != OutboxKindTranscript {
			return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
		}
		var p transcriptPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("failed to decode transcript payload: %w", err)
		}
		ctx, cancel := context.WithTimeout(ctx, DefaultSendTimeout)
		defer cancel()
		return svc.SendMessage(ctx, p.To, FormatTranscript(p.Transcript))
	}
}

// FormatTranscript renders a transcript as a plain-text chat message.
// Placeholders are omitted.
func FormatTranscript(t models.Transcript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New portfolio chat %s\n", t.ConversationID)
	fmt.Fprintf(&b, "Opened %s, closed %s", t.OpenedAt.UTC().Format(time.RFC3339), t.ClosedAt.UTC().Format(time.RFC3339))
	if t.CloseReason != "" {
		fmt.Fprintf(&b, " (%s)", t.CloseReason)
	}
	b.WriteString("\n")
	for _, m := range t.Messages {
		if m.IsPlaceholder {
			continue
		}
		who := "Visitor"
		if m.Sender == models.SenderCounterpart {
			who = "Reply"
		}
		fmt.Fprintf(&b, "\n%s: %s", who, m.Text)
	}
	return b.String()
}
