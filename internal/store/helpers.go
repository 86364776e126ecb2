package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// encodeMessages serializes a transcript's messages, dropping placeholders.
func encodeMessages(msgs []models.Message) (string, int, error) {
	kept := make([]models.Message, 0, len(msgs))
	users := 0
	for _, m := range msgs {
		if m.IsPlaceholder {
			continue
		}
		if m.Sender == models.SenderUser {
			users++
		}
		kept = append(kept, m)
	}
	data, err := json.Marshal(kept)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal transcript messages: %w", err)
	}
	return string(data), users, nil
}

func decodeMessages(data string) ([]models.Message, error) {
	var msgs []models.Message
	if data == "" {
		return msgs, nil
	}
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript messages: %w", err)
	}
	return msgs, nil
}

// unixNano converts a SQLite integer timestamp column.
func unixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullUnixNano(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := unixNano(n.Int64)
	return &t
}
