package util

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Not suitable for anything that needs to be unguessable.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// newUUIDHex returns a random (v4) UUID without dashes.
func newUUIDHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewConversationID generates a unique conversation ID with "c_" prefix.
func NewConversationID() string {
	return "c_" + newUUIDHex()
}

// NewMessageID generates a unique message ID with "m_" prefix.
func NewMessageID() string {
	return "m_" + newUUIDHex()
}

// IsConversationID reports whether id has the shape produced by NewConversationID.
func IsConversationID(id string) bool {
	hexPart, ok := strings.CutPrefix(id, "c_")
	if !ok || len(hexPart) != 32 {
		return false
	}
	_, err := uuid.Parse(hexPart)
	return err == nil
}
