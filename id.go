package parley

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// MessageID derives the canonical record id for a chat message:
// chat_<timestamp>_<channel>. The timestamp keeps the chat service's
// string form so equal events always map to the same id.
func MessageID(ts, channel string) string {
	return fmt.Sprintf("chat_%s_%s", ts, channel)
}

// LinkID derives the record id for an ingested link shared in chat.
func LinkID(ts, channel string) string {
	return fmt.Sprintf("link_%s_%s", ts, channel)
}

// ParseTS converts the chat service's string timestamp (Unix seconds
// with a fractional part, e.g. "1700000000.123456") to a float64.
// Malformed input yields 0.
func ParseTS(ts string) float64 {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return f
}
