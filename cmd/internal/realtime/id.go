package realtime

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a ULID used as a message _id.
// ULIDs are lexicographically sortable, which keeps per-room id order aligned
// with insertion order.
func NewMessageID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IsValidMessageID reports whether s parses as a message id (ULID).
// Used to reject malformed toggle-reaction and replyTo references before
// touching the store.
func IsValidMessageID(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(s))
	return err == nil
}
