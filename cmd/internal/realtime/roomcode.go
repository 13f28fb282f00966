package realtime

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

// Room codes are generated from an unambiguous alphabet (no 0/O/1/I) so they
// survive being read aloud or typed from another screen. Lookup is more lenient:
// any uppercase alphanumeric code of plausible length is accepted.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	minRoomCodeLength     = 4
	maxRoomCodeLength     = 16
	defaultRoomCodeLength = 8
)

var roomIDPattern = regexp.MustCompile(`^[A-Z0-9]{4,24}$`)

// NormalizeRoomID trims and uppercases a caller-supplied room code.
func NormalizeRoomID(roomID string) string {
	return strings.ToUpper(strings.TrimSpace(roomID))
}

// IsValidRoomID reports whether a normalized room code matches the lookup pattern.
func IsValidRoomID(roomID string) bool {
	return roomIDPattern.MatchString(roomID)
}

// ClampRoomCodeLength bounds a configured generation length to [4,16].
func ClampRoomCodeLength(length int) int {
	if length < minRoomCodeLength || length > maxRoomCodeLength {
		return defaultRoomCodeLength
	}
	return length
}

// NewRoomCode generates a random room code of the given length from the
// restricted alphabet, using crypto/rand for unbiased selection.
func NewRoomCode(length int) (string, error) {
	length = ClampRoomCodeLength(length)

	max := big.NewInt(int64(len(roomCodeAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}
