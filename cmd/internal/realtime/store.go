package realtime

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrRoomNotFound is returned when a room code does not exist in the directory.
	ErrRoomNotFound = errors.New("realtime: room not found")

	// ErrMessageNotFound is returned when a message id does not exist in the room.
	ErrMessageNotFound = errors.New("realtime: message not found")

	// ErrAllocationExhausted is returned when all room-code allocation attempts collided.
	ErrAllocationExhausted = errors.New("realtime: room code allocation exhausted")
)

// Room is the directory record for an allocated room code.
type Room struct {
	RoomID    string
	CreatedAt time.Time
}

// RoomDirectory allocates unique room codes and resolves existing ones.
type RoomDirectory interface {
	// AllocateRoom generates a fresh room code, retrying on collisions up to a
	// bounded attempt count. Fails with ErrAllocationExhausted when every attempt collided.
	AllocateRoom(ctx context.Context) (Room, error)

	// GetRoom resolves an uppercase-normalized room code.
	// Returns ErrRoomNotFound when the code was never allocated.
	GetRoom(ctx context.Context, roomID string) (Room, error)
}

// ReplySnapshot is the point-in-time reply reference stored alongside a message.
// It is a snapshot, not a foreign key: later changes to the source never update it.
type ReplySnapshot struct {
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"message"`
}

// ReactionState is one emoji entry on a stored message.
// Invariant: Users is never empty; an entry whose set empties is removed.
type ReactionState struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

// StoredMessage is the canonical persisted message representation.
// Empty string means null for SenderName and ClientMessageID; a zero SeenAt means null.
type StoredMessage struct {
	ID              string
	RoomID          string
	SenderID        string
	SenderName      string
	Text            string
	ClientMessageID string
	ReplyTo         *ReplySnapshot
	SeenBy          []string
	SeenAt          time.Time
	Reactions       []ReactionState
	CreatedAt       time.Time
}

// SeenUpdate reports one message whose seenBy set grew during MarkSeen.
type SeenUpdate struct {
	MessageID string
	SeenBy    []string
	SeenAt    time.Time
}

// InsertMessageInput describes an idempotent insert request.
type InsertMessageInput struct {
	RoomID          string
	SenderID        string
	SenderName      string
	Text            string
	ClientMessageID string
	ReplyTo         *ReplySnapshot
	Now             time.Time
}

// InsertMessageResult is the idempotent insert outcome.
type InsertMessageResult struct {
	Stored     StoredMessage
	Duplicated bool
}

// MessageStore persists and queries room messages.
//
// Requirements:
//   - Idempotency per (room_id, sender_id, client_message_id) when the client id is set
//   - seenBy only ever grows (conditional add-if-absent under concurrent readers)
//   - Reaction toggles are read-modify-write scoped to a single message
//   - ListRecent returns the most recent messages reordered chronologically ascending
type MessageStore interface {
	// InsertOrGet inserts a new message, or returns the existing one when the
	// (room, sender, clientMessageId) key was already used. On the duplicate path it
	// reconciles the sender name and re-adds the sender to seenBy if missing.
	InsertOrGet(ctx context.Context, in InsertMessageInput) (InsertMessageResult, error)

	// ResolveReplySnapshot fetches the referenced message from the same room and
	// truncates its text to a bounded preview. Absence is not an error: (nil, nil).
	ResolveReplySnapshot(ctx context.Context, roomID, messageID string) (*ReplySnapshot, error)

	// MarkSeen adds readerID to seenBy on every room message authored by someone else
	// that the reader has not seen, stamping the batch with a shared seenAt.
	// Returns only the updated subset, ordered by message id.
	MarkSeen(ctx context.Context, roomID, readerID string, now time.Time) ([]SeenUpdate, error)

	// ToggleReaction adds or removes senderID on the emoji entry of one message and
	// returns the full updated reaction list. Returns ErrMessageNotFound when the
	// message does not exist in the room.
	ToggleReaction(ctx context.Context, roomID, messageID, senderID, emoji string) ([]ReactionState, error)

	// ListRecent returns the most recent limit messages, chronologically ascending.
	ListRecent(ctx context.Context, roomID string, limit int) ([]StoredMessage, error)

	Close() error
}

const (
	// Bounded attempts for room code allocation before ErrAllocationExhausted.
	maxAllocationAttempts = 8

	// History paging bounds, shared with the HTTP room API.
	defaultHistoryLimit = 120
	maxHistoryLimit     = 200

	// Reply previews are truncated to this many runes.
	replyPreviewChars = 180
)

// clampHistoryLimit normalizes a caller-supplied page size.
func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// replyPreview truncates the source text for a reply snapshot.
func replyPreview(text string) string {
	r := []rune(text)
	if len(r) <= replyPreviewChars {
		return text
	}
	return string(r[:replyPreviewChars])
}

// containsParticipant reports whether id is present in the set.
func containsParticipant(set []string, id string) bool {
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}

// toggleReactionList applies one toggle to a reaction list and returns the result.
// Adding the first user creates the entry; removing the last user deletes it.
func toggleReactionList(reactions []ReactionState, senderID, emoji string) []ReactionState {
	out := make([]ReactionState, 0, len(reactions)+1)
	found := false

	for _, entry := range reactions {
		if entry.Emoji != emoji {
			out = append(out, ReactionState{Emoji: entry.Emoji, Users: append([]string(nil), entry.Users...)})
			continue
		}

		found = true
		users := make([]string, 0, len(entry.Users)+1)
		removed := false
		for _, u := range entry.Users {
			if u == senderID {
				removed = true
				continue
			}
			users = append(users, u)
		}
		if !removed {
			users = append(users, senderID)
		}
		if len(users) > 0 {
			out = append(out, ReactionState{Emoji: emoji, Users: users})
		}
	}

	if !found {
		out = append(out, ReactionState{Emoji: emoji, Users: []string{senderID}})
	}
	return out
}
