package realtime

import (
	"fmt"
	"strings"

	v1 "whatsroom/shared/contracts/realtime/v1"
)

// Inbound payloads are normalized into typed commands before any state is
// touched. A commandError carries the exact user-facing ack string; everything
// else stays an internal error.

type commandError struct{ msg string }

func (e *commandError) Error() string { return e.msg }

func rejectf(format string, args ...any) error {
	return &commandError{msg: fmt.Sprintf(format, args...)}
}

// User-facing rejection strings (wire-stable, clients match on them).
const (
	msgInvalidRoomID   = "Invalid room id"
	msgInvalidSenderID = "Invalid sender id"
	msgRoomNotFound    = "Room not found"
	msgNotJoined       = "Join a room first"
	msgEmptyMessage    = "Message cannot be empty"
	msgInvalidMsgID    = "Invalid message id"
	msgBadReaction     = "Reaction not supported"
	msgMessageNotFound = "Message not found"

	msgJoinFailed     = "Join failed"
	msgSendFailed     = "Send failed"
	msgMarkSeenFailed = "Mark seen failed"
	msgReactionFailed = "Reaction failed"
)

type joinCommand struct {
	RoomID      string
	SenderID    string
	DisplayName string // "" means null
}

// validateJoin normalizes a join-room payload into a command.
func validateJoin(p v1.JoinRoomPayload) (joinCommand, error) {
	roomID := NormalizeRoomID(p.RoomID)
	if !IsValidRoomID(roomID) {
		return joinCommand{}, rejectf(msgInvalidRoomID)
	}

	senderID := strings.TrimSpace(p.SenderID)
	if senderID == "" {
		return joinCommand{}, rejectf(msgInvalidSenderID)
	}

	return joinCommand{
		RoomID:      roomID,
		SenderID:    senderID,
		DisplayName: normalizeDisplayName(p.DisplayName),
	}, nil
}

type sendCommand struct {
	Text             string
	ClientMessageID  string // "" means none
	ReplyToMessageID string // "" means none; already well-formed when set
}

// validateSend normalizes a send-message payload. The reply reference is
// best-effort: a malformed id is dropped rather than rejected.
func validateSend(p v1.SendMessagePayload, maxChars int) (sendCommand, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return sendCommand{}, rejectf(msgEmptyMessage)
	}
	if len([]rune(text)) > maxChars {
		return sendCommand{}, rejectf("Message too long (max %d chars)", maxChars)
	}

	replyTo := strings.TrimSpace(p.ReplyToMessageID)
	if replyTo != "" && !IsValidMessageID(replyTo) {
		replyTo = ""
	}

	return sendCommand{
		Text:             text,
		ClientMessageID:  strings.TrimSpace(p.ClientMessageID),
		ReplyToMessageID: replyTo,
	}, nil
}

type reactionCommand struct {
	MessageID string
	Emoji     string
}

// validateReaction normalizes a toggle-reaction payload.
func validateReaction(p v1.ToggleReactionPayload) (reactionCommand, error) {
	messageID := strings.TrimSpace(p.MessageID)
	if !IsValidMessageID(messageID) {
		return reactionCommand{}, rejectf(msgInvalidMsgID)
	}

	emoji := strings.TrimSpace(p.Emoji)
	if !IsAllowedReaction(emoji) {
		return reactionCommand{}, rejectf(msgBadReaction)
	}

	return reactionCommand{MessageID: messageID, Emoji: emoji}, nil
}

// normalizeDisplayName trims and caps a display name; empty means null.
func normalizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	r := []rune(name)
	if len(r) > displayNameMaxChars {
		return string(r[:displayNameMaxChars])
	}
	return name
}
