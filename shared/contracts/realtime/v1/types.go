// Package v1 defines the whatsroom realtime protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// Client -> server requests, answered with a TypeAck envelope.
	TypeJoinRoom       = "join-room"
	TypeLeaveRoom      = "leave-room"
	TypeMarkSeen       = "mark-seen"
	TypeSendMessage    = "send-message"
	TypeToggleReaction = "toggle-reaction"

	// TypeTyping is fire-and-forget client -> server, and a server push to the room.
	TypeTyping = "typing"

	// TypeAck answers an ack-able request; Envelope.Re carries the request id.
	TypeAck = "ack"

	// Server -> room pushes.
	TypeReceiveMessage         = "receive-message"
	TypeOnlineUsers            = "online-users"
	TypeMessagesSeen           = "messages-seen"
	TypeMessageReactionUpdated = "message-reaction-updated"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Re      string          `json:"re,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeJoinRoom,
		TypeLeaveRoom,
		TypeMarkSeen,
		TypeSendMessage,
		TypeToggleReaction,
		TypeTyping,
		TypeAck,
		TypeReceiveMessage,
		TypeOnlineUsers,
		TypeMessagesSeen,
		TypeMessageReactionUpdated,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- serialized message (wire shape, stable field names) ----

// Message is the canonical JSON projection of a stored message.
type Message struct {
	ID              string     `json:"_id"`
	RoomID          string     `json:"roomId"`
	SenderID        string     `json:"senderId"`
	SenderName      *string    `json:"senderName"`
	ReplyTo         *ReplyTo   `json:"replyTo"`
	Text            string     `json:"message"`
	Timestamp       time.Time  `json:"timestamp"`
	ClientMessageID *string    `json:"clientMessageId"`
	SeenBy          []string   `json:"seenBy"`
	SeenAt          *time.Time `json:"seenAt"`
	Reactions       []Reaction `json:"reactions"`
}

// ReplyTo is a point-in-time snapshot of the replied-to message.
// It never updates after the reply is stored.
type ReplyTo struct {
	MessageID  string  `json:"messageId"`
	SenderID   *string `json:"senderId"`
	SenderName *string `json:"senderName"`
	Text       *string `json:"message"`
}

// Reaction is one emoji entry with the set of reacting participants.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// ---- client -> server payloads ----

// JoinRoomPayload requests room membership for this connection.
type JoinRoomPayload struct {
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId"`
	DisplayName string `json:"displayName,omitempty"`
}

// TypingPayload toggles the typing indicator (fire-and-forget).
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// SendMessagePayload requests sending a message into the joined room.
type SendMessagePayload struct {
	Text             string `json:"message"`
	ClientMessageID  string `json:"clientMessageId,omitempty"`
	ReplyToMessageID string `json:"replyToMessageId,omitempty"`
}

// ToggleReactionPayload toggles the sender's emoji reaction on a message.
type ToggleReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// ---- acks (always {ok, error?, ...result}) ----

// Ack is the common acknowledgement envelope payload head.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// JoinRoomAck acknowledges a join-room request.
type JoinRoomAck struct {
	Ack
	RoomID      string  `json:"roomId,omitempty"`
	SenderID    string  `json:"senderId,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
	UsersCount  int     `json:"usersCount,omitempty"`
}

// LeaveRoomAck acknowledges a leave-room request.
type LeaveRoomAck struct {
	Ack
}

// MarkSeenAck acknowledges a mark-seen request.
type MarkSeenAck struct {
	Ack
	UpdatedCount int `json:"updatedCount"`
}

// SendMessageAck acknowledges a send-message request with the canonical stored message.
type SendMessageAck struct {
	Ack
	ServerMessage *Message `json:"serverMessage,omitempty"`
}

// ToggleReactionAck acknowledges a toggle-reaction request.
type ToggleReactionAck struct {
	Ack
	RoomID    string     `json:"roomId,omitempty"`
	MessageID string     `json:"messageId,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// ---- server -> client pushes ----

// OnlineUsersPayload carries the distinct-participant presence count for a room.
type OnlineUsersPayload struct {
	RoomID     string `json:"roomId"`
	UsersCount int    `json:"usersCount"`
}

// TypingEventPayload is the typing indicator fanned out to room members.
type TypingEventPayload struct {
	RoomID     string  `json:"roomId"`
	SenderID   string  `json:"senderId"`
	SenderName *string `json:"senderName"`
	IsTyping   bool    `json:"isTyping"`
}

// SeenUpdate is the per-message read-receipt delta inside a messages-seen push.
type SeenUpdate struct {
	MessageID string    `json:"_id"`
	SeenBy    []string  `json:"seenBy"`
	SeenAt    time.Time `json:"seenAt"`
}

// MessagesSeenPayload is broadcast when a reader marks room messages seen.
type MessagesSeenPayload struct {
	RoomID   string       `json:"roomId"`
	ReaderID string       `json:"readerId"`
	SeenAt   time.Time    `json:"seenAt"`
	Messages []SeenUpdate `json:"messages"`
}

// ReactionUpdatedPayload is broadcast after a reaction toggle.
type ReactionUpdatedPayload struct {
	RoomID    string     `json:"roomId"`
	MessageID string     `json:"messageId"`
	Reactions []Reaction `json:"reactions"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
