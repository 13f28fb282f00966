package realtime

import (
	"time"

	v1 "whatsroom/shared/contracts/realtime/v1"
)

// SerializeMessage projects a stored message into the stable wire shape.
// Empty optionals become JSON null; seenBy and reactions are always arrays.
func SerializeMessage(m StoredMessage) v1.Message {
	out := v1.Message{
		ID:              m.ID,
		RoomID:          m.RoomID,
		SenderID:        m.SenderID,
		SenderName:      optionalString(m.SenderName),
		ReplyTo:         serializeReplyTo(m.ReplyTo),
		Text:            m.Text,
		Timestamp:       m.CreatedAt.UTC(),
		ClientMessageID: optionalString(m.ClientMessageID),
		SeenBy:          append([]string{}, m.SeenBy...),
		SeenAt:          optionalTime(m.SeenAt),
		Reactions:       SerializeReactions(m.Reactions),
	}
	return out
}

// SerializeReactions projects reaction state into wire entries with counts.
func SerializeReactions(reactions []ReactionState) []v1.Reaction {
	out := make([]v1.Reaction, 0, len(reactions))
	for _, entry := range reactions {
		if entry.Emoji == "" || len(entry.Users) == 0 {
			continue
		}
		out = append(out, v1.Reaction{
			Emoji: entry.Emoji,
			Users: append([]string{}, entry.Users...),
			Count: len(entry.Users),
		})
	}
	return out
}

// SerializeSeenUpdates projects MarkSeen results for the messages-seen push.
func SerializeSeenUpdates(updates []SeenUpdate) []v1.SeenUpdate {
	out := make([]v1.SeenUpdate, 0, len(updates))
	for _, u := range updates {
		out = append(out, v1.SeenUpdate{
			MessageID: u.MessageID,
			SeenBy:    append([]string{}, u.SeenBy...),
			SeenAt:    u.SeenAt.UTC(),
		})
	}
	return out
}

func serializeReplyTo(r *ReplySnapshot) *v1.ReplyTo {
	if r == nil || r.MessageID == "" {
		return nil
	}
	return &v1.ReplyTo{
		MessageID:  r.MessageID,
		SenderID:   optionalString(r.SenderID),
		SenderName: optionalString(r.SenderName),
		Text:       optionalString(r.Text),
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
