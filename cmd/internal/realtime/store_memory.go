package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

const memMaxMessagesPerRoom = 10_000

// InMemoryStore is the fallback RoomDirectory + MessageStore when no database
// is configured. It keeps the same semantics as the Postgres store:
// idempotent insert, monotonic per-room timestamps, conditional seen updates.
type InMemoryStore struct {
	codeLength int

	mu    sync.Mutex
	rooms map[string]*memRoom
}

type memRoom struct {
	room        Room
	msgs        []*StoredMessage
	byID        map[string]*StoredMessage
	dedupe      map[string]*StoredMessage // senderID \x00 clientMessageID -> message
	lastCreated time.Time
}

// NewInMemoryStore constructs an in-memory store generating room codes of the
// given length (clamped to the configurable range).
func NewInMemoryStore(roomCodeLength int) *InMemoryStore {
	return &InMemoryStore{
		codeLength: ClampRoomCodeLength(roomCodeLength),
		rooms:      make(map[string]*memRoom),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// AllocateRoom creates a room under a fresh random code.
func (s *InMemoryStore) AllocateRoom(ctx context.Context) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxAllocationAttempts; attempt++ {
		code, err := NewRoomCode(s.codeLength)
		if err != nil {
			return Room{}, err
		}
		if _, exists := s.rooms[code]; exists {
			continue
		}

		room := Room{RoomID: code, CreatedAt: time.Now().UTC()}
		s.rooms[code] = &memRoom{
			room:   room,
			byID:   make(map[string]*StoredMessage),
			dedupe: make(map[string]*StoredMessage),
		}
		return room, nil
	}

	return Room{}, ErrAllocationExhausted
}

// GetRoom resolves a room code.
func (s *InMemoryStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[NormalizeRoomID(roomID)]
	if r == nil {
		return Room{}, ErrRoomNotFound
	}
	return r.room, nil
}

// InsertOrGet persists a message with idempotency per (room, sender, clientMessageId).
func (s *InMemoryStore) InsertOrGet(ctx context.Context, in InsertMessageInput) (InsertMessageResult, error) {
	if in.RoomID == "" || in.SenderID == "" || in.Text == "" {
		return InsertMessageResult{}, errors.New("realtime: invalid insert input")
	}
	if err := ctx.Err(); err != nil {
		return InsertMessageResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[NormalizeRoomID(in.RoomID)]
	if r == nil {
		return InsertMessageResult{}, ErrRoomNotFound
	}

	if in.ClientMessageID != "" {
		if existing, ok := r.dedupe[in.SenderID+"\x00"+in.ClientMessageID]; ok {
			// Retried send: reconcile the sender name and re-seed the sender
			// into seenBy, then hand back the original message.
			if in.SenderName != "" && existing.SenderName != in.SenderName {
				existing.SenderName = in.SenderName
			}
			if !containsParticipant(existing.SeenBy, in.SenderID) {
				existing.SeenBy = append(existing.SeenBy, in.SenderID)
			}
			return InsertMessageResult{Stored: cloneMessage(existing), Duplicated: true}, nil
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	// Timestamps stay strictly monotonic per room so broadcast order and
	// history order agree.
	if !now.After(r.lastCreated) {
		now = r.lastCreated.Add(time.Microsecond)
	}
	r.lastCreated = now

	id, err := NewMessageID(now)
	if err != nil {
		return InsertMessageResult{}, err
	}

	msg := &StoredMessage{
		ID:              id,
		RoomID:          r.room.RoomID,
		SenderID:        in.SenderID,
		SenderName:      in.SenderName,
		Text:            in.Text,
		ClientMessageID: in.ClientMessageID,
		ReplyTo:         cloneReply(in.ReplyTo),
		SeenBy:          []string{in.SenderID},
		Reactions:       []ReactionState{},
		CreatedAt:       now,
	}

	r.msgs = append(r.msgs, msg)
	r.byID[id] = msg
	if in.ClientMessageID != "" {
		r.dedupe[in.SenderID+"\x00"+in.ClientMessageID] = msg
	}

	// Bound memory to avoid unbounded growth in dev.
	if len(r.msgs) > memMaxMessagesPerRoom {
		drop := r.msgs[0]
		delete(r.byID, drop.ID)
		if drop.ClientMessageID != "" {
			delete(r.dedupe, drop.SenderID+"\x00"+drop.ClientMessageID)
		}
		r.msgs = r.msgs[1:]
	}

	return InsertMessageResult{Stored: cloneMessage(msg), Duplicated: false}, nil
}

// ResolveReplySnapshot returns a bounded snapshot of the referenced message, or nil.
func (s *InMemoryStore) ResolveReplySnapshot(ctx context.Context, roomID, messageID string) (*ReplySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[NormalizeRoomID(roomID)]
	if r == nil {
		return nil, nil
	}
	src := r.byID[messageID]
	if src == nil {
		return nil, nil
	}

	return &ReplySnapshot{
		MessageID:  src.ID,
		SenderID:   src.SenderID,
		SenderName: src.SenderName,
		Text:       replyPreview(src.Text),
	}, nil
}

// MarkSeen adds readerID to every unseen foreign message and returns the updated subset.
func (s *InMemoryStore) MarkSeen(ctx context.Context, roomID, readerID string, now time.Time) ([]SeenUpdate, error) {
	if readerID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[NormalizeRoomID(roomID)]
	if r == nil {
		return nil, nil
	}

	var updates []SeenUpdate
	for _, m := range r.msgs {
		if m.SenderID == readerID || containsParticipant(m.SeenBy, readerID) {
			continue
		}
		m.SeenBy = append(m.SeenBy, readerID)
		m.SeenAt = now
		updates = append(updates, SeenUpdate{
			MessageID: m.ID,
			SeenBy:    append([]string(nil), m.SeenBy...),
			SeenAt:    now,
		})
	}
	return updates, nil
}

// ToggleReaction toggles the sender's emoji on a message and returns the new state.
func (s *InMemoryStore) ToggleReaction(ctx context.Context, roomID, messageID, senderID, emoji string) ([]ReactionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[NormalizeRoomID(roomID)]
	if r == nil {
		return nil, ErrMessageNotFound
	}
	m := r.byID[messageID]
	if m == nil {
		return nil, ErrMessageNotFound
	}

	m.Reactions = toggleReactionList(m.Reactions, senderID, emoji)
	return cloneReactions(m.Reactions), nil
}

// ListRecent returns the most recent limit messages in chronological order.
func (s *InMemoryStore) ListRecent(ctx context.Context, roomID string, limit int) ([]StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampHistoryLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[NormalizeRoomID(roomID)]
	if r == nil {
		return nil, nil
	}

	start := 0
	if len(r.msgs) > limit {
		start = len(r.msgs) - limit
	}

	out := make([]StoredMessage, 0, len(r.msgs)-start)
	for _, m := range r.msgs[start:] {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func cloneMessage(m *StoredMessage) StoredMessage {
	cp := *m
	cp.SeenBy = append([]string(nil), m.SeenBy...)
	cp.Reactions = cloneReactions(m.Reactions)
	cp.ReplyTo = cloneReply(m.ReplyTo)
	return cp
}

func cloneReactions(reactions []ReactionState) []ReactionState {
	out := make([]ReactionState, 0, len(reactions))
	for _, entry := range reactions {
		out = append(out, ReactionState{Emoji: entry.Emoji, Users: append([]string(nil), entry.Users...)})
	}
	return out
}

func cloneReply(r *ReplySnapshot) *ReplySnapshot {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
