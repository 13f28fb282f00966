package realtime

import (
	"log/slog"
	"sync"

	v1 "whatsroom/shared/contracts/realtime/v1"
)

// SessionInfo is the registry's view of one connection.
// RoomID is empty while the connection has not joined a room.
type SessionInfo struct {
	SessionID   string
	RoomID      string
	SenderID    string
	DisplayName string
}

type session struct {
	client      *Client
	roomID      string
	senderID    string
	displayName string
}

// Registry owns the in-memory mapping from live connections to room membership.
//
// Concurrency guarantees:
// - Join/Leave/Deregister are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure, returns the drop count).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
//
// A connection belongs to at most one room; joining a new room implicitly
// leaves the previous one. Presence counts are over distinct participant ids,
// so one participant connected twice still counts once.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session            // session id -> session
	rooms    map[string]map[string]*session // room id -> session id -> session
}

// NewRegistry constructs an empty connection registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]*session),
	}
}

// Register tracks a freshly accepted connection with no room association.
func (r *Registry) Register(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.sessions[client.SessionID] = &session{client: client}
	r.mu.Unlock()

	r.log.Debug("registry.session.register", "session_id", client.SessionID)
}

// Deregister removes the connection entirely and returns the room it was
// joined to, if any, so the caller can rebroadcast presence.
func (r *Registry) Deregister(sessionID string) (roomID string) {
	if r == nil || sessionID == "" {
		return ""
	}

	var cl *Client

	r.mu.Lock()
	s := r.sessions[sessionID]
	if s != nil {
		roomID = s.roomID
		cl = s.client
		r.detachLocked(sessionID, s)
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	// Signal client shutdown after removing from membership.
	// This ordering avoids race windows where a broadcaster still holds a pointer
	// while the client goroutines are being torn down.
	if cl != nil {
		cl.Close()
	}

	r.log.Debug("registry.session.deregister", "session_id", sessionID, "room_id", roomID)
	return roomID
}

// Join associates the connection with a room and participant identity.
// Returns the previous room id when the connection switched rooms.
func (r *Registry) Join(sessionID, roomID, senderID, displayName string) (prevRoomID string, ok bool) {
	if r == nil || sessionID == "" || roomID == "" || senderID == "" {
		return "", false
	}

	r.mu.Lock()
	s := r.sessions[sessionID]
	if s == nil {
		r.mu.Unlock()
		return "", false
	}

	if s.roomID != "" && s.roomID != roomID {
		prevRoomID = s.roomID
	}
	r.detachLocked(sessionID, s)

	s.roomID = roomID
	s.senderID = senderID
	s.displayName = displayName

	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]*session)
		r.rooms[roomID] = members
	}
	members[sessionID] = s
	r.mu.Unlock()

	r.log.Info("registry.room.join", "session_id", sessionID, "room_id", roomID, "sender_id", senderID)
	return prevRoomID, true
}

// Leave clears the connection's room association and returns the room left.
func (r *Registry) Leave(sessionID string) (roomID string) {
	if r == nil || sessionID == "" {
		return ""
	}

	r.mu.Lock()
	s := r.sessions[sessionID]
	if s != nil {
		roomID = s.roomID
		r.detachLocked(sessionID, s)
		s.roomID = ""
		s.senderID = ""
		s.displayName = ""
	}
	r.mu.Unlock()

	if roomID != "" {
		r.log.Info("registry.room.leave", "session_id", sessionID, "room_id", roomID)
	}
	return roomID
}

// Session returns the registry's view of a connection.
func (r *Registry) Session(sessionID string) (SessionInfo, bool) {
	if r == nil || sessionID == "" {
		return SessionInfo{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.sessions[sessionID]
	if s == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		SessionID:   sessionID,
		RoomID:      s.roomID,
		SenderID:    s.senderID,
		DisplayName: s.displayName,
	}, true
}

// ParticipantCount returns the number of distinct participant ids among the
// connections currently joined to roomID.
func (r *Registry) ParticipantCount(roomID string) int {
	if r == nil || roomID == "" {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	if len(members) == 0 {
		return 0
	}

	distinct := make(map[string]struct{}, len(members))
	for _, s := range members {
		if s.senderID != "" {
			distinct[s.senderID] = struct{}{}
		}
	}
	return len(distinct)
}

// Broadcast fanouts an envelope to every connection in the room, except the
// session named by exceptSessionID when non-empty. Non-blocking: members with
// full queues or in shutdown are skipped; the number skipped is returned.
func (r *Registry) Broadcast(roomID string, env v1.Envelope, exceptSessionID string) (dropped int) {
	if r == nil || roomID == "" {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for sid, s := range r.rooms[roomID] {
		if sid == exceptSessionID || s.client == nil {
			continue
		}

		select {
		case <-s.client.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case s.client.Send <- env:
		default:
			// Drop rather than block the whole room.
			dropped++
		}
	}
	return dropped
}

// detachLocked removes the session from its room's member table. Caller holds r.mu.
func (r *Registry) detachLocked(sessionID string, s *session) {
	if s.roomID == "" {
		return
	}
	if members := r.rooms[s.roomID]; members != nil {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, s.roomID)
		}
	}
}
