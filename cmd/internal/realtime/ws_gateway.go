package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "whatsroom/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "whatsroom.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// GatewayConfig tunes one Gateway instance. Zero values become safe defaults
// via Normalize, so tests can construct a config from a struct literal.
type GatewayConfig struct {
	// OriginRequired rejects upgrade requests without an Origin header.
	// Off by default: native mobile clients send no Origin at all.
	OriginRequired bool

	// AllowedOrigins is the browser-origin allowlist; "*" allows any origin.
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	MessageMaxChars int
}

// Normalize fills unset fields with defaults and clamps bounded ones.
func (c GatewayConfig) Normalize() GatewayConfig {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = wsDefaultReadIdle
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	c.MessageMaxChars = ClampMessageMaxChars(c.MessageMaxChars)
	return c
}

// Gateway is the WebSocket entrypoint for whatsroom realtime.
//
// It enforces origin policy, subprotocol selection, rate limits, heartbeats,
// and routes validated envelopes to the Registry and MessageStore.
type Gateway struct {
	log       *slog.Logger
	registry  *Registry
	directory RoomDirectory
	store     MessageStore
	metrics   *Metrics

	cfg GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	// Striped per-room send locks so the order messages are broadcast in
	// matches the order they were committed in. Rooms hashing to the same
	// stripe share a lock, which only costs throughput, never correctness.
	sendLocks [64]sync.Mutex
}

// NewGateway constructs a gateway. When registry/store are nil, it falls back
// to in-memory implementations for dev.
func NewGateway(log *slog.Logger, registry *Registry, directory RoomDirectory, store MessageStore, metrics *Metrics, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if registry == nil {
		registry = NewRegistry(log)
	}
	if store == nil {
		mem := NewInMemoryStore(0)
		store = mem
		if directory == nil {
			directory = mem
		}
	}
	if directory == nil {
		if d, ok := store.(RoomDirectory); ok {
			directory = d
		}
	}

	cfg = cfg.Normalize()

	return &Gateway{
		log:            log,
		registry:       registry,
		directory:      directory,
		store:          store,
		metrics:        metrics,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocolV1},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := NewRandomHex(10)
	client := NewClient(sessionID, g.cfg.SendQueueSize)
	g.registry.Register(client)
	g.metrics.connOpened()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: membership removal happens before client.Close, and the
	// room the connection was in gets a fresh presence count after removal.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			roomID := g.registry.Deregister(sessionID)
			if roomID != "" {
				g.broadcastPresence(roomID)
			}
			g.metrics.connClosed()

			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		g.metrics.event(env.Type)

		switch env.Type {
		case v1.TypeJoinRoom:
			g.onJoinRoom(ctx, client, env, now)
		case v1.TypeLeaveRoom:
			g.onLeaveRoom(ctx, client, env, now)
		case v1.TypeTyping:
			g.onTyping(client, env, now)
		case v1.TypeMarkSeen:
			g.onMarkSeen(ctx, client, env, now)
		case v1.TypeSendMessage:
			g.onSendMessage(ctx, client, env, now)
		case v1.TypeToggleReaction:
			g.onToggleReaction(ctx, client, env, now)
		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *Gateway) onJoinRoom(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	var p v1.JoinRoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.ack(ctx, client, env, v1.JoinRoomAck{Ack: nack(msgInvalidRoomID)}, now)
		return
	}

	cmd, err := validateJoin(p)
	if err != nil {
		g.ack(ctx, client, env, v1.JoinRoomAck{Ack: nack(err.Error())}, now)
		return
	}

	if _, err := g.directory.GetRoom(ctx, cmd.RoomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			g.ack(ctx, client, env, v1.JoinRoomAck{Ack: nack(msgRoomNotFound)}, now)
			return
		}
		g.log.Error("ws.join.lookup_fail", "session_id", client.SessionID, "room_id", cmd.RoomID, "err", err)
		g.ack(ctx, client, env, v1.JoinRoomAck{Ack: nack(msgJoinFailed)}, now)
		return
	}

	prevRoomID, ok := g.registry.Join(client.SessionID, cmd.RoomID, cmd.SenderID, cmd.DisplayName)
	if !ok {
		g.ack(ctx, client, env, v1.JoinRoomAck{Ack: nack(msgJoinFailed)}, now)
		return
	}
	if prevRoomID != "" {
		g.broadcastPresence(prevRoomID)
	}

	// Joining implies catching up: everything already in the room is now seen.
	g.markSeenAndBroadcast(ctx, cmd.RoomID, cmd.SenderID, now)
	g.broadcastPresence(cmd.RoomID)

	g.ack(ctx, client, env, v1.JoinRoomAck{
		Ack:         v1.Ack{OK: true},
		RoomID:      cmd.RoomID,
		SenderID:    cmd.SenderID,
		DisplayName: optionalString(cmd.DisplayName),
		UsersCount:  g.registry.ParticipantCount(cmd.RoomID),
	}, now)
}

func (g *Gateway) onLeaveRoom(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	roomID := g.registry.Leave(client.SessionID)
	if roomID != "" {
		g.broadcastPresence(roomID)
	}
	g.ack(ctx, client, env, v1.LeaveRoomAck{Ack: v1.Ack{OK: true}}, now)
}

// onTyping fans the indicator out to the rest of the room. Fire-and-forget:
// no ack, and silently ignored when the connection has not joined a room.
func (g *Gateway) onTyping(client *Client, env v1.Envelope, now time.Time) {
	var p v1.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return
	}

	info, ok := g.registry.Session(client.SessionID)
	if !ok || info.RoomID == "" {
		return
	}

	push := g.newPush(v1.TypeTyping, v1.TypingEventPayload{
		RoomID:     info.RoomID,
		SenderID:   info.SenderID,
		SenderName: optionalString(info.DisplayName),
		IsTyping:   p.IsTyping,
	}, now)
	g.metrics.droppedBroadcasts(g.registry.Broadcast(info.RoomID, push, client.SessionID))
}

func (g *Gateway) onMarkSeen(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	info, ok := g.registry.Session(client.SessionID)
	if !ok || info.RoomID == "" {
		g.ack(ctx, client, env, v1.MarkSeenAck{Ack: nack(msgNotJoined)}, now)
		return
	}

	updated, err := g.markSeenAndBroadcast(ctx, info.RoomID, info.SenderID, now)
	if err != nil {
		g.log.Error("ws.mark_seen.fail", "session_id", client.SessionID, "room_id", info.RoomID, "err", err)
		g.ack(ctx, client, env, v1.MarkSeenAck{Ack: nack(msgMarkSeenFailed)}, now)
		return
	}

	g.ack(ctx, client, env, v1.MarkSeenAck{Ack: v1.Ack{OK: true}, UpdatedCount: updated}, now)
}

func (g *Gateway) onSendMessage(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	info, ok := g.registry.Session(client.SessionID)
	if !ok || info.RoomID == "" {
		g.ack(ctx, client, env, v1.SendMessageAck{Ack: nack(msgNotJoined)}, now)
		return
	}

	var p v1.SendMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.ack(ctx, client, env, v1.SendMessageAck{Ack: nack(msgEmptyMessage)}, now)
		return
	}

	cmd, err := validateSend(p, g.cfg.MessageMaxChars)
	if err != nil {
		g.ack(ctx, client, env, v1.SendMessageAck{Ack: nack(err.Error())}, now)
		return
	}

	// Store writes run to completion even if the socket drops mid-operation;
	// only the ack is skipped in that case.
	storeCtx := context.WithoutCancel(ctx)

	// Commit and broadcast under the room's send lock so every member observes
	// messages in commit order.
	lock := g.sendLock(info.RoomID)
	lock.Lock()

	var replyTo *ReplySnapshot
	if cmd.ReplyToMessageID != "" {
		snap, err := g.store.ResolveReplySnapshot(storeCtx, info.RoomID, cmd.ReplyToMessageID)
		if err != nil {
			g.log.Warn("ws.send.reply_lookup_fail", "session_id", client.SessionID, "room_id", info.RoomID, "err", err)
		}
		replyTo = snap
	}

	res, err := g.store.InsertOrGet(storeCtx, InsertMessageInput{
		RoomID:          info.RoomID,
		SenderID:        info.SenderID,
		SenderName:      info.DisplayName,
		Text:            cmd.Text,
		ClientMessageID: cmd.ClientMessageID,
		ReplyTo:         replyTo,
		Now:             now,
	})
	if err != nil {
		lock.Unlock()
		g.log.Error("ws.send.store_fail", "session_id", client.SessionID, "room_id", info.RoomID, "err", err)
		g.ack(ctx, client, env, v1.SendMessageAck{Ack: nack(msgSendFailed)}, now)
		return
	}

	wire := SerializeMessage(res.Stored)

	if !res.Duplicated {
		g.metrics.messageStored()
		push := g.newPush(v1.TypeReceiveMessage, wire, now)
		g.metrics.droppedBroadcasts(g.registry.Broadcast(info.RoomID, push, ""))
	}
	lock.Unlock()

	g.ack(ctx, client, env, v1.SendMessageAck{Ack: v1.Ack{OK: true}, ServerMessage: &wire}, now)
}

func (g *Gateway) onToggleReaction(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	info, ok := g.registry.Session(client.SessionID)
	if !ok || info.RoomID == "" {
		g.ack(ctx, client, env, v1.ToggleReactionAck{Ack: nack(msgNotJoined)}, now)
		return
	}

	var p v1.ToggleReactionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.ack(ctx, client, env, v1.ToggleReactionAck{Ack: nack(msgInvalidMsgID)}, now)
		return
	}

	cmd, err := validateReaction(p)
	if err != nil {
		g.ack(ctx, client, env, v1.ToggleReactionAck{Ack: nack(err.Error())}, now)
		return
	}

	reactions, err := g.store.ToggleReaction(context.WithoutCancel(ctx), info.RoomID, cmd.MessageID, info.SenderID, cmd.Emoji)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			g.ack(ctx, client, env, v1.ToggleReactionAck{Ack: nack(msgMessageNotFound)}, now)
			return
		}
		g.log.Error("ws.reaction.fail", "session_id", client.SessionID, "room_id", info.RoomID, "err", err)
		g.ack(ctx, client, env, v1.ToggleReactionAck{Ack: nack(msgReactionFailed)}, now)
		return
	}

	wire := SerializeReactions(reactions)

	push := g.newPush(v1.TypeMessageReactionUpdated, v1.ReactionUpdatedPayload{
		RoomID:    info.RoomID,
		MessageID: cmd.MessageID,
		Reactions: wire,
	}, now)
	g.metrics.droppedBroadcasts(g.registry.Broadcast(info.RoomID, push, ""))

	g.ack(ctx, client, env, v1.ToggleReactionAck{
		Ack:       v1.Ack{OK: true},
		RoomID:    info.RoomID,
		MessageID: cmd.MessageID,
		Reactions: wire,
	}, now)
}

// markSeenAndBroadcast applies the reader's catch-up and pushes the delta to
// the room when anything changed. Returns the number of updated messages.
func (g *Gateway) markSeenAndBroadcast(ctx context.Context, roomID, readerID string, now time.Time) (int, error) {
	updates, err := g.store.MarkSeen(context.WithoutCancel(ctx), roomID, readerID, now)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	push := g.newPush(v1.TypeMessagesSeen, v1.MessagesSeenPayload{
		RoomID:   roomID,
		ReaderID: readerID,
		SeenAt:   now,
		Messages: SerializeSeenUpdates(updates),
	}, now)
	g.metrics.droppedBroadcasts(g.registry.Broadcast(roomID, push, ""))
	return len(updates), nil
}

func (g *Gateway) broadcastPresence(roomID string) {
	push := g.newPush(v1.TypeOnlineUsers, v1.OnlineUsersPayload{
		RoomID:     roomID,
		UsersCount: g.registry.ParticipantCount(roomID),
	}, time.Now().UTC())
	g.metrics.droppedBroadcasts(g.registry.Broadcast(roomID, push, ""))
}

// sendLock returns the stripe lock for a room.
func (g *Gateway) sendLock(roomID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = io.WriteString(h, roomID)
	return &g.sendLocks[h.Sum32()%uint32(len(g.sendLocks))]
}

// ---- send helpers ----

func nack(msg string) v1.Ack { return v1.Ack{OK: false, Error: msg} }

// ack answers a request envelope with a TypeAck envelope correlated via Re.
func (g *Gateway) ack(ctx context.Context, client *Client, req v1.Envelope, payload any, now time.Time) {
	raw, err := json.Marshal(payload)
	if err != nil {
		g.log.Error("ws.ack.marshal_fail", "session_id", client.SessionID, "err", err)
		return
	}

	env := newEnvelope(v1.TypeAck, raw, now)
	env.Re = req.ID

	if !g.enqueue(ctx, client, env) {
		g.log.Info("ws.ack.drop", "session_id", client.SessionID, "re", req.ID)
	}
}

func (g *Gateway) newPush(typ string, payload any, now time.Time) v1.Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		g.log.Error("ws.push.marshal_fail", "type", typ, "err", err)
		raw = nil
	}
	return newEnvelope(typ, raw, now)
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if err == nil {
		return readErrUnknown
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns. "*" in the allowlist passes through unchanged.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
