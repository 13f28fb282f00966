// Package main provides a CI-friendly WebSocket smoke test for whatsroom.
//
// It validates:
//   - room allocation over HTTP
//   - handshake + subprotocol selection
//   - join-room ack with presence count
//   - typing fanout
//   - send -> ack with server message, receive-message fanout
//   - mark-seen fanout
//   - reaction toggle fanout
//   - idempotent dedupe by clientMessageId
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "whatsroom/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "whatsroom.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name     string
	senderID string
	conn     *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:4000/ws", "WebSocket URL")
		apiURL  = flag.String("api", "http://127.0.0.1:4000", "HTTP API base URL")
		origin  = flag.String("origin", "", "Origin header to send (empty sends none)")
		text    = flag.String("text", "hello room 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	roomID := mustCreateRoom(root, *apiURL, *timeout)
	if *verbose {
		fmt.Printf("room created: %s\n", roomID)
	}

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	mustJoin(root, a, roomID, "Alice", 1, *timeout)

	// A should observe presence bumping to 2 when B joins.
	mustJoin(root, b, roomID, "Bob", 2, *timeout)
	mustPresence(root, a, roomID, 2, *timeout)

	// Typing fanout reaches the other member only.
	mustSend(root, a, v1.TypeTyping, "A-typing", v1.TypingPayload{IsTyping: true}, *timeout)
	mustTyping(root, b, roomID, a.senderID, true, *timeout)

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())
	msg := mustSendMessage(root, a, clientMsgID, *text, *timeout)

	mustReceiveMessage(root, b, roomID, msg.ID, a.senderID, *text, *timeout)

	// A receives its own fanout too; drain it before asserting dedupe later.
	mustReceiveMessage(root, a, roomID, msg.ID, a.senderID, *text, *timeout)

	mustMarkSeen(root, b, *timeout)
	mustSeenPush(root, a, roomID, b.senderID, msg.ID, *timeout)

	mustToggleReaction(root, b, msg.ID, "👍", *timeout)
	mustReactionPush(root, a, roomID, msg.ID, "👍", b.senderID, *timeout)

	// Retried send: same ack result, no second fanout.
	dup := mustSendMessage(root, a, clientMsgID, *text, *timeout)
	if dup.ID != msg.ID {
		fatalf("dedupe: message id mismatch: first=%s second=%s", msg.ID, dup.ID)
	}
	mustAssertNoType(root, b, v1.TypeReceiveMessage, 1200*time.Millisecond)
	mustAssertNoType(root, a, v1.TypeReceiveMessage, 1200*time.Millisecond)

	fmt.Printf("OK: room=%s message=%s sender_a=%s sender_b=%s\n", roomID, msg.ID, a.senderID, b.senderID)
}

func mustCreateRoom(parent context.Context, apiURL string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiURL, "/")+"/api/rooms", bytes.NewReader(nil))
	if err != nil {
		fatalf("create room request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("create room: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		fatalf("create room: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		OK     bool   `json:"ok"`
		RoomID string `json:"roomId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fatalf("decode create room response: %v", err)
	}
	if !body.OK || strings.TrimSpace(body.RoomID) == "" {
		fatalf("create room: bad response: ok=%v roomId=%q", body.OK, body.RoomID)
	}
	return body.RoomID
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	if got := conn.Subprotocol(); got != defaultSubprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, defaultSubprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:     name,
		senderID: fmt.Sprintf("smoke-%s-%d", strings.ToLower(name), time.Now().UnixNano()),
		conn:     conn,
		inbox:    make(chan v1.Envelope, 512),
		errCh:    make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustSend writes a request envelope and returns its id for ack correlation.
func mustSend(parent context.Context, c *smokeClient, typ, id string, payload any, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
	return id
}

// mustAck waits for the ack correlated with reqID and decodes its payload into out.
func (c *smokeClient) mustAck(parent context.Context, reqID string, out any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.mustNext(ctx, "ack:"+reqID)
		if env.Type != v1.TypeAck || env.Re != reqID {
			continue
		}
		if err := json.Unmarshal(env.Payload, out); err != nil {
			fatalf("unmarshal ack payload (%s): %v", c.name, err)
		}
		return
	}
}

func (c *smokeClient) mustNext(ctx context.Context, waitingFor string) v1.Envelope {
	select {
	case <-ctx.Done():
		fatalf("timeout waiting for %s (%s): %v", waitingFor, c.name, ctx.Err())
	case err := <-c.errCh:
		fatalf("connection error while waiting for %s (%s): %v", waitingFor, c.name, err)
	case env, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting for %s (%s)", waitingFor, c.name)
		}
		if env.Type == v1.TypeError {
			var ep v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &ep)
			fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
		}
		return env
	}
	panic("unreachable")
}

// mustUntilType skips unrelated envelopes until wantType arrives.
func (c *smokeClient) mustUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.mustNext(ctx, wantType)
		if env.Type == wantType {
			return env
		}
	}
}

func mustJoin(parent context.Context, c *smokeClient, roomID, displayName string, wantCount int, stepTimeout time.Duration) {
	reqID := mustSend(parent, c, v1.TypeJoinRoom, c.name+"-join", v1.JoinRoomPayload{
		RoomID:      roomID,
		SenderID:    c.senderID,
		DisplayName: displayName,
	}, stepTimeout)

	var ack v1.JoinRoomAck
	c.mustAck(parent, reqID, &ack, stepTimeout)

	if !ack.OK {
		fatalf("join rejected (%s): %s", c.name, ack.Error)
	}
	if ack.RoomID != roomID {
		fatalf("join ack room mismatch (%s): got=%q want=%q", c.name, ack.RoomID, roomID)
	}
	if ack.UsersCount != wantCount {
		fatalf("join ack users count (%s): got=%d want=%d", c.name, ack.UsersCount, wantCount)
	}
}

func mustPresence(parent context.Context, c *smokeClient, roomID string, wantCount int, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.mustNext(ctx, v1.TypeOnlineUsers)
		if env.Type != v1.TypeOnlineUsers {
			continue
		}
		var p v1.OnlineUsersPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal online-users (%s): %v", c.name, err)
		}
		if p.RoomID != roomID {
			continue
		}
		if p.UsersCount == wantCount {
			return
		}
	}
}

func mustTyping(parent context.Context, c *smokeClient, roomID, senderID string, isTyping bool, stepTimeout time.Duration) {
	env := c.mustUntilType(parent, v1.TypeTyping, stepTimeout)

	var p v1.TypingEventPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal typing (%s): %v", c.name, err)
	}
	if p.RoomID != roomID || p.SenderID != senderID || p.IsTyping != isTyping {
		fatalf("typing mismatch (%s): %+v", c.name, p)
	}
}

func mustSendMessage(parent context.Context, c *smokeClient, clientMsgID, text string, stepTimeout time.Duration) v1.Message {
	reqID := mustSend(parent, c, v1.TypeSendMessage, c.name+"-send-"+clientMsgID, v1.SendMessagePayload{
		Text:            text,
		ClientMessageID: clientMsgID,
	}, stepTimeout)

	var ack v1.SendMessageAck
	c.mustAck(parent, reqID, &ack, stepTimeout)

	if !ack.OK {
		fatalf("send rejected (%s): %s", c.name, ack.Error)
	}
	if ack.ServerMessage == nil || ack.ServerMessage.ID == "" {
		fatalf("send ack missing server message (%s)", c.name)
	}
	return *ack.ServerMessage
}

func mustReceiveMessage(parent context.Context, c *smokeClient, roomID, msgID, senderID, text string, stepTimeout time.Duration) {
	env := c.mustUntilType(parent, v1.TypeReceiveMessage, stepTimeout)

	var m v1.Message
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		fatalf("unmarshal receive-message (%s): %v", c.name, err)
	}
	if m.RoomID != roomID || m.ID != msgID || m.SenderID != senderID || m.Text != text {
		fatalf("receive-message mismatch (%s): %+v", c.name, m)
	}
}

func mustMarkSeen(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	reqID := mustSend(parent, c, v1.TypeMarkSeen, c.name+"-seen", struct{}{}, stepTimeout)

	var ack v1.MarkSeenAck
	c.mustAck(parent, reqID, &ack, stepTimeout)

	if !ack.OK {
		fatalf("mark-seen rejected (%s): %s", c.name, ack.Error)
	}
	if ack.UpdatedCount < 1 {
		fatalf("mark-seen updated nothing (%s)", c.name)
	}
}

func mustSeenPush(parent context.Context, c *smokeClient, roomID, readerID, msgID string, stepTimeout time.Duration) {
	env := c.mustUntilType(parent, v1.TypeMessagesSeen, stepTimeout)

	var p v1.MessagesSeenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal messages-seen (%s): %v", c.name, err)
	}
	if p.RoomID != roomID || p.ReaderID != readerID {
		fatalf("messages-seen mismatch (%s): %+v", c.name, p)
	}
	for _, u := range p.Messages {
		if u.MessageID == msgID {
			return
		}
	}
	fatalf("messages-seen missing message %s (%s)", msgID, c.name)
}

func mustToggleReaction(parent context.Context, c *smokeClient, msgID, emoji string, stepTimeout time.Duration) {
	reqID := mustSend(parent, c, v1.TypeToggleReaction, c.name+"-react", v1.ToggleReactionPayload{
		MessageID: msgID,
		Emoji:     emoji,
	}, stepTimeout)

	var ack v1.ToggleReactionAck
	c.mustAck(parent, reqID, &ack, stepTimeout)

	if !ack.OK {
		fatalf("reaction rejected (%s): %s", c.name, ack.Error)
	}
}

func mustReactionPush(parent context.Context, c *smokeClient, roomID, msgID, emoji, userID string, stepTimeout time.Duration) {
	env := c.mustUntilType(parent, v1.TypeMessageReactionUpdated, stepTimeout)

	var p v1.ReactionUpdatedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal reaction push (%s): %v", c.name, err)
	}
	if p.RoomID != roomID || p.MessageID != msgID {
		fatalf("reaction push mismatch (%s): %+v", c.name, p)
	}
	for _, r := range p.Reactions {
		if r.Emoji != emoji {
			continue
		}
		for _, u := range r.Users {
			if u == userID {
				return
			}
		}
	}
	fatalf("reaction push missing %s by %s (%s)", emoji, userID, c.name)
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
