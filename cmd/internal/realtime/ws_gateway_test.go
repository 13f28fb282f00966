package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "whatsroom/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

func newTestGatewayServer(t *testing.T) (*httptest.Server, *InMemoryStore) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewInMemoryStore(8)
	gw := NewGateway(log, NewRegistry(log), store, store, nil, GatewayConfig{
		HeartbeatEvery: time.Hour, // keep pings out of test traffic
	})

	srv := httptest.NewServer(http.HandlerFunc(gw.HandleWS))
	t.Cleanup(srv.Close)
	return srv, store
}

// wsTestClient wraps a dialed connection and buffers envelopes so waiting for
// an ack does not swallow interleaved pushes (fanout lands before the ack).
type wsTestClient struct {
	t       *testing.T
	conn    *websocket.Conn
	backlog []v1.Envelope
}

func dialTestWS(t *testing.T, srv *httptest.Server) *wsTestClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })

	if got := conn.Subprotocol(); got != wsSubprotocolV1 {
		t.Fatalf("subprotocol: got=%q want=%q", got, wsSubprotocolV1)
	}
	conn.SetReadLimit(1 << 20)
	return &wsTestClient{t: t, conn: conn}
}

func (c *wsTestClient) send(typ, id string, payload any) {
	c.t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		c.t.Fatalf("marshal payload: %v", err)
	}
	env := v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: time.Now().UTC(), Payload: raw}

	b, err := json.Marshal(env)
	if err != nil {
		c.t.Fatalf("marshal envelope: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *wsTestClient) read() v1.Envelope {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

// awaitAck waits for the ack correlated with reqID, buffering everything else.
func (c *wsTestClient) awaitAck(reqID string, out any) {
	c.t.Helper()

	for i := 0; i < 50; i++ {
		env := c.read()
		if env.Type != v1.TypeAck || env.Re != reqID {
			c.backlog = append(c.backlog, env)
			continue
		}
		if err := json.Unmarshal(env.Payload, out); err != nil {
			c.t.Fatalf("unmarshal ack: %v", err)
		}
		return
	}
	c.t.Fatalf("no ack for %q", reqID)
}

// awaitType returns the next envelope of the wanted type, checking the backlog first.
func (c *wsTestClient) awaitType(typ string) v1.Envelope {
	c.t.Helper()

	for i, env := range c.backlog {
		if env.Type == typ {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			return env
		}
	}

	for i := 0; i < 50; i++ {
		env := c.read()
		if env.Type == typ {
			return env
		}
		c.backlog = append(c.backlog, env)
	}
	c.t.Fatalf("no envelope of type %q", typ)
	return v1.Envelope{}
}

func (c *wsTestClient) join(roomID, senderID, displayName string) v1.JoinRoomAck {
	c.t.Helper()

	c.send(v1.TypeJoinRoom, "join-"+senderID, v1.JoinRoomPayload{
		RoomID:      roomID,
		SenderID:    senderID,
		DisplayName: displayName,
	})
	var ack v1.JoinRoomAck
	c.awaitAck("join-"+senderID, &ack)
	return ack
}

func TestGateway_JoinAndPresence(t *testing.T) {
	t.Parallel()

	srv, store := newTestGatewayServer(t)
	room := mustAllocate(t, store)

	a := dialTestWS(t, srv)
	ackA := a.join(room.RoomID, "alice", "Alice")
	if !ackA.OK || ackA.RoomID != room.RoomID || ackA.UsersCount != 1 {
		t.Fatalf("join ack A: %+v", ackA)
	}
	if ackA.DisplayName == nil || *ackA.DisplayName != "Alice" {
		t.Fatalf("join ack A display name: %+v", ackA.DisplayName)
	}

	b := dialTestWS(t, srv)
	ackB := b.join(room.RoomID, "bob", "")
	if !ackB.OK || ackB.UsersCount != 2 {
		t.Fatalf("join ack B: %+v", ackB)
	}

	// A observes presence bumping to 2.
	for {
		env := a.awaitType(v1.TypeOnlineUsers)
		var p v1.OnlineUsersPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("unmarshal online-users: %v", err)
		}
		if p.RoomID != room.RoomID {
			t.Fatalf("online-users room mismatch: %+v", p)
		}
		if p.UsersCount == 2 {
			break
		}
	}
}

func TestGateway_JoinUnknownRoom(t *testing.T) {
	t.Parallel()

	srv, _ := newTestGatewayServer(t)
	conn := dialTestWS(t, srv)

	ack := conn.join("ZZZZ9999", "alice", "")
	if ack.OK {
		t.Fatalf("expected rejection")
	}
	if ack.Error != "Room not found" {
		t.Fatalf("error=%q want=%q", ack.Error, "Room not found")
	}
}

func TestGateway_SendRequiresJoin(t *testing.T) {
	t.Parallel()

	srv, _ := newTestGatewayServer(t)
	conn := dialTestWS(t, srv)

	conn.send(v1.TypeSendMessage, "send-1", v1.SendMessagePayload{Text: "hi"})

	var ack v1.SendMessageAck
	conn.awaitAck("send-1", &ack)
	if ack.OK || ack.Error != "Join a room first" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestGateway_MessageFlow(t *testing.T) {
	t.Parallel()

	srv, store := newTestGatewayServer(t)
	room := mustAllocate(t, store)

	a := dialTestWS(t, srv)
	if ack := a.join(room.RoomID, "alice", "Alice"); !ack.OK {
		t.Fatalf("join A: %+v", ack)
	}
	b := dialTestWS(t, srv)
	if ack := b.join(room.RoomID, "bob", "Bob"); !ack.OK {
		t.Fatalf("join B: %+v", ack)
	}

	// A sends with a client id so the retry below dedupes.
	a.send(v1.TypeSendMessage, "send-1", v1.SendMessagePayload{
		Text:            "hello bob",
		ClientMessageID: "cmsg-1",
	})
	var sendAck v1.SendMessageAck
	a.awaitAck("send-1", &sendAck)
	if !sendAck.OK || sendAck.ServerMessage == nil {
		t.Fatalf("send ack: %+v", sendAck)
	}
	msgID := sendAck.ServerMessage.ID

	// Both members receive the fanout.
	for _, conn := range []*wsTestClient{a, b} {
		env := conn.awaitType(v1.TypeReceiveMessage)
		var m v1.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			t.Fatalf("unmarshal receive-message: %v", err)
		}
		if m.ID != msgID || m.SenderID != "alice" || m.Text != "hello bob" {
			t.Fatalf("receive-message mismatch: %+v", m)
		}
		if m.SenderName == nil || *m.SenderName != "Alice" {
			t.Fatalf("receive-message sender name: %+v", m.SenderName)
		}
	}

	// B catches up; A learns about it.
	b.send(v1.TypeMarkSeen, "seen-1", struct{}{})
	var seenAck v1.MarkSeenAck
	b.awaitAck("seen-1", &seenAck)
	if !seenAck.OK || seenAck.UpdatedCount != 1 {
		t.Fatalf("mark-seen ack: %+v", seenAck)
	}

	seenEnv := a.awaitType(v1.TypeMessagesSeen)
	var seen v1.MessagesSeenPayload
	if err := json.Unmarshal(seenEnv.Payload, &seen); err != nil {
		t.Fatalf("unmarshal messages-seen: %v", err)
	}
	if seen.ReaderID != "bob" || len(seen.Messages) != 1 || seen.Messages[0].MessageID != msgID {
		t.Fatalf("messages-seen mismatch: %+v", seen)
	}

	// B reacts; A gets the update.
	b.send(v1.TypeToggleReaction, "react-1", v1.ToggleReactionPayload{
		MessageID: msgID,
		Emoji:     "🔥",
	})
	var reactAck v1.ToggleReactionAck
	b.awaitAck("react-1", &reactAck)
	if !reactAck.OK || len(reactAck.Reactions) != 1 || reactAck.Reactions[0].Count != 1 {
		t.Fatalf("reaction ack: %+v", reactAck)
	}

	reactEnv := a.awaitType(v1.TypeMessageReactionUpdated)
	var react v1.ReactionUpdatedPayload
	if err := json.Unmarshal(reactEnv.Payload, &react); err != nil {
		t.Fatalf("unmarshal reaction push: %v", err)
	}
	if react.MessageID != msgID || len(react.Reactions) != 1 || react.Reactions[0].Emoji != "🔥" {
		t.Fatalf("reaction push mismatch: %+v", react)
	}

	// Retried send acks the same message and does not fan out again.
	a.send(v1.TypeSendMessage, "send-2", v1.SendMessagePayload{
		Text:            "hello bob",
		ClientMessageID: "cmsg-1",
	})
	var dupAck v1.SendMessageAck
	a.awaitAck("send-2", &dupAck)
	if !dupAck.OK || dupAck.ServerMessage == nil || dupAck.ServerMessage.ID != msgID {
		t.Fatalf("duplicate ack: %+v", dupAck)
	}
	for _, env := range a.backlog {
		if env.Type == v1.TypeReceiveMessage {
			t.Fatalf("duplicate send must not fan out again")
		}
	}
}

func TestGateway_TypingFanout(t *testing.T) {
	t.Parallel()

	srv, store := newTestGatewayServer(t)
	room := mustAllocate(t, store)

	a := dialTestWS(t, srv)
	if ack := a.join(room.RoomID, "alice", "Alice"); !ack.OK {
		t.Fatalf("join A: %+v", ack)
	}
	b := dialTestWS(t, srv)
	if ack := b.join(room.RoomID, "bob", ""); !ack.OK {
		t.Fatalf("join B: %+v", ack)
	}

	a.send(v1.TypeTyping, "typing-1", v1.TypingPayload{IsTyping: true})

	env := b.awaitType(v1.TypeTyping)
	var p v1.TypingEventPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal typing: %v", err)
	}
	if p.SenderID != "alice" || !p.IsTyping || p.RoomID != room.RoomID {
		t.Fatalf("typing mismatch: %+v", p)
	}
	if p.SenderName == nil || *p.SenderName != "Alice" {
		t.Fatalf("typing sender name: %+v", p.SenderName)
	}
}

func TestGateway_RejectsUnsupportedReaction(t *testing.T) {
	t.Parallel()

	srv, store := newTestGatewayServer(t)
	room := mustAllocate(t, store)

	conn := dialTestWS(t, srv)
	if ack := conn.join(room.RoomID, "alice", ""); !ack.OK {
		t.Fatalf("join: %+v", ack)
	}

	conn.send(v1.TypeToggleReaction, "react-bad", v1.ToggleReactionPayload{
		MessageID: "01HT3ST0000000000000000000",
		Emoji:     "🤖",
	})

	var ack v1.ToggleReactionAck
	conn.awaitAck("react-bad", &ack)
	if ack.OK || ack.Error != "Reaction not supported" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestGateway_RejectsOversizedMessage(t *testing.T) {
	t.Parallel()

	srv, store := newTestGatewayServer(t)
	room := mustAllocate(t, store)

	conn := dialTestWS(t, srv)
	if ack := conn.join(room.RoomID, "alice", ""); !ack.OK {
		t.Fatalf("join: %+v", ack)
	}

	conn.send(v1.TypeSendMessage, "send-big", v1.SendMessagePayload{
		Text: strings.Repeat("a", defaultMessageMaxChars+1),
	})

	var ack v1.SendMessageAck
	conn.awaitAck("send-big", &ack)
	if ack.OK || !strings.Contains(ack.Error, "Message too long") {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}
