package roomapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"whatsroom/cmd/internal/realtime"

	"github.com/gorilla/mux"
)

func newTestHandler(t *testing.T) (*mux.Router, *realtime.InMemoryStore) {
	t.Helper()

	store := realtime.NewInMemoryStore(8)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), store, store)

	r := mux.NewRouter()
	h.Register(r)
	return r, store
}

func doJSON(t *testing.T, r http.Handler, method, path string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response (%d): %v: %s", rec.Code, err, rec.Body.String())
	}
	return rec.Code, body
}

func TestCreateRoom(t *testing.T) {
	t.Parallel()

	r, _ := newTestHandler(t)

	code, body := doJSON(t, r, http.MethodPost, "/api/rooms")
	if code != http.StatusCreated {
		t.Fatalf("status=%d want=%d", code, http.StatusCreated)
	}
	if ok, _ := body["ok"].(bool); !ok {
		t.Fatalf("ok=false: %v", body)
	}

	roomID, _ := body["roomId"].(string)
	if !regexp.MustCompile(`^[A-Z0-9]{8}$`).MatchString(roomID) {
		t.Fatalf("roomId %q does not match the 8-char code shape", roomID)
	}
	if _, ok := body["createdAt"].(string); !ok {
		t.Fatalf("createdAt missing: %v", body)
	}
}

func TestGetRoom(t *testing.T) {
	t.Parallel()

	r, store := newTestHandler(t)

	room, err := store.AllocateRoom(context.Background())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	code, body := doJSON(t, r, http.MethodGet, "/api/rooms/"+room.RoomID)
	if code != http.StatusOK {
		t.Fatalf("status=%d want=%d", code, http.StatusOK)
	}
	if got, _ := body["roomId"].(string); got != room.RoomID {
		t.Fatalf("roomId=%q want=%q", got, room.RoomID)
	}

	// Lookup is case-insensitive.
	code, _ = doJSON(t, r, http.MethodGet, "/api/rooms/"+strings.ToLower(room.RoomID))
	if code != http.StatusOK {
		t.Fatalf("lowercase lookup status=%d want=%d", code, http.StatusOK)
	}
}

func TestGetRoom_Errors(t *testing.T) {
	t.Parallel()

	r, _ := newTestHandler(t)

	code, body := doJSON(t, r, http.MethodGet, "/api/rooms/ab")
	if code != http.StatusBadRequest {
		t.Fatalf("short id status=%d want=%d", code, http.StatusBadRequest)
	}
	if msg, _ := body["error"].(string); msg != "Invalid room id" {
		t.Fatalf("error=%q", msg)
	}

	code, body = doJSON(t, r, http.MethodGet, "/api/rooms/ZZZZ9999")
	if code != http.StatusNotFound {
		t.Fatalf("unknown room status=%d want=%d", code, http.StatusNotFound)
	}
	if msg, _ := body["error"].(string); msg != "Room not found" {
		t.Fatalf("error=%q", msg)
	}
}

func TestListMessages(t *testing.T) {
	t.Parallel()

	r, store := newTestHandler(t)

	room, err := store.AllocateRoom(context.Background())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.InsertOrGet(context.Background(), realtime.InsertMessageInput{
			RoomID:   room.RoomID,
			SenderID: "alice",
			Text:     "hello " + string(rune('a'+i)),
			Now:      time.Now().UTC(),
		}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	code, body := doJSON(t, r, http.MethodGet, "/api/rooms/"+room.RoomID+"/messages")
	if code != http.StatusOK {
		t.Fatalf("status=%d want=%d", code, http.StatusOK)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("messages=%d want=3", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if got, _ := first["message"].(string); got != "hello a" {
		t.Fatalf("history must be ascending, first=%q", got)
	}
	if _, present := first["senderName"]; !present {
		t.Fatalf("wire message must carry explicit senderName null")
	}

	// limit narrows to the most recent page, still ascending.
	code, body = doJSON(t, r, http.MethodGet, "/api/rooms/"+room.RoomID+"/messages?limit=2")
	if code != http.StatusOK {
		t.Fatalf("limited status=%d want=%d", code, http.StatusOK)
	}
	msgs, _ = body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("limited messages=%d want=2", len(msgs))
	}
	first, _ = msgs[0].(map[string]any)
	if got, _ := first["message"].(string); got != "hello b" {
		t.Fatalf("limited page first=%q want=%q", got, "hello b")
	}
}

func TestListMessages_InvalidLimit(t *testing.T) {
	t.Parallel()

	r, store := newTestHandler(t)

	room, err := store.AllocateRoom(context.Background())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	code, body := doJSON(t, r, http.MethodGet, "/api/rooms/"+room.RoomID+"/messages?limit=abc")
	if code != http.StatusBadRequest {
		t.Fatalf("status=%d want=%d", code, http.StatusBadRequest)
	}
	if msg, _ := body["error"].(string); msg != "Invalid limit" {
		t.Fatalf("error=%q", msg)
	}
}
