// Package roomapi exposes the HTTP surface for room allocation and history.
package roomapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"whatsroom/cmd/internal/realtime"
	v1 "whatsroom/shared/contracts/realtime/v1"

	"github.com/gorilla/mux"
)

// Handler serves the room REST endpoints.
type Handler struct {
	log       *slog.Logger
	directory realtime.RoomDirectory
	store     realtime.MessageStore
}

// NewHandler constructs the room API handler.
func NewHandler(log *slog.Logger, directory realtime.RoomDirectory, store realtime.MessageStore) *Handler {
	return &Handler{log: log, directory: directory, store: store}
}

// Register mounts the room routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/rooms", h.createRoom).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{roomId}", h.getRoom).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{roomId}/messages", h.listMessages).Methods(http.MethodGet)
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.directory.AllocateRoom(r.Context())
	if err != nil {
		h.log.Error("roomapi.create.fail", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "Could not create room"})
		return
	}

	h.log.Info("roomapi.create", "room_id", room.RoomID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":        true,
		"roomId":    room.RoomID,
		"createdAt": room.CreatedAt,
	})
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomIDFromRequest(w, r)
	if !ok {
		return
	}

	room, err := h.directory.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, realtime.ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "Room not found"})
			return
		}
		h.log.Error("roomapi.get.fail", "room_id", roomID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "Lookup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"roomId":    room.RoomID,
		"createdAt": room.CreatedAt,
	})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomIDFromRequest(w, r)
	if !ok {
		return
	}

	if _, err := h.directory.GetRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, realtime.ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "Room not found"})
			return
		}
		h.log.Error("roomapi.messages.lookup_fail", "room_id", roomID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "Lookup failed"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "Invalid limit"})
			return
		}
		limit = n
	}

	msgs, err := h.store.ListRecent(r.Context(), roomID, limit)
	if err != nil {
		h.log.Error("roomapi.messages.fail", "room_id", roomID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "History failed"})
		return
	}

	wire := make([]v1.Message, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, realtime.SerializeMessage(m))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"roomId":   roomID,
		"messages": wire,
	})
}

func (h *Handler) roomIDFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	roomID := realtime.NormalizeRoomID(mux.Vars(r)["roomId"])
	if !realtime.IsValidRoomID(roomID) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "Invalid room id"})
		return "", false
	}
	return roomID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
