package realtime

import (
	"strings"
	"testing"

	v1 "whatsroom/shared/contracts/realtime/v1"
)

func TestValidateJoin(t *testing.T) {
	t.Parallel()

	cmd, err := validateJoin(v1.JoinRoomPayload{
		RoomID:      " ab12cd34 ",
		SenderID:    " alice ",
		DisplayName: "  Alice  ",
	})
	if err != nil {
		t.Fatalf("validateJoin: %v", err)
	}
	if cmd.RoomID != "AB12CD34" || cmd.SenderID != "alice" || cmd.DisplayName != "Alice" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if _, err := validateJoin(v1.JoinRoomPayload{RoomID: "ab", SenderID: "alice"}); err == nil || err.Error() != "Invalid room id" {
		t.Fatalf("expected invalid room id, got %v", err)
	}
	if _, err := validateJoin(v1.JoinRoomPayload{RoomID: "AB12CD34", SenderID: "  "}); err == nil || err.Error() != "Invalid sender id" {
		t.Fatalf("expected invalid sender id, got %v", err)
	}
}

func TestValidateJoin_DisplayNameCap(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", displayNameMaxChars+10)
	cmd, err := validateJoin(v1.JoinRoomPayload{RoomID: "AB12CD34", SenderID: "alice", DisplayName: long})
	if err != nil {
		t.Fatalf("validateJoin: %v", err)
	}
	if got := len([]rune(cmd.DisplayName)); got != displayNameMaxChars {
		t.Fatalf("display name runes=%d want=%d", got, displayNameMaxChars)
	}
}

func TestValidateSend(t *testing.T) {
	t.Parallel()

	max := 100

	cmd, err := validateSend(v1.SendMessagePayload{Text: "  hello  ", ClientMessageID: " cmsg-1 "}, max)
	if err != nil {
		t.Fatalf("validateSend: %v", err)
	}
	if cmd.Text != "hello" || cmd.ClientMessageID != "cmsg-1" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if _, err := validateSend(v1.SendMessagePayload{Text: "   "}, max); err == nil || err.Error() != "Message cannot be empty" {
		t.Fatalf("expected empty rejection, got %v", err)
	}

	// Exactly at the limit is fine; one rune over is not. Multibyte runes
	// count as one character each.
	atLimit := strings.Repeat("é", max)
	if _, err := validateSend(v1.SendMessagePayload{Text: atLimit}, max); err != nil {
		t.Fatalf("at-limit message rejected: %v", err)
	}
	if _, err := validateSend(v1.SendMessagePayload{Text: atLimit + "x"}, max); err == nil || !strings.Contains(err.Error(), "Message too long") {
		t.Fatalf("expected too-long rejection, got %v", err)
	}
}

func TestValidateSend_DropsMalformedReplyID(t *testing.T) {
	t.Parallel()

	cmd, err := validateSend(v1.SendMessagePayload{Text: "hi", ReplyToMessageID: "not-a-ulid"}, 100)
	if err != nil {
		t.Fatalf("validateSend: %v", err)
	}
	if cmd.ReplyToMessageID != "" {
		t.Fatalf("malformed reply id must be dropped, got %q", cmd.ReplyToMessageID)
	}
}

func TestValidateReaction(t *testing.T) {
	t.Parallel()

	validID := "01HT3ST0000000000000000000"

	cmd, err := validateReaction(v1.ToggleReactionPayload{MessageID: validID, Emoji: "👍"})
	if err != nil {
		t.Fatalf("validateReaction: %v", err)
	}
	if cmd.MessageID != validID || cmd.Emoji != "👍" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if _, err := validateReaction(v1.ToggleReactionPayload{MessageID: "nope", Emoji: "👍"}); err == nil || err.Error() != "Invalid message id" {
		t.Fatalf("expected invalid message id, got %v", err)
	}
	if _, err := validateReaction(v1.ToggleReactionPayload{MessageID: validID, Emoji: "🤖"}); err == nil || err.Error() != "Reaction not supported" {
		t.Fatalf("expected unsupported reaction, got %v", err)
	}
}

func TestAllowedReactions(t *testing.T) {
	t.Parallel()

	for _, e := range AllowedReactions() {
		if !IsAllowedReaction(e) {
			t.Fatalf("listed reaction %q must be allowed", e)
		}
	}
	if IsAllowedReaction("💩") {
		t.Fatalf("unlisted reaction must be rejected")
	}
}
