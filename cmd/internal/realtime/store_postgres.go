// Package realtime contains the whatsroom realtime gateway, connection
// registry, and message persistence primitives.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a RoomDirectory + MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Idempotent insert serializes writers per room via a transactional
//     advisory lock, so broadcast order can follow commit order.
//   - Seen updates are a single conditional add-if-absent statement.
//   - Reaction toggles are read-modify-write under a row lock.
type PostgresStore struct {
	pool       *pgxpool.Pool
	schema     string
	codeLength int
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "whatsroom").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithRoomCodeLength sets the generated room code length (clamped to 4..16).
func WithRoomCodeLength(length int) PostgresOption {
	return func(s *PostgresStore) error {
		s.codeLength = ClampRoomCodeLength(length)
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:       pool,
		schema:     "whatsroom",
		codeLength: defaultRoomCodeLength,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// AllocateRoom inserts a fresh random code, retrying on collisions.
func (s *PostgresStore) AllocateRoom(ctx context.Context) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	rooms := pgIdent(s.schema, "rooms")

	for attempt := 0; attempt < maxAllocationAttempts; attempt++ {
		code, err := NewRoomCode(s.codeLength)
		if err != nil {
			return Room{}, err
		}

		var createdAt time.Time
		err = s.pool.QueryRow(ctx,
			`INSERT INTO `+rooms+` (room_id, created_at)
			 VALUES ($1, $2)
			 ON CONFLICT (room_id) DO NOTHING
			 RETURNING created_at`,
			code, time.Now().UTC(),
		).Scan(&createdAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// Collision, try another code.
			continue
		}
		if err != nil {
			return Room{}, fmt.Errorf("allocate room: %w", err)
		}
		return Room{RoomID: code, CreatedAt: createdAt}, nil
	}

	return Room{}, ErrAllocationExhausted
}

// GetRoom resolves a room code.
func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, errors.New("realtime: nil store")
	}
	roomID = NormalizeRoomID(roomID)
	if roomID == "" {
		return Room{}, ErrRoomNotFound
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	rooms := pgIdent(s.schema, "rooms")

	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT created_at FROM `+rooms+` WHERE room_id = $1`,
		roomID,
	).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, err
	}
	return Room{RoomID: roomID, CreatedAt: createdAt}, nil
}

const messageColumns = `id, room_id, sender_id, sender_name, text, client_message_id, reply_to, seen_by, seen_at, reactions, created_at`

// InsertOrGet appends a message with idempotency per (room, sender, clientMessageId).
func (s *PostgresStore) InsertOrGet(ctx context.Context, in InsertMessageInput) (InsertMessageResult, error) {
	if s == nil || s.pool == nil {
		return InsertMessageResult{}, errors.New("realtime: nil store")
	}
	if in.RoomID == "" || in.SenderID == "" || in.Text == "" {
		return InsertMessageResult{}, errors.New("realtime: invalid insert input")
	}
	if err := ctx.Err(); err != nil {
		return InsertMessageResult{}, err
	}

	roomID := NormalizeRoomID(in.RoomID)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return InsertMessageResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")

	// Serialize writers per room so commit order is well-defined and duplicate
	// detection cannot race its own retry.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, roomID); err != nil {
		return InsertMessageResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	if in.ClientMessageID != "" {
		existing, err := s.reconcileDuplicate(ctx, tx, messages, roomID, in)
		if err == nil {
			if err := tx.Commit(ctx); err != nil {
				return InsertMessageResult{}, err
			}
			return InsertMessageResult{Stored: existing, Duplicated: true}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return InsertMessageResult{}, err
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewMessageID(now)
	if err != nil {
		return InsertMessageResult{}, err
	}

	var replyJSON []byte
	if in.ReplyTo != nil {
		replyJSON, err = json.Marshal(in.ReplyTo)
		if err != nil {
			return InsertMessageResult{}, err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, room_id, sender_id, sender_name, text, client_message_id, reply_to, seen_by, seen_at, reactions, created_at
		   ) VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, ARRAY[$3]::text[], NULL, '[]'::jsonb, $8)`,
		id, roomID, in.SenderID, in.SenderName, in.Text, in.ClientMessageID, replyJSON, now,
	); err != nil {
		return InsertMessageResult{}, fmt.Errorf("insert message: %w", err)
	}

	out := StoredMessage{
		ID:              id,
		RoomID:          roomID,
		SenderID:        in.SenderID,
		SenderName:      in.SenderName,
		Text:            in.Text,
		ClientMessageID: in.ClientMessageID,
		ReplyTo:         in.ReplyTo,
		SeenBy:          []string{in.SenderID},
		Reactions:       []ReactionState{},
		CreatedAt:       now,
	}

	if err := tx.Commit(ctx); err != nil {
		return InsertMessageResult{}, err
	}
	return InsertMessageResult{Stored: out, Duplicated: false}, nil
}

// reconcileDuplicate handles the retried-send path: update the sender name if
// it changed, re-add the sender to seenBy if missing, and return the row.
func (s *PostgresStore) reconcileDuplicate(ctx context.Context, tx pgx.Tx, messagesTable, roomID string, in InsertMessageInput) (StoredMessage, error) {
	row := tx.QueryRow(ctx,
		`UPDATE `+messagesTable+`
		    SET sender_name = COALESCE(NULLIF($4, ''), sender_name),
		        seen_by = CASE WHEN $2 = ANY(seen_by) THEN seen_by ELSE array_append(seen_by, $2) END
		  WHERE room_id = $1 AND sender_id = $2 AND client_message_id = $3
		RETURNING `+messageColumns,
		roomID, in.SenderID, in.ClientMessageID, in.SenderName,
	)
	return scanMessage(row)
}

// ResolveReplySnapshot fetches a bounded snapshot of the referenced message, or nil.
func (s *PostgresStore) ResolveReplySnapshot(ctx context.Context, roomID, messageID string) (*ReplySnapshot, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	var (
		id, senderID string
		senderName   *string
		text         string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, sender_id, sender_name, text FROM `+messages+` WHERE room_id = $1 AND id = $2`,
		NormalizeRoomID(roomID), messageID,
	).Scan(&id, &senderID, &senderName, &text)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &ReplySnapshot{
		MessageID: id,
		SenderID:  senderID,
		Text:      replyPreview(text),
	}
	if senderName != nil {
		snap.SenderName = *senderName
	}
	return snap, nil
}

// MarkSeen performs the conditional add-if-absent bulk update and returns the
// updated subset ordered by message id.
func (s *PostgresStore) MarkSeen(ctx context.Context, roomID, readerID string, now time.Time) ([]SeenUpdate, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	if readerID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`UPDATE `+messages+`
		    SET seen_by = array_append(seen_by, $2),
		        seen_at = $3
		  WHERE room_id = $1
		    AND sender_id <> $2
		    AND NOT (seen_by @> ARRAY[$2]::text[])
		RETURNING id, seen_by, seen_at`,
		NormalizeRoomID(roomID), readerID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	defer rows.Close()

	var updates []SeenUpdate
	for rows.Next() {
		var u SeenUpdate
		if err := rows.Scan(&u.MessageID, &u.SeenBy, &u.SeenAt); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified; message ids are ULIDs, so id order is
	// insertion order.
	sort.Slice(updates, func(i, j int) bool { return updates[i].MessageID < updates[j].MessageID })
	return updates, nil
}

// ToggleReaction toggles the sender's emoji under a row lock and returns the new state.
func (s *PostgresStore) ToggleReaction(ctx context.Context, roomID, messageID, senderID, emoji string) ([]ReactionState, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT reactions FROM `+messages+` WHERE room_id = $1 AND id = $2 FOR UPDATE`,
		NormalizeRoomID(roomID), messageID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	var reactions []ReactionState
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reactions); err != nil {
			return nil, fmt.Errorf("decode reactions: %w", err)
		}
	}

	reactions = toggleReactionList(reactions, senderID, emoji)

	encoded, err := json.Marshal(reactions)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE `+messages+` SET reactions = $2 WHERE room_id = $1 AND id = $3`,
		NormalizeRoomID(roomID), encoded, messageID,
	); err != nil {
		return nil, fmt.Errorf("update reactions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return reactions, nil
}

// ListRecent returns the most recent limit messages, chronologically ascending.
func (s *PostgresStore) ListRecent(ctx context.Context, roomID string, limit int) ([]StoredMessage, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampHistoryLimit(limit)

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+messages+`
		  WHERE room_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		NormalizeRoomID(roomID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]StoredMessage, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first page, reordered oldest-first for display.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessage(row pgx.Row) (StoredMessage, error) {
	var (
		m          StoredMessage
		senderName *string
		clientID   *string
		replyRaw   []byte
		seenAt     *time.Time
		reactRaw   []byte
	)
	if err := row.Scan(
		&m.ID,
		&m.RoomID,
		&m.SenderID,
		&senderName,
		&m.Text,
		&clientID,
		&replyRaw,
		&m.SeenBy,
		&seenAt,
		&reactRaw,
		&m.CreatedAt,
	); err != nil {
		return StoredMessage{}, err
	}

	if senderName != nil {
		m.SenderName = *senderName
	}
	if clientID != nil {
		m.ClientMessageID = *clientID
	}
	if seenAt != nil {
		m.SeenAt = *seenAt
	}
	if len(replyRaw) > 0 {
		var snap ReplySnapshot
		if err := json.Unmarshal(replyRaw, &snap); err != nil {
			return StoredMessage{}, fmt.Errorf("decode reply_to: %w", err)
		}
		if snap.MessageID != "" {
			m.ReplyTo = &snap
		}
	}
	m.Reactions = []ReactionState{}
	if len(reactRaw) > 0 {
		if err := json.Unmarshal(reactRaw, &m.Reactions); err != nil {
			return StoredMessage{}, fmt.Errorf("decode reactions: %w", err)
		}
	}
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
