package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Store is the data-store surface the chat handlers depend on.
type Store interface {
	SaveMessage(ctx context.Context, msg Message) error
	MarkDelivered(ctx context.Context, messageID, receiverID string) (Message, bool, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetOrCreateConversation(ctx context.Context, a, b string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	ResetUnread(ctx context.Context, conversationID string, slot Slot) error
	DeleteConversation(ctx context.Context, conversationID string) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveMessage stores msg and applies it to its conversation summary in one
// transaction, so a failed summary update leaves no orphaned message behind.
func (r *Repository) SaveMessage(ctx context.Context, msg Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}
	if err := applyMessage(ctx, tx, msg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

func insertMessage(ctx context.Context, ex execer, msg Message) error {
	query := `INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, timestamp, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := ex.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp, msg.Status)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

// applyMessage upserts the conversation summary for msg in one statement. The
// receiver's unread counter is incremented atomically from a NULL-safe zero;
// the last-message fields only move forward in time.
func applyMessage(ctx context.Context, ex execer, msg Message) error {
	p1, p2 := Participants(msg.SenderID, msg.ReceiverID)
	inc1, inc2 := 0, 0
	if ReceiverSlot(msg.SenderID, msg.ReceiverID) == Slot1 {
		inc1 = 1
	} else {
		inc2 = 1
	}

	query := `
		INSERT INTO conversations (id, participant1_id, participant2_id, last_message_text,
			last_message_timestamp, last_message_sender_id, unread_count_user1, unread_count_user2)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			unread_count_user1 = COALESCE(conversations.unread_count_user1, 0) + EXCLUDED.unread_count_user1,
			unread_count_user2 = COALESCE(conversations.unread_count_user2, 0) + EXCLUDED.unread_count_user2,
			last_message_text = CASE
				WHEN conversations.last_message_timestamp IS NULL
					OR EXCLUDED.last_message_timestamp >= conversations.last_message_timestamp
				THEN EXCLUDED.last_message_text ELSE conversations.last_message_text END,
			last_message_sender_id = CASE
				WHEN conversations.last_message_timestamp IS NULL
					OR EXCLUDED.last_message_timestamp >= conversations.last_message_timestamp
				THEN EXCLUDED.last_message_sender_id ELSE conversations.last_message_sender_id END,
			last_message_timestamp = GREATEST(conversations.last_message_timestamp, EXCLUDED.last_message_timestamp)
	`
	_, err := ex.ExecContext(ctx, query,
		msg.ConversationID, p1, p2, msg.Content, msg.Timestamp, msg.SenderID, inc1, inc2)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", msg.ConversationID, err)
	}
	return nil
}

// MarkDelivered moves a message from sent to delivered when receiverID is its
// receiver. ok is false when the condition did not hold; that is not an error.
func (r *Repository) MarkDelivered(ctx context.Context, messageID, receiverID string) (Message, bool, error) {
	query := `UPDATE messages SET status = 'delivered'
		WHERE id = $1 AND receiver_id = $2 AND status = 'sent'
		RETURNING id, conversation_id, sender_id, receiver_id, content, timestamp, status`

	var m Message
	err := r.db.QueryRowContext(ctx, query, messageID, receiverID).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &m.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("mark delivered %s: %w", messageID, err)
	}
	return m, true, nil
}

const conversationColumns = `id, participant1_id, participant2_id, COALESCE(last_message_text, ''),
	last_message_timestamp, COALESCE(last_message_sender_id, ''),
	COALESCE(unread_count_user1, 0), COALESCE(unread_count_user2, 0)`

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (*Conversation, error) {
	c := &Conversation{}
	var ts sql.NullTime
	err := s.Scan(&c.ID, &c.Participant1ID, &c.Participant2ID, &c.LastMessageText,
		&ts, &c.LastMessageSenderID, &c.UnreadCountUser1, &c.UnreadCountUser2)
	if err != nil {
		return nil, err
	}
	if ts.Valid {
		c.LastMessageTimestamp = &ts.Time
	}
	return c, nil
}

func (r *Repository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return c, nil
}

// GetOrCreateConversation relies on the deterministic id: concurrent callers
// race on the primary key, never on a duplicate row.
func (r *Repository) GetOrCreateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	p1, p2 := Participants(a, b)
	id := DeriveConversationID(a, b)

	_, err := r.db.ExecContext(ctx, `INSERT INTO conversations (id, participant1_id, participant2_id,
		unread_count_user1, unread_count_user2) VALUES ($1, $2, $3, 0, 0) ON CONFLICT (id) DO NOTHING`, id, p1, p2)
	if err != nil {
		return nil, fmt.Errorf("create conversation %s: %w", id, err)
	}
	return r.GetConversation(ctx, id)
}

func (r *Repository) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE participant1_id = $1 OR participant2_id = $1
		ORDER BY last_message_timestamp DESC NULLS LAST
		LIMIT 100`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *Repository) ResetUnread(ctx context.Context, conversationID string, slot Slot) error {
	column := "unread_count_user1"
	if slot == Slot2 {
		column = "unread_count_user2"
	}
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET `+column+` = 0 WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("reset unread %s: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes the conversation and all of its messages.
func (r *Repository) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete messages %s: %w", conversationID, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ListMessages returns the newest messages first.
func (r *Repository) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, receiver_id, content, timestamp, status
		FROM messages
		WHERE conversation_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &m.Status); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

var _ Store = (*Repository)(nil)
