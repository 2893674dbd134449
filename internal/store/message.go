package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// Message is one immutable message in a conversation. Exactly one of Body
// and Image is expected but not enforced. The seen set only ever grows.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body,omitempty"`
	Image          string    `json:"image,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Sender         *User     `json:"sender,omitempty"`
	SeenIDs        []string  `json:"seenIds"`
	Seen           []*User   `json:"seen,omitempty"`
}

// InsertMessage appends a message to a conversation. The sender is recorded
// as having seen it, and the conversation's last_message_at is bumped to the
// message timestamp in the same transaction, keeping last_message_at >= the
// newest message's created_at. Returns the full message with sender and seen
// set populated, or ErrNotFound when the conversation does not exist.
func (s *Store) InsertMessage(ctx context.Context, conversationID, senderID, body, image string) (*Message, error) {
	id := NewULID()
	now := time.Now()

	err := s.InTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check conversation: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, sender_id, body, image, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, conversationID, senderID, body, image, now.UnixMicro(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO message_seen (message_id, user_id, seen_at) VALUES (?, ?, ?)`,
			id, senderID, now.UnixMicro(),
		)
		if err != nil {
			return fmt.Errorf("insert seen: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
			now.UnixMicro(), conversationID,
		)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetMessage(ctx, id)
}

// GetMessage returns a message with sender and seen set populated. Returns
// ErrNotFound if not found.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	m := &Message{}
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender_id, body, image, created_at
		 FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Image, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.CreatedAt = time.UnixMicro(createdAt)

	if err := s.attachMessageUsers(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns the full ordered message sequence of a conversation,
// oldest first, each with sender and seen set populated.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_id, body, image, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Image, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMicro(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for _, m := range msgs {
		if err := s.attachMessageUsers(ctx, m); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// LastMessage returns the most recent message in a conversation, or
// ErrNotFound when the conversation has none.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`,
		conversationID,
	).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("last message: %w", err)
	}
	return s.GetMessage(ctx, id)
}

// MarkSeen adds the viewer to a message's seen set. The insert is
// idempotent: the returned bool reports whether the viewer was newly added,
// which gates the encoder's message:update event.
func (s *Store) MarkSeen(ctx context.Context, messageID, viewerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_seen (message_id, user_id, seen_at) VALUES (?, ?, ?)`,
		messageID, viewerID, time.Now().UnixMicro(),
	)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// attachMessageUsers populates Sender, Seen and SeenIDs.
func (s *Store) attachMessageUsers(ctx context.Context, m *Message) error {
	sender, err := s.GetUserByID(ctx, m.SenderID)
	if err != nil {
		return fmt.Errorf("load sender: %w", err)
	}
	m.Sender = sender

	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.name, u.image, u.password_hash, u.created_at, u.updated_at
		 FROM users u
		 JOIN message_seen ms ON ms.user_id = u.id
		 WHERE ms.message_id = ?
		 ORDER BY ms.seen_at`,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("load seen: %w", err)
	}
	defer rows.Close()

	seen, err := scanUsers(rows)
	if err != nil {
		return err
	}
	m.Seen = seen
	m.SeenIDs = lo.Map(seen, func(u *User, _ int) string { return u.ID })
	return nil
}
