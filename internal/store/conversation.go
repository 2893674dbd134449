package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// Conversation is a 1:1 or group conversation. A message belongs to exactly
// one conversation for its lifetime; membership is fixed at creation. The
// only mutable column is last_message_at.
type Conversation struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	IsGroup       bool       `json:"isGroup"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastMessageAt time.Time  `json:"lastMessageAt"`
	UserIDs       []string   `json:"userIds"`
	Users         []*User    `json:"users,omitempty"`
	Messages      []*Message `json:"messages,omitempty"`
}

// DirectKey derives the lookup key for a 1:1 conversation. The key is
// symmetric over the unordered user pair, so lookups from either side hit
// the same row.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// CreateGroupConversation creates a named group conversation with the
// creator and the given members. The member list is deduplicated.
func (s *Store) CreateGroupConversation(ctx context.Context, name, creatorID string, memberIDs []string) (*Conversation, error) {
	id := NewULID()
	now := time.Now()

	members := lo.Uniq(append([]string{creatorID}, memberIDs...))

	err := s.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, name, is_group, direct_key, created_at, last_message_at)
			 VALUES (?, ?, 1, NULL, ?, ?)`,
			id, name, now.UnixMicro(), now.UnixMicro(),
		)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return insertMembers(ctx, tx, id, members, now)
	})
	if err != nil {
		return nil, err
	}

	return s.GetConversation(ctx, id)
}

// FindOrCreateDirectConversation returns the 1:1 conversation between the
// two users, creating it if none exists. The lookup goes through the sorted
// pair key, so it is symmetric: starting from either side returns the same
// row. Two concurrent creates converge on one conversation; the losing
// insert hits the unique index and re-reads the winner. The second return
// value reports whether a new conversation was created.
func (s *Store) FindOrCreateDirectConversation(ctx context.Context, currentID, otherID string) (*Conversation, bool, error) {
	key := DirectKey(currentID, otherID)

	existing, err := s.getConversationByDirectKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	id := NewULID()
	now := time.Now()

	err = s.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, name, is_group, direct_key, created_at, last_message_at)
			 VALUES (?, '', 0, ?, ?, ?)`,
			id, key, now.UnixMicro(), now.UnixMicro(),
		)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return insertMembers(ctx, tx, id, lo.Uniq([]string{currentID, otherID}), now)
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			// Lost the race: someone created the same pair concurrently.
			winner, werr := s.getConversationByDirectKey(ctx, key)
			if werr != nil {
				return nil, false, werr
			}
			return winner, false, nil
		}
		return nil, false, err
	}

	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// GetConversation returns a conversation with its member list populated.
// Returns ErrNotFound if not found.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.scanConversationRow(s.db.QueryRowContext(ctx,
		`SELECT id, name, is_group, created_at, last_message_at
		 FROM conversations WHERE id = ?`, id,
	))
	if err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversationWithMessages returns a conversation with members and the
// full ordered message sequence.
func (s *Store) GetConversationWithMessages(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

// ListConversationsForUser returns all conversations the user belongs to,
// most recent activity first, each with members and messages populated.
func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.is_group, c.created_at, c.last_message_at
		 FROM conversations c
		 JOIN conversation_members cm ON cm.conversation_id = c.id
		 WHERE cm.user_id = ?
		 ORDER BY c.last_message_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := s.scanConversationRow(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	for _, conv := range convs {
		if err := s.loadMembers(ctx, conv); err != nil {
			return nil, err
		}
		msgs, err := s.ListMessages(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		conv.Messages = msgs
	}
	return convs, nil
}

// DeleteConversationForMember hard-deletes a conversation on behalf of a
// member. Messages and seen rows cascade. Returns the pre-delete snapshot
// (with members) for event fan-out, or ErrNotFound when the conversation
// does not exist or the caller is not a member.
func (s *Store) DeleteConversationForMember(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !lo.Contains(conv.UserIDs, userID) {
		return nil, ErrNotFound
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ?`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("delete conversation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return conv, nil
}

// IsMember checks if a user is a member of a conversation.
func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_members WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return count > 0, nil
}

func insertMembers(ctx context.Context, tx *sql.Tx, conversationID string, userIDs []string, now time.Time) error {
	for _, uid := range userIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`,
			conversationID, uid, now.UnixMicro(),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("member %s: %w", uid, ErrConflict)
			}
			return fmt.Errorf("add member %s: %w", uid, err)
		}
	}
	return nil
}

func (s *Store) getConversationByDirectKey(ctx context.Context, key string) (*Conversation, error) {
	conv, err := s.scanConversationRow(s.db.QueryRowContext(ctx,
		`SELECT id, name, is_group, created_at, last_message_at
		 FROM conversations WHERE direct_key = ?`, key,
	))
	if err != nil {
		return nil, err
	}
	if err := s.loadMembers(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// loadMembers populates UserIDs and Users for a conversation.
func (s *Store) loadMembers(ctx context.Context, conv *Conversation) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.name, u.image, u.password_hash, u.created_at, u.updated_at
		 FROM users u
		 JOIN conversation_members cm ON cm.user_id = u.id
		 WHERE cm.conversation_id = ?
		 ORDER BY cm.joined_at`,
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	users, err := scanUsers(rows)
	if err != nil {
		return err
	}
	conv.Users = users
	conv.UserIDs = lo.Map(users, func(u *User, _ int) string { return u.ID })
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanConversationRow(row rowScanner) (*Conversation, error) {
	conv := &Conversation{}
	var createdAt, lastMessageAt int64
	err := row.Scan(&conv.ID, &conv.Name, &conv.IsGroup, &createdAt, &lastMessageAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	conv.CreatedAt = time.UnixMicro(createdAt)
	conv.LastMessageAt = time.UnixMicro(lastMessageAt)
	return conv, nil
}
