package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// User is a registered account. The password hash never leaves the store's
// JSON representation.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Image        string    `json:"image,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	PasswordHash string    `json:"-"`
}

// CreateUser inserts a new user. Returns ErrConflict if the email is taken.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, image, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.Image, u.PasswordHash, u.CreatedAt.UnixMicro(), u.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("email %q: %w", u.Email, ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID returns a user by ID. Returns ErrNotFound if not found.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByEmail returns a user by email. Returns ErrNotFound if not found.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, `WHERE email = ?`, email)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*User, error) {
	u := &User{}
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, image, password_hash, created_at, updated_at
		 FROM users `+where, arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Image, &u.PasswordHash, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = time.UnixMicro(createdAt)
	u.UpdatedAt = time.UnixMicro(updatedAt)
	return u, nil
}

// ListUsersExcept returns all users other than the given one, newest first.
// This backs the "start a conversation" user picker.
func (s *Store) ListUsersExcept(ctx context.Context, userID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, name, image, password_hash, created_at, updated_at
		 FROM users WHERE id != ? ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// UpdateProfile updates a user's name and image. Returns ErrNotFound if the
// user does not exist.
func (s *Store) UpdateProfile(ctx context.Context, userID, name, image string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, image = ?, updated_at = ? WHERE id = ?`,
		name, image, time.Now().UnixMicro(), userID,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUsers(rows *sql.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		u := &User{}
		var createdAt, updatedAt int64
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Image, &u.PasswordHash, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = time.UnixMicro(createdAt)
		u.UpdatedAt = time.UnixMicro(updatedAt)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}
