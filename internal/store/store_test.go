package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates a store backed by a temp database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedUser inserts a user with sane defaults.
func seedUser(t *testing.T, s *Store, id, email string) *User {
	t.Helper()
	now := time.Now()
	u := &User{
		ID: id, Email: email, Name: id,
		PasswordHash: "x", CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", id, err)
	}
	return u
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := New(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	// Reopening must not re-run migrations.
	s2, err := New(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	s2.Close()
}

func TestNewULIDOrdered(t *testing.T) {
	a := NewULID()
	time.Sleep(2 * time.Millisecond)
	b := NewULID()
	if !(a < b) {
		t.Errorf("ULIDs not ordered: %s >= %s", a, b)
	}
}

func TestDirectKeySymmetric(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"already sorted", "u1", "u2", "u1|u2"},
		{"reversed", "u2", "u1", "u1|u2"},
		{"same user", "u1", "u1", "u1|u1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DirectKey(tt.a, tt.b); got != tt.want {
				t.Errorf("DirectKey(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
