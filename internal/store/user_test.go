package store

import (
	"context"
	"errors"
	"testing"
)

func TestCreateUserConflict(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1", "a@x.com")

	u := seedUser(t, s, "u2", "b@x.com")
	u.ID = "u3"
	u.Email = "a@x.com"
	err := s.CreateUser(context.Background(), u)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("CreateUser duplicate email = %v, want ErrConflict", err)
	}
}

func TestGetUserByEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "a@x.com")

	t.Run("found", func(t *testing.T) {
		u, err := s.GetUserByEmail(ctx, "a@x.com")
		if err != nil {
			t.Fatalf("GetUserByEmail: %v", err)
		}
		if u.ID != "u1" {
			t.Errorf("ID = %q, want u1", u.ID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetUserByEmail(ctx, "missing@x.com")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestListUsersExcept(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "a@x.com")
	seedUser(t, s, "u2", "b@x.com")
	seedUser(t, s, "u3", "c@x.com")

	users, err := s.ListUsersExcept(ctx, "u2")
	if err != nil {
		t.Fatalf("ListUsersExcept: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len = %d, want 2", len(users))
	}
	for _, u := range users {
		if u.ID == "u2" {
			t.Error("caller included in user list")
		}
	}
}

func TestUpdateProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", "a@x.com")

	if err := s.UpdateProfile(ctx, "u1", "Alice", "https://img.example/alice.png"); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	u, err := s.GetUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if u.Name != "Alice" || u.Image != "https://img.example/alice.png" {
		t.Errorf("profile = %q/%q, want Alice/https://img.example/alice.png", u.Name, u.Image)
	}

	if err := s.UpdateProfile(ctx, "missing", "X", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProfile missing = %v, want ErrNotFound", err)
	}
}
