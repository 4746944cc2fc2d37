package creds

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"reportdesk/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type fakeUserStore struct {
	users map[string]store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]store.User)}
}

func (f *fakeUserStore) GetUser(_ context.Context, department string) (store.User, error) {
	user, ok := f.users[department]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) UpsertUser(_ context.Context, department, passwordHash string, isAdmin bool) error {
	if _, ok := f.users[department]; ok {
		return nil
	}
	f.users[department] = store.User{Department: department, PasswordHash: passwordHash, IsAdmin: isAdmin}
	return nil
}

func TestCheckAcceptsCorrectPassword(t *testing.T) {
	users := newFakeUserStore()
	service := NewService(users)
	if err := service.Seed(context.Background(), "ЭВС", "pass-1234", false); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	user, err := service.Check(context.Background(), "ЭВС", "pass-1234")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if user.Department != "ЭВС" {
		t.Fatalf("expected department ЭВС, got %q", user.Department)
	}
}

func TestCheckRejectsWrongPassword(t *testing.T) {
	users := newFakeUserStore()
	service := NewService(users)
	if err := service.Seed(context.Background(), "ГКС", "correct", false); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	_, err := service.Check(context.Background(), "ГКС", "wrong")
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestCheckRejectsUnknownDepartment(t *testing.T) {
	service := NewService(newFakeUserStore())
	_, err := service.Check(context.Background(), "ЛЭС", "anything")
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestSeedDoesNotOverwriteExistingPassword(t *testing.T) {
	users := newFakeUserStore()
	service := NewService(users)
	if err := service.Seed(context.Background(), "КЦ-1", "first", false); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	firstHash := users.users["КЦ-1"].PasswordHash
	if err := service.Seed(context.Background(), "КЦ-1", "second", false); err != nil {
		t.Fatalf("Seed again: %v", err)
	}
	if users.users["КЦ-1"].PasswordHash != firstHash {
		t.Fatal("existing password hash was replaced")
	}
	if bcrypt.CompareHashAndPassword([]byte(firstHash), []byte("first")) != nil {
		t.Fatal("stored hash does not match the original password")
	}
}
