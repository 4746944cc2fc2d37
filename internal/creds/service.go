// Package creds provides department/password authentication.
package creds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"reportdesk/api/internal/store"
)

// ErrBadCredentials is returned for an unknown department or a wrong
// password. The two cases are deliberately indistinguishable.
var ErrBadCredentials = errors.New("bad credentials")

// UserStore defines the storage interface for authentication
type UserStore interface {
	GetUser(ctx context.Context, department string) (store.User, error)
	UpsertUser(ctx context.Context, department, passwordHash string, isAdmin bool) error
}

// Service checks department credentials against stored bcrypt hashes
type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// Check verifies a department/password pair and returns the stored user
// record on success.
func (s *Service) Check(ctx context.Context, department, password string) (store.User, error) {
	if department == "" || password == "" {
		return store.User{}, ErrBadCredentials
	}
	user, err := s.store.GetUser(ctx, department)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrBadCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return store.User{}, ErrBadCredentials
	}
	return user, nil
}

// Seed registers a department with the given password if it does not
// exist yet. Existing records are left untouched.
func (s *Service) Seed(ctx context.Context, department, password string, isAdmin bool) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpsertUser(ctx, department, string(hash), isAdmin); err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	return nil
}
