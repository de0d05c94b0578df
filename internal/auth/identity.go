// Package auth keeps the local identity label and issues and verifies the
// bearer tokens that protect the HTTP API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lehigh-university-libraries/imagebatch/internal/kvstore"
)

var ErrEmailRequired = errors.New("email is required")

// Identity stores who is using this client. It is a label, not a credential.
type Identity struct {
	store kvstore.Store
}

func NewIdentity(store kvstore.Store) *Identity {
	return &Identity{store: store}
}

// Login saves the trimmed email
func (i *Identity) Login(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	if err := i.store.Set(ctx, kvstore.KeyEmail, email); err != nil {
		return "", fmt.Errorf("save identity: %w", err)
	}
	return email, nil
}

// Email returns the saved email, or "" when nobody is logged in
func (i *Identity) Email(ctx context.Context) (string, error) {
	email, _, err := i.store.Get(ctx, kvstore.KeyEmail)
	if err != nil {
		return "", fmt.Errorf("read identity: %w", err)
	}
	return email, nil
}

func (i *Identity) Logout(ctx context.Context) error {
	if err := i.store.Remove(ctx, kvstore.KeyEmail); err != nil {
		return fmt.Errorf("remove identity: %w", err)
	}
	return nil
}
