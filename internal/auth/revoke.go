package auth

import (
	"context"
	"errors"
	"fmt"
)

// Revoker invalidates every outstanding token of a user by rotating the
// secret all of their signing keys are derived from. No token list is kept.
type Revoker struct {
	users UserStore
}

// NewRevoker returns a Revoker writing through users.
func NewRevoker(users UserStore) *Revoker {
	return &Revoker{users: users}
}

// RevokeAllSessions rotates user's secret. Concurrent calls are safe: the
// last write wins and every earlier token stays invalid either way. The
// caller's own access token is invalidated too.
func (r *Revoker) RevokeAllSessions(ctx context.Context, user *User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	secret, err := NewRotationSecret()
	if err != nil {
		return err
	}
	if err := r.users.RotateSecret(ctx, user.ID, secret); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("rotate secret: %w", err)
	}
	user.RotationSecret = secret
	return nil
}

// ReplacePassword stores a new digest and rotates the secret in the same
// update, so a password change always ends every other session.
func (r *Revoker) ReplacePassword(ctx context.Context, user *User, digest string) error {
	secret, err := NewRotationSecret()
	if err != nil {
		return err
	}
	if err := r.users.UpdatePassword(ctx, user.ID, digest, secret); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	user.PasswordHash = digest
	user.RotationSecret = secret
	return nil
}
