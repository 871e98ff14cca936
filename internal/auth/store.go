package auth

import (
	"context"
	"time"
)

// UserStore persists identity records. Implementations return ErrNotFound
// for missing users and ErrAlreadyExists for duplicate emails.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// RotateSecret replaces the user's rotation secret in a single update.
	RotateSecret(ctx context.Context, userID, secret string) error
	// UpdatePassword writes the new digest and rotation secret together.
	UpdatePassword(ctx context.Context, userID, passwordHash, secret string) error
	MarkVerified(ctx context.Context, userID string, at time.Time) error
	SetTOTPSecret(ctx context.Context, userID, secret string) error
}

// MembershipStore persists company memberships. At most one membership
// exists per (user, company) pair; Create returns ErrAlreadyExists otherwise.
type MembershipStore interface {
	Create(ctx context.Context, m *Membership) error
	// CreateFounder inserts m only when its company has no memberships yet,
	// atomically with respect to other CreateFounder calls. It returns
	// ErrAlreadyExists when the company is taken.
	CreateFounder(ctx context.Context, m *Membership) error
	Find(ctx context.Context, userID, companyID string) (*Membership, error)
	Update(ctx context.Context, m *Membership) error
	ListByCompany(ctx context.Context, companyID string) ([]*Membership, error)
}
