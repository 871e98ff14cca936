package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Guard resolves a caller's membership in a company and enforces a minimum
// role. It never looks at tokens; identity must already be established.
type Guard struct {
	memberships MembershipStore
}

// NewGuard returns a Guard reading memberships from store.
func NewGuard(store MembershipStore) *Guard {
	return &Guard{memberships: store}
}

// Authorize is the pure policy check over an already loaded membership.
func Authorize(m *Membership, required Role) error {
	if !m.Active() {
		return ErrNotMember
	}
	if !m.Role.Satisfies(required) {
		return insufficientRole(required)
	}
	return nil
}

// Membership loads the active membership of user in companyID.
func (g *Guard) Membership(ctx context.Context, user *User, companyID string) (*Membership, error) {
	companyID = strings.TrimSpace(companyID)
	if user == nil || companyID == "" {
		return nil, ErrNotMember
	}
	m, err := g.memberships.Find(ctx, user.ID, companyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, fmt.Errorf("load membership: %w", err)
	}
	if !m.Active() {
		return nil, ErrNotMember
	}
	return m, nil
}

// Require loads the membership and checks it against required.
func (g *Guard) Require(ctx context.Context, user *User, companyID string, required Role) (*Membership, error) {
	m, err := g.Membership(ctx, user, companyID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(m, required); err != nil {
		return nil, err
	}
	return m, nil
}
