package mongostore

import (
	"fmt"
	"time"

	"keyward.io/internal/auth"
)

type userDoc struct {
	ID             string     `bson:"_id"`
	Email          string     `bson:"email"`
	PasswordHash   string     `bson:"password_hash"`
	RotationSecret string     `bson:"rotation_secret"`
	TOTPSecret     string     `bson:"totp_secret"`
	VerifiedAt     *time.Time `bson:"verified_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toUserDoc(u *auth.User) userDoc {
	return userDoc{
		ID:             u.ID,
		Email:          u.Email,
		PasswordHash:   u.PasswordHash,
		RotationSecret: u.RotationSecret,
		TOTPSecret:     u.TOTPSecret,
		VerifiedAt:     u.VerifiedAt,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func (d userDoc) user() *auth.User {
	u := &auth.User{
		ID:             d.ID,
		Email:          d.Email,
		PasswordHash:   d.PasswordHash,
		RotationSecret: d.RotationSecret,
		TOTPSecret:     d.TOTPSecret,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if d.VerifiedAt != nil {
		at := d.VerifiedAt.UTC()
		u.VerifiedAt = &at
	}
	return u
}

// companyDoc records who founded a company. Its _id is the company id, which
// is what makes the founding claim unique.
type companyDoc struct {
	ID        string    `bson:"_id"`
	FounderID string    `bson:"founder_id"`
	CreatedAt time.Time `bson:"created_at"`
}

type membershipDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	CompanyID string    `bson:"company_id"`
	Role      int       `bson:"role"`
	Status    string    `bson:"status"`
	InvitedBy string    `bson:"invited_by,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toMembershipDoc(m *auth.Membership) membershipDoc {
	return membershipDoc{
		ID:        m.ID,
		UserID:    m.UserID,
		CompanyID: m.CompanyID,
		Role:      int(m.Role),
		Status:    string(m.Status),
		InvitedBy: m.InvitedBy,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func (d membershipDoc) membership() (*auth.Membership, error) {
	m := &auth.Membership{
		ID:        d.ID,
		UserID:    d.UserID,
		CompanyID: d.CompanyID,
		Role:      auth.Role(d.Role),
		Status:    auth.MembershipStatus(d.Status),
		InvitedBy: d.InvitedBy,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	if !m.Role.Valid() || !m.Status.Valid() {
		return nil, fmt.Errorf("membership %s has invalid role %d or status %q", d.ID, d.Role, d.Status)
	}
	return m, nil
}
