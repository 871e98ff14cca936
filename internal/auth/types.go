package auth

import (
	"fmt"
	"strings"
	"time"
)

// User represents an account that can authenticate against the core.
//
// RotationSecret is mixed into every signing key issued for the user.
// Rewriting it invalidates all outstanding tokens of every purpose.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	RotationSecret string     `json:"-"`
	TOTPSecret     string     `json:"-"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Verified reports whether the user confirmed ownership of their email.
func (u *User) Verified() bool {
	return u != nil && u.VerifiedAt != nil
}

// Role is the privilege a user holds within a company. Lower values are
// more privileged.
type Role int

const (
	RoleSuperUser Role = iota
	RoleAdministrator
	RoleContributor
	RoleViewer
	RoleGuest
)

var roleNames = [...]string{
	RoleSuperUser:     "super_user",
	RoleAdministrator: "administrator",
	RoleContributor:   "contributor",
	RoleViewer:        "viewer",
	RoleGuest:         "guest",
}

// Roles lists every role from most to least privileged.
func Roles() []Role {
	return []Role{RoleSuperUser, RoleAdministrator, RoleContributor, RoleViewer, RoleGuest}
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	return r >= RoleSuperUser && r <= RoleGuest
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// Satisfies reports whether a holder of r meets a policy requiring required.
func (r Role) Satisfies(required Role) bool {
	return r.Valid() && required.Valid() && r <= required
}

// ParseRole resolves a role by name, case-insensitively.
func ParseRole(name string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range Roles() {
		if roleNames[r] == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, name)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: invalid role %d", ErrInvalidInput, int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MembershipStatus tracks where a membership is in its lifecycle.
type MembershipStatus string

const (
	MembershipInvited  MembershipStatus = "invited"
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipInvited, MembershipActive, MembershipInactive:
		return true
	}
	return false
}

// Membership binds a user to a company with a role.
type Membership struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	CompanyID string           `json:"company_id"`
	Role      Role             `json:"role"`
	Status    MembershipStatus `json:"status"`
	InvitedBy string           `json:"invited_by,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Active reports whether the membership currently authorizes access.
func (m *Membership) Active() bool {
	return m != nil && m.Status == MembershipActive
}
