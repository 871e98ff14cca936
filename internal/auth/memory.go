package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"keyward.io/internal/ids"
)

var (
	_ UserStore       = (*MemoryStore)(nil)
	_ MembershipStore = (*MemoryMemberships)(nil)
)

// MemoryStore implements UserStore in process memory. Returned users are
// copies, so callers never share mutable state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, u *User) error {
	email := NormalizeEmail(u.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return ErrAlreadyExists
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, ok := s.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	now := s.now().UTC()
	u.Email = email
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *MemoryStore) RotateSecret(_ context.Context, userID, secret string) error {
	return s.update(userID, func(u *User) { u.RotationSecret = secret })
}

func (s *MemoryStore) UpdatePassword(_ context.Context, userID, passwordHash, secret string) error {
	return s.update(userID, func(u *User) {
		u.PasswordHash = passwordHash
		u.RotationSecret = secret
	})
}

func (s *MemoryStore) MarkVerified(_ context.Context, userID string, at time.Time) error {
	return s.update(userID, func(u *User) {
		at := at.UTC()
		u.VerifiedAt = &at
	})
}

func (s *MemoryStore) SetTOTPSecret(_ context.Context, userID, secret string) error {
	return s.update(userID, func(u *User) { u.TOTPSecret = secret })
}

func (s *MemoryStore) update(userID string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = s.now().UTC()
	return nil
}

// MemoryMemberships implements MembershipStore in process memory.
type MemoryMemberships struct {
	mu   sync.RWMutex
	rows map[membershipKey]*Membership
	now  func() time.Time
}

type membershipKey struct {
	userID    string
	companyID string
}

// NewMemoryMemberships creates an empty membership store.
func NewMemoryMemberships() *MemoryMemberships {
	return &MemoryMemberships{rows: make(map[membershipKey]*Membership), now: time.Now}
}

func (s *MemoryMemberships) Create(_ context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(m)
}

func (s *MemoryMemberships) CreateFounder(_ context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.rows {
		if key.companyID == m.CompanyID {
			return ErrAlreadyExists
		}
	}
	return s.insertLocked(m)
}

func (s *MemoryMemberships) insertLocked(m *Membership) error {
	key := membershipKey{m.UserID, m.CompanyID}
	if _, ok := s.rows[key]; ok {
		return ErrAlreadyExists
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := s.now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	s.rows[key] = &cp
	return nil
}

func (s *MemoryMemberships) Find(_ context.Context, userID, companyID string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.rows[membershipKey{userID, companyID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryMemberships) Update(_ context.Context, m *Membership) error {
	key := membershipKey{m.UserID, m.CompanyID}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rows[key]
	if !ok {
		return ErrNotFound
	}
	existing.Role = m.Role
	existing.Status = m.Status
	existing.UpdatedAt = s.now().UTC()
	m.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *MemoryMemberships) ListByCompany(_ context.Context, companyID string) ([]*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Membership
	for key, m := range s.rows {
		if key.companyID != companyID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// NormalizeEmail lower-cases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
