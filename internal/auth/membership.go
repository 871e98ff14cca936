package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MembershipEvent drives the membership status machine.
type MembershipEvent string

const (
	EventAccept     MembershipEvent = "accept"
	EventDeactivate MembershipEvent = "deactivate"
	EventRecover    MembershipEvent = "recover"
)

var membershipTransitions = map[MembershipStatus]map[MembershipEvent]MembershipStatus{
	MembershipInvited:  {EventAccept: MembershipActive},
	MembershipActive:   {EventDeactivate: MembershipInactive},
	MembershipInactive: {EventRecover: MembershipActive},
}

// Next returns the status reached from s by ev.
func (s MembershipStatus) Next(ev MembershipEvent) (MembershipStatus, error) {
	next, ok := membershipTransitions[s][ev]
	if !ok {
		return s, fmt.Errorf("%w: cannot %s a membership that is %s", ErrInvalidTransition, ev, s)
	}
	return next, nil
}

// Memberships implements invitation and lifecycle management of company
// memberships on top of the Guard.
type Memberships struct {
	store MembershipStore
	users UserStore
	guard *Guard
}

// NewMemberships wires the membership workflows.
func NewMemberships(store MembershipStore, users UserStore, guard *Guard) (*Memberships, error) {
	if store == nil || users == nil || guard == nil {
		return nil, errors.New("membership store, user store and guard are required")
	}
	return &Memberships{store: store, users: users, guard: guard}, nil
}

// Bootstrap makes owner the super user of a company that has no members yet.
func (s *Memberships) Bootstrap(ctx context.Context, owner *User, companyID string) (*Membership, error) {
	companyID = strings.TrimSpace(companyID)
	if owner == nil || companyID == "" {
		return nil, fmt.Errorf("%w: company id is required", ErrInvalidInput)
	}
	m := &Membership{
		UserID:    owner.ID,
		CompanyID: companyID,
		Role:      RoleSuperUser,
		Status:    MembershipActive,
	}
	if err := s.store.CreateFounder(ctx, m); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: company already has members", ErrAlreadyExists)
		}
		return nil, err
	}
	return m, nil
}

// Invite creates an invited membership for target. The actor must be an
// administrator and cannot grant a role stronger than their own.
func (s *Memberships) Invite(ctx context.Context, actor *User, companyID, targetUserID string, role Role) (*Membership, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role", ErrInvalidInput)
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	acting, err := s.guard.Require(ctx, actor, companyID, RoleAdministrator)
	if err != nil {
		return nil, err
	}
	if !acting.Role.Satisfies(role) {
		return nil, insufficientRole(role)
	}
	if _, err := s.users.FindByID(ctx, targetUserID); err != nil {
		return nil, err
	}
	m := &Membership{
		UserID:    targetUserID,
		CompanyID: acting.CompanyID,
		Role:      role,
		Status:    MembershipInvited,
		InvitedBy: actor.ID,
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Accept turns the caller's own invitation into an active membership.
func (s *Memberships) Accept(ctx context.Context, user *User, companyID string) (*Membership, error) {
	m, err := s.store.Find(ctx, user.ID, strings.TrimSpace(companyID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return s.transition(ctx, m, EventAccept)
}

// Deactivate disables target's membership. Callers may not deactivate
// themselves; that check runs before any authorization lookup.
func (s *Memberships) Deactivate(ctx context.Context, actor *User, companyID, targetUserID string) (*Membership, error) {
	if actor != nil && actor.ID == strings.TrimSpace(targetUserID) {
		return nil, ErrSelfLockout
	}
	target, err := s.manageable(ctx, actor, companyID, targetUserID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, target, EventDeactivate)
}

// Recover re-activates an inactive membership.
func (s *Memberships) Recover(ctx context.Context, actor *User, companyID, targetUserID string) (*Membership, error) {
	target, err := s.manageable(ctx, actor, companyID, targetUserID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, target, EventRecover)
}

// ChangeRole updates target's role, bounded by the actor's own role.
func (s *Memberships) ChangeRole(ctx context.Context, actor *User, companyID, targetUserID string, role Role) (*Membership, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role", ErrInvalidInput)
	}
	target, err := s.manageable(ctx, actor, companyID, targetUserID)
	if err != nil {
		return nil, err
	}
	acting, err := s.guard.Membership(ctx, actor, companyID)
	if err != nil {
		return nil, err
	}
	if !acting.Role.Satisfies(role) {
		return nil, insufficientRole(role)
	}
	target.Role = role
	if err := s.store.Update(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

// List returns the memberships of a company.
func (s *Memberships) List(ctx context.Context, companyID string) ([]*Membership, error) {
	return s.store.ListByCompany(ctx, strings.TrimSpace(companyID))
}

// manageable loads target after checking the actor administers the company
// and does not rank below target.
func (s *Memberships) manageable(ctx context.Context, actor *User, companyID, targetUserID string) (*Membership, error) {
	acting, err := s.guard.Require(ctx, actor, companyID, RoleAdministrator)
	if err != nil {
		return nil, err
	}
	target, err := s.store.Find(ctx, strings.TrimSpace(targetUserID), acting.CompanyID)
	if err != nil {
		return nil, err
	}
	if !acting.Role.Satisfies(target.Role) {
		return nil, insufficientRole(target.Role)
	}
	return target, nil
}

func (s *Memberships) transition(ctx context.Context, m *Membership, ev MembershipEvent) (*Membership, error) {
	next, err := m.Status.Next(ev)
	if err != nil {
		return nil, err
	}
	m.Status = next
	if err := s.store.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}
