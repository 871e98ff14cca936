package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"keyward.io/internal/auth"
)

var _ auth.MembershipStore = (*Memberships)(nil)

// Memberships implements auth.MembershipStore. The unique index on
// (user_id, company_id) enforces one membership per pair, and the companies
// table admits one founder per company.
type Memberships struct {
	db *sql.DB
}

const membershipColumns = `id, user_id, company_id, role, status, invited_by, created_at, updated_at`

func (s *Memberships) Create(ctx context.Context, m *auth.Membership) error {
	if s.db == nil {
		return errNoDB
	}
	return insertMembership(ctx, s.db, m)
}

// CreateFounder claims the company through the companies primary key and
// inserts the founding membership in the same transaction.
func (s *Memberships) CreateFounder(ctx context.Context, m *auth.Membership) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into companies (id, founder_id) values ($1, $2)
	`, m.CompanyID, m.UserID); err != nil {
		return mapInsertError("claim company", err)
	}
	if err := insertMembership(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertMembership(ctx context.Context, q rowQuerier, m *auth.Membership) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	row := q.QueryRowContext(ctx, `
		insert into memberships (id, user_id, company_id, role, status, invited_by)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, m.ID, m.UserID, m.CompanyID, int(m.Role), string(m.Status), nullIfEmpty(m.InvitedBy))
	if err := row.Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
		return mapInsertError("insert membership", err)
	}
	return nil
}

func mapInsertError(op string, err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrAlreadyExists
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Memberships) Find(ctx context.Context, userID, companyID string) (*auth.Membership, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		select `+membershipColumns+`
		from memberships
		where user_id = $1 and company_id = $2
	`, userID, companyID)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return m, err
}

func (s *Memberships) Update(ctx context.Context, m *auth.Membership) error {
	if s.db == nil {
		return errNoDB
	}
	err := s.db.QueryRowContext(ctx, `
		update memberships set role = $1, status = $2, updated_at = now()
		where user_id = $3 and company_id = $4
		returning updated_at
	`, int(m.Role), string(m.Status), m.UserID, m.CompanyID).Scan(&m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	return err
}

func (s *Memberships) ListByCompany(ctx context.Context, companyID string) ([]*auth.Membership, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+membershipColumns+`
		from memberships
		where company_id = $1
		order by role, created_at
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMembership(row scanner) (*auth.Membership, error) {
	var (
		m         auth.Membership
		role      int
		status    string
		invitedBy sql.NullString
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.CompanyID, &role, &status, &invitedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Role = auth.Role(role)
	m.Status = auth.MembershipStatus(status)
	if !m.Role.Valid() || !m.Status.Valid() {
		return nil, fmt.Errorf("membership %s has invalid role %d or status %q", m.ID, role, status)
	}
	m.InvitedBy = invitedBy.String
	return &m, nil
}
