package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"keyward.io/internal/auth"
	"keyward.io/internal/ids"
)

var _ auth.UserStore = (*Users)(nil)

// Users implements auth.UserStore.
type Users struct {
	db *sql.DB
}

const userColumns = `id, email, password_hash, rotation_secret, totp_secret, verified_at, created_at, updated_at`

func (s *Users) Create(ctx context.Context, u *auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = auth.NormalizeEmail(u.Email)
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, rotation_secret, totp_secret)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, u.RotationSecret, u.TOTPSecret)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Users) FindByID(ctx context.Context, id string) (*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if !ids.Valid(id) {
		return nil, auth.ErrNotFound
	}
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, auth.NormalizeEmail(email)))
}

func (s *Users) RotateSecret(ctx context.Context, userID, secret string) error {
	return s.exec(ctx, `update users set rotation_secret = $1, updated_at = now() where id = $2`, secret, userID)
}

func (s *Users) UpdatePassword(ctx context.Context, userID, passwordHash, secret string) error {
	return s.exec(ctx, `
		update users set password_hash = $1, rotation_secret = $2, updated_at = now()
		where id = $3
	`, passwordHash, secret, userID)
}

func (s *Users) MarkVerified(ctx context.Context, userID string, at time.Time) error {
	return s.exec(ctx, `update users set verified_at = $1, updated_at = now() where id = $2`, at.UTC(), userID)
}

func (s *Users) SetTOTPSecret(ctx context.Context, userID, secret string) error {
	return s.exec(ctx, `update users set totp_secret = $1, updated_at = now() where id = $2`, secret, userID)
}

func (s *Users) exec(ctx context.Context, query string, args ...any) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u        auth.User
		verified sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.RotationSecret, &u.TOTPSecret, &verified, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if verified.Valid {
		at := verified.Time.UTC()
		u.VerifiedAt = &at
	}
	return &u, nil
}
