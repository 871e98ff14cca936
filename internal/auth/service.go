package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"
)

// Service implements the account flows built on the codec: registration,
// login with optional emailed code, refresh, email verification, password
// reset and change, session revocation and TOTP enrollment.
type Service struct {
	users    UserStore
	codec    *Codec
	hasher   Hasher
	revoker  *Revoker
	notifier Notifier
	totp     TOTPValidator
	now      func() time.Time

	requireLoginCode bool
	// dummyDigest is compared against on unknown emails so both failure
	// paths cost one hash verification.
	dummyDigest string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithHasher overrides the password hasher.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) { s.hasher = h }
}

// WithNotifier sets the collaborator delivering codes and links.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLoginCode makes Login answer with a code-bound verification token
// instead of a token pair.
func WithLoginCode(required bool) ServiceOption {
	return func(s *Service) { s.requireLoginCode = required }
}

// WithTOTPValidator overrides the second-factor validator.
func WithTOTPValidator(v TOTPValidator) ServiceOption {
	return func(s *Service) { s.totp = v }
}

// WithServiceClock overrides the time source used for verified_at stamps.
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs Service.
func NewService(users UserStore, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if users == nil || codec == nil {
		return nil, errors.New("auth: user store and codec are required")
	}
	s := &Service{
		users:    users,
		codec:    codec,
		hasher:   NewHasher(),
		revoker:  NewRevoker(users),
		notifier: NopNotifier{},
		totp:     NewTOTPValidator(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	digest, err := s.hasher.Hash("keyward-unknown-account")
	if err != nil {
		return nil, err
	}
	s.dummyDigest = digest
	return s, nil
}

// Codec exposes the token codec used by the service.
func (s *Service) Codec() *Codec { return s.codec }

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// LoginResult holds either a token pair or, when an emailed code is
// required, the verification token to present together with that code.
type LoginResult struct {
	User                  *User
	Tokens                *TokenPair
	VerificationToken     string
	VerificationExpiresAt time.Time
}

// Register creates a user with a fresh rotation secret.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	secret, err := NewRotationSecret()
	if err != nil {
		return nil, err
	}
	user := &User{Email: email, PasswordHash: digest, RotationSecret: secret}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate resolves the user behind an access token.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*User, error) {
	return s.codec.Verify(ctx, accessToken, PurposeAccess)
}

// Login checks credentials. Unknown emails and wrong passwords both yield
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.Verify(password, s.dummyDigest)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}

	if !s.requireLoginCode {
		pair, err := s.mintPair(user)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{User: user, Tokens: &pair}, nil
	}

	code, err := NewLoginCode()
	if err != nil {
		return LoginResult{}, err
	}
	token, exp, err := s.codec.IssueBound(user, PurposeLoginVerification, code, 0)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.notifier.SendLoginCode(ctx, user, code); err != nil {
		return LoginResult{}, fmt.Errorf("deliver login code: %w", err)
	}
	return LoginResult{User: user, VerificationToken: token, VerificationExpiresAt: exp}, nil
}

// VerifyLogin completes a code-bound login.
func (s *Service) VerifyLogin(ctx context.Context, token, code string) (*User, TokenPair, error) {
	user, err := s.codec.VerifyBound(ctx, token, PurposeLoginVerification, code)
	if err != nil {
		return nil, TokenPair{}, err
	}
	pair, err := s.mintPair(user)
	return user, pair, err
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*User, TokenPair, error) {
	user, err := s.codec.Verify(ctx, refreshToken, PurposeRefresh)
	if err != nil {
		return nil, TokenPair{}, err
	}
	pair, err := s.mintPair(user)
	return user, pair, err
}

// RequestEmailVerification sends user a link proving email ownership.
func (s *Service) RequestEmailVerification(ctx context.Context, user *User) error {
	if user.Verified() {
		return nil
	}
	token, _, err := s.codec.Issue(user, PurposeEmailVerification, 0)
	if err != nil {
		return err
	}
	return s.notifier.SendEmailVerification(ctx, user, token)
}

// ConfirmEmail marks the token's user verified. Repeated confirmation is a no-op.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (*User, error) {
	user, err := s.codec.Verify(ctx, token, PurposeEmailVerification)
	if err != nil {
		return nil, err
	}
	if user.Verified() {
		return user, nil
	}
	at := s.now().UTC()
	if err := s.users.MarkVerified(ctx, user.ID, at); err != nil {
		return nil, err
	}
	user.VerifiedAt = &at
	return user, nil
}

// ForgotPassword sends a reset link. Unknown emails succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	token, _, err := s.codec.Issue(user, PurposeForgotPassword, 0)
	if err != nil {
		return err
	}
	return s.notifier.SendPasswordReset(ctx, user, token)
}

// ResetPassword sets a new password and revokes every session of the user,
// including the reset token itself.
func (s *Service) ResetPassword(ctx context.Context, token, password string) (*User, error) {
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	user, err := s.codec.Verify(ctx, token, PurposeForgotPassword)
	if err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	if err := s.revoker.ReplacePassword(ctx, user, digest); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangePassword replaces the password of an authenticated user and returns
// a fresh pair so the current device stays signed in.
func (s *Service) ChangePassword(ctx context.Context, user *User, current, next string) (TokenPair, error) {
	if !s.hasher.Verify(current, user.PasswordHash) {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err := validatePassword(next); err != nil {
		return TokenPair{}, err
	}
	digest, err := s.hasher.Hash(next)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.revoker.ReplacePassword(ctx, user, digest); err != nil {
		return TokenPair{}, err
	}
	return s.mintPair(user)
}

// RevokeAllSessions logs user out of every device.
func (s *Service) RevokeAllSessions(ctx context.Context, user *User) error {
	return s.revoker.RevokeAllSessions(ctx, user)
}

// IssuePair mints a new access/refresh pair for user.
func (s *Service) IssuePair(user *User) (TokenPair, error) {
	return s.mintPair(user)
}

// TOTPEnrollment is handed to the client to pair an authenticator app.
type TOTPEnrollment struct {
	Secret    string    `json:"secret"`
	URL       string    `json:"otpauth_url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BeginTOTPBootstrap generates a TOTP secret and a bootstrap token bound to it.
func (s *Service) BeginTOTPBootstrap(ctx context.Context, user *User) (TOTPEnrollment, error) {
	secret, url, err := GenerateTOTPKey(s.codec.cfg.AppName, user.Email)
	if err != nil {
		return TOTPEnrollment{}, err
	}
	token, exp, err := s.codec.IssueBound(user, PurposeTOTPBootstrap, secret, 0)
	if err != nil {
		return TOTPEnrollment{}, err
	}
	return TOTPEnrollment{Secret: secret, URL: url, Token: token, ExpiresAt: exp}, nil
}

// ConfirmTOTPBootstrap stores secret once the user proves their app produces
// valid codes for it. The token only verifies with the secret it was minted for.
func (s *Service) ConfirmTOTPBootstrap(ctx context.Context, token, secret, code string) (*User, error) {
	user, err := s.codec.VerifyBound(ctx, token, PurposeTOTPBootstrap, secret)
	if err != nil {
		return nil, err
	}
	if !s.totp.Validate(code, secret) {
		return nil, ErrSecondFactorRequired
	}
	if err := s.users.SetTOTPSecret(ctx, user.ID, secret); err != nil {
		return nil, err
	}
	user.TOTPSecret = secret
	return user, nil
}

// CheckSecondFactor validates a TOTP code for an authenticated user.
func (s *Service) CheckSecondFactor(user *User, code string) error {
	return s.totp.Check(user, code)
}

func (s *Service) mintPair(user *User) (TokenPair, error) {
	access, accessExp, err := s.codec.Issue(user, PurposeAccess, 0)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.Issue(user, PurposeRefresh, 0)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}
