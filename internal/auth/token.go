package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the wire payload of every token:
// {sub, iat, exp, iss, aud} with aud serialized as a single string.
type tokenClaims struct {
	Subject   string           `json:"sub"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
	Issuer    string           `json:"iss"`
	Audience  string           `json:"aud"`
}

var _ jwt.Claims = (*tokenClaims)(nil)

func (c *tokenClaims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c *tokenClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c *tokenClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *tokenClaims) GetIssuer() (string, error)                   { return c.Issuer, nil }
func (c *tokenClaims) GetSubject() (string, error)                  { return c.Subject, nil }

func (c *tokenClaims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Audience}, nil
}

// Codec issues and verifies purpose-scoped tokens. The signing key of a token
// depends on the subject's current rotation secret, so verification first
// peeks at the unverified subject, loads the user, and only then checks the
// signature with the recomputed key.
type Codec struct {
	cfg   TokenConfig
	users UserStore
	now   func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source used for iat/exp.
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec validates cfg and returns a codec resolving subjects through users.
func NewCodec(cfg TokenConfig, users UserStore, opts ...CodecOption) (*Codec, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("auth: token config: %w", err)
	}
	c := &Codec{cfg: cfg, users: users, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Expiry returns the configured lifetime of purpose p.
func (c *Codec) Expiry(p Purpose) time.Duration {
	return c.cfg.For(p).Expiry
}

// Issue signs a token for user and purpose. A non-positive ttl falls back to
// the purpose's configured expiry.
func (c *Codec) Issue(user *User, purpose Purpose, ttl time.Duration) (string, time.Time, error) {
	if requiresBinding(purpose) {
		return "", time.Time{}, fmt.Errorf("%w: %s tokens must be bound", ErrInvalidInput, purpose)
	}
	return c.issue(user, purpose, "", ttl)
}

// IssueBound signs a token whose key also covers binding, for example the
// one-time code of a login verification. The token verifies only when the
// same binding is presented again.
func (c *Codec) IssueBound(user *User, purpose Purpose, binding string, ttl time.Duration) (string, time.Time, error) {
	if binding == "" {
		return "", time.Time{}, fmt.Errorf("%w: binding is required", ErrInvalidInput)
	}
	return c.issue(user, purpose, binding, ttl)
}

func (c *Codec) issue(user *User, purpose Purpose, binding string, ttl time.Duration) (string, time.Time, error) {
	if !purpose.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown token purpose", ErrInvalidInput)
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if user.RotationSecret == "" {
		return "", time.Time{}, fmt.Errorf("%w: user has no rotation secret", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = c.cfg.For(purpose).Expiry
	}

	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := &tokenClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		Issuer:    c.cfg.AppName,
		Audience:  c.cfg.AppName,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey(user, purpose, binding))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", purpose, err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks token against purpose and returns the user it was issued to.
func (c *Codec) Verify(ctx context.Context, token string, purpose Purpose) (*User, error) {
	return c.VerifyBound(ctx, token, purpose, "")
}

// VerifyBound is Verify for tokens minted with IssueBound.
func (c *Codec) VerifyBound(ctx context.Context, token string, purpose Purpose, binding string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformedToken
	}
	if !purpose.Valid() || (requiresBinding(purpose) && binding == "") {
		return nil, ErrInvalidToken
	}

	// The subject is untrusted until the signature checks out below.
	var peek tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &peek); err != nil {
		return nil, ErrMalformedToken
	}
	if strings.TrimSpace(peek.Subject) == "" {
		return nil, ErrMalformedToken
	}

	user, err := c.users.FindByID(ctx, peek.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownSubject
		}
		return nil, fmt.Errorf("resolve token subject: %w", err)
	}
	if user.RotationSecret == "" {
		return nil, ErrInvalidToken
	}

	key := c.signingKey(user, purpose, binding)
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.AppName),
		jwt.WithAudience(c.cfg.AppName),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject != user.ID {
		return nil, ErrInvalidToken
	}
	return user, nil
}

func (c *Codec) signingKey(user *User, purpose Purpose, binding string) []byte {
	key := combineKey(user.RotationSecret, c.cfg.For(purpose).Secret)
	if requiresBinding(purpose) {
		key = bindKey(key, binding)
	}
	return key
}

// requiresBinding reports whether purpose tokens are only meaningful together
// with extra material (the emailed code or the TOTP secret being enrolled).
func requiresBinding(p Purpose) bool {
	return p == PurposeLoginVerification || p == PurposeTOTPBootstrap
}
