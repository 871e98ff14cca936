package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPValidator checks time-based one-time codes supplied as a second factor.
type TOTPValidator struct {
	now func() time.Time
}

// NewTOTPValidator returns a validator using the wall clock unless now is set.
func NewTOTPValidator(now func() time.Time) TOTPValidator {
	if now == nil {
		now = time.Now
	}
	return TOTPValidator{now: now}
}

// Validate reports whether code is currently valid for secret, allowing one
// period of clock skew in either direction.
func (v TOTPValidator) Validate(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	now := time.Now
	if v.now != nil {
		now = v.now
	}
	ok, err := totp.ValidateCustom(code, secret, now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// Check enforces the second factor for user. Users without an enrolled
// secret cannot pass a TOTP-gated action.
func (v TOTPValidator) Check(user *User, code string) error {
	if user == nil || user.TOTPSecret == "" || !v.Validate(code, user.TOTPSecret) {
		return ErrSecondFactorRequired
	}
	return nil
}

// GenerateTOTPKey creates a new shared secret and its otpauth:// URL.
func GenerateTOTPKey(issuer, account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

const loginCodeDigits = 6

// NewLoginCode returns a uniformly random numeric one-time code.
func NewLoginCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate login code: %w", err)
	}
	return fmt.Sprintf("%0*d", loginCodeDigits, n.Int64()), nil
}
