package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Purpose is the intended use of a token. Each purpose signs with its own
// configured secret, so a token minted for one purpose never verifies as
// another.
type Purpose uint8

const (
	PurposeAccess Purpose = iota
	PurposeRefresh
	PurposeEmailVerification
	PurposeForgotPassword
	PurposeLoginVerification
	PurposeTOTPBootstrap

	purposeCount
)

var purposeNames = [purposeCount]string{
	PurposeAccess:            "access",
	PurposeRefresh:           "refresh",
	PurposeEmailVerification: "email_verification",
	PurposeForgotPassword:    "forgot_password",
	PurposeLoginVerification: "login_verification",
	PurposeTOTPBootstrap:     "totp_bootstrap",
}

// Purposes lists every token purpose.
func Purposes() []Purpose {
	out := make([]Purpose, 0, purposeCount)
	for p := Purpose(0); p < purposeCount; p++ {
		out = append(out, p)
	}
	return out
}

func (p Purpose) Valid() bool { return p < purposeCount }

func (p Purpose) String() string {
	if !p.Valid() {
		return fmt.Sprintf("purpose(%d)", uint8(p))
	}
	return purposeNames[p]
}

// EnvPrefix is the upper-case prefix used by configuration keys, e.g.
// ACCESS for ACCESS_TOKEN_SECRET.
func (p Purpose) EnvPrefix() string {
	return strings.ToUpper(p.String())
}

// minSecretLength is the shortest purpose secret accepted at startup.
const minSecretLength = 16

// PurposeConfig is the static secret and default lifetime of one purpose.
type PurposeConfig struct {
	Secret string
	Expiry time.Duration
}

// TokenConfig holds everything the codec needs. It is built once at startup
// and never mutated.
type TokenConfig struct {
	// AppName is used for both the iss and aud claims.
	AppName  string
	Purposes [purposeCount]PurposeConfig
}

// For returns the configuration of purpose p.
func (c TokenConfig) For(p Purpose) PurposeConfig {
	if !p.Valid() {
		return PurposeConfig{}
	}
	return c.Purposes[p]
}

// Validate checks that every purpose has a usable, distinct secret and a
// positive expiry.
func (c TokenConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AppName) == "" {
		errs = append(errs, errors.New("app name is required"))
	}
	seen := make(map[string]Purpose, purposeCount)
	for _, p := range Purposes() {
		pc := c.Purposes[p]
		switch {
		case pc.Secret == "":
			errs = append(errs, fmt.Errorf("%s token secret is not configured", p))
		case len(pc.Secret) < minSecretLength:
			errs = append(errs, fmt.Errorf("%s token secret must be at least %d bytes", p, minSecretLength))
		default:
			if other, dup := seen[pc.Secret]; dup {
				errs = append(errs, fmt.Errorf("%s token secret duplicates %s", p, other))
			}
			seen[pc.Secret] = p
		}
		if pc.Expiry <= 0 {
			errs = append(errs, fmt.Errorf("%s token expiry must be positive", p))
		}
	}
	return errors.Join(errs...)
}
