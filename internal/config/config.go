// Package config loads keyward's runtime settings from the environment.
//
// Settings are read once at startup through Viper with AutomaticEnv and
// handed to constructors by value. Token secrets have no defaults; a missing,
// short or duplicated purpose secret fails Load.
//
// # Environment Variables
//
//   - APP_NAME: token issuer and audience. Default: keyward
//   - HTTP_ADDR: HTTP listen address. Default: :8080
//   - GRPC_ADDR: gRPC listen address. Empty disables gRPC.
//   - STORE: memory, postgres or mongo. Default: memory
//   - PG_DSN, MONGO_URI, MONGO_DATABASE: store connection settings
//   - LOG_LEVEL: debug, info, warn or error. Default: info
//   - TOTP_HEADER: header carrying second-factor codes. Default: X-TOTP-Code
//   - LOGIN_OTP_REQUIRED: email a login code before issuing tokens
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST: per-IP limit on credential endpoints
//   - TRUSTED_PROXIES: comma-separated IPs or CIDRs whose X-Forwarded-For
//     header is honoured. Empty trusts no proxy.
//   - <PURPOSE>_TOKEN_SECRET, <PURPOSE>_TOKEN_EXPIRE_SECONDS for ACCESS,
//     REFRESH, EMAIL_VERIFICATION, FORGOT_PASSWORD, LOGIN_VERIFICATION and
//     TOTP_BOOTSTRAP
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"keyward.io/internal/auth"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

type Config struct {
	AppName          string  `mapstructure:"APP_NAME"`
	HTTPAddr         string  `mapstructure:"HTTP_ADDR"`
	GRPCAddr         string  `mapstructure:"GRPC_ADDR"`
	Store            string  `mapstructure:"STORE"`
	PGDSN            string  `mapstructure:"PG_DSN"`
	MongoURI         string  `mapstructure:"MONGO_URI"`
	MongoDatabase    string  `mapstructure:"MONGO_DATABASE"`
	LogLevel         string  `mapstructure:"LOG_LEVEL"`
	TOTPHeader       string  `mapstructure:"TOTP_HEADER"`
	LoginOTPRequired bool    `mapstructure:"LOGIN_OTP_REQUIRED"`
	RateLimitRPS     float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int     `mapstructure:"RATE_LIMIT_BURST"`
	TrustedProxies   string  `mapstructure:"TRUSTED_PROXIES"`

	Tokens auth.TokenConfig `mapstructure:"-"`
}

var defaultExpirySeconds = map[auth.Purpose]int{
	auth.PurposeAccess:            15 * 60,
	auth.PurposeRefresh:           7 * 24 * 60 * 60,
	auth.PurposeEmailVerification: 24 * 60 * 60,
	auth.PurposeForgotPassword:    60 * 60,
	auth.PurposeLoginVerification: 10 * 60,
	auth.PurposeTOTPBootstrap:     10 * 60,
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom reads settings through v, which may carry explicit overrides.
func LoadFrom(v *viper.Viper) (Config, error) {
	v.SetDefault("APP_NAME", "keyward")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("STORE", StoreMemory)
	v.SetDefault("PG_DSN", "")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DATABASE", "keyward")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TOTP_HEADER", "X-TOTP-Code")
	v.SetDefault("LOGIN_OTP_REQUIRED", false)
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("TRUSTED_PROXIES", "")
	for _, p := range auth.Purposes() {
		v.SetDefault(secretKey(p), "")
		v.SetDefault(expiryKey(p), defaultExpirySeconds[p])
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Tokens.AppName = cfg.AppName
	for _, p := range auth.Purposes() {
		cfg.Tokens.Purposes[p] = auth.PurposeConfig{
			Secret: v.GetString(secretKey(p)),
			Expiry: time.Duration(v.GetInt64(expiryKey(p))) * time.Second,
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AppName) == "" {
		errs = append(errs, errors.New("APP_NAME must not be empty"))
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required when STORE=postgres"))
		}
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required when STORE=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE %q", c.Store))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if _, err := c.ProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.TOTPHeader) == "" {
		errs = append(errs, errors.New("TOTP_HEADER must not be empty"))
	}
	if err := c.Tokens.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ProxyPrefixes parses TRUSTED_PROXIES. A bare address becomes a single-host
// prefix.
func (c Config) ProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range strings.Split(c.TrustedProxies, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func secretKey(p auth.Purpose) string { return p.EnvPrefix() + "_TOKEN_SECRET" }
func expiryKey(p auth.Purpose) string { return p.EnvPrefix() + "_TOKEN_EXPIRE_SECONDS" }
