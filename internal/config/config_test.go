package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"keyward.io/internal/auth"
)

func setSecrets(t *testing.T) {
	t.Helper()
	for _, p := range auth.Purposes() {
		t.Setenv(p.EnvPrefix()+"_TOKEN_SECRET", "env-secret-"+p.String()+"-0123456789")
	}
}

func TestLoadDefaults(t *testing.T) {
	setSecrets(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppName != "keyward" || cfg.Tokens.AppName != "keyward" {
		t.Errorf("AppName = %q / %q, want keyward", cfg.AppName, cfg.Tokens.AppName)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Store = %q, want memory", cfg.Store)
	}
	if cfg.TOTPHeader != "X-TOTP-Code" {
		t.Errorf("TOTPHeader = %q, want X-TOTP-Code", cfg.TOTPHeader)
	}
	if got := cfg.Tokens.For(auth.PurposeAccess).Expiry; got != 15*time.Minute {
		t.Errorf("access expiry = %v, want 15m", got)
	}
	if got := cfg.Tokens.For(auth.PurposeRefresh).Secret; got != "env-secret-refresh-0123456789" {
		t.Errorf("refresh secret = %q", got)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	setSecrets(t)
	t.Setenv("APP_NAME", "acme-auth")
	t.Setenv("STORE", "postgres")
	t.Setenv("PG_DSN", "postgres://localhost/keyward")
	t.Setenv("LOGIN_OTP_REQUIRED", "true")
	t.Setenv("ACCESS_TOKEN_EXPIRE_SECONDS", "120")
	t.Setenv("RATE_LIMIT_BURST", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tokens.AppName != "acme-auth" {
		t.Errorf("Tokens.AppName = %q, want acme-auth", cfg.Tokens.AppName)
	}
	if !cfg.LoginOTPRequired {
		t.Error("LoginOTPRequired = false, want true")
	}
	if cfg.RateLimitBurst != 3 {
		t.Errorf("RateLimitBurst = %d, want 3", cfg.RateLimitBurst)
	}
	if got := cfg.Tokens.For(auth.PurposeAccess).Expiry; got != 2*time.Minute {
		t.Errorf("access expiry = %v, want 2m", got)
	}
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	setSecrets(t)
	t.Setenv("FORGOT_PASSWORD_TOKEN_SECRET", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "forgot_password token secret is not configured") {
		t.Fatalf("error = %v, want missing forgot_password secret", err)
	}
}

func TestLoadFromRejectsInvalidSettings(t *testing.T) {
	setSecrets(t)
	v := viper.New()
	v.Set("STORE", "redis")
	v.Set("REFRESH_TOKEN_SECRET", "env-secret-access-0123456789")
	v.Set("ACCESS_TOKEN_EXPIRE_SECONDS", 0)

	_, err := LoadFrom(v)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{`unknown STORE "redis"`, "duplicates access", "access token expiry must be positive"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateStoreRequirements(t *testing.T) {
	setSecrets(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Store = StoreMongo
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "MONGO_URI") {
		t.Fatalf("error = %v, want MONGO_URI requirement", err)
	}
	cfg.MongoURI = "mongodb://localhost:27017"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestTrustedProxies(t *testing.T) {
	setSecrets(t)
	t.Setenv("TRUSTED_PROXIES", "10.1.0.0/16, 192.0.2.10")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	prefixes, err := cfg.ProxyPrefixes()
	if err != nil {
		t.Fatalf("ProxyPrefixes: %v", err)
	}
	if len(prefixes) != 2 {
		t.Fatalf("prefixes = %v, want 2", prefixes)
	}
	if prefixes[0].String() != "10.1.0.0/16" || prefixes[1].String() != "192.0.2.10/32" {
		t.Fatalf("prefixes = %v", prefixes)
	}

	t.Setenv("TRUSTED_PROXIES", "not-an-ip")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TRUSTED_PROXIES") {
		t.Fatalf("error = %v, want TRUSTED_PROXIES", err)
	}
}

func TestNoTrustedProxiesByDefault(t *testing.T) {
	setSecrets(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	prefixes, err := cfg.ProxyPrefixes()
	if err != nil || len(prefixes) != 0 {
		t.Fatalf("ProxyPrefixes = %v, %v; want none", prefixes, err)
	}
}
