package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "correct horse battery"},
		{"named address", "Ada <ada@example.com>", "correct horse battery"},
		{"no at sign", "ada.example.com", "correct horse battery"},
		{"short password", "ada@example.com", "short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Register(ctx, tc.email, tc.password); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	u := f.register(t, "  Ada@Example.com ")
	if u.Email != "ada@example.com" {
		t.Fatalf("email = %q, want normalized", u.Email)
	}
	if u.RotationSecret == "" || u.PasswordHash == "" {
		t.Fatal("register must set rotation secret and password hash")
	}
	if _, err := f.svc.Register(ctx, "ada@example.com", "another password"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate error = %v, want ErrAlreadyExists", err)
	}
}

func TestLoginIssuesPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "login@example.com")

	res, err := f.svc.Login(ctx, "LOGIN@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Tokens == nil || res.VerificationToken != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, err := f.svc.Authenticate(ctx, res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("user = %q, want %q", got.ID, user.ID)
	}
	if _, err := f.svc.Authenticate(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh as access error = %v, want ErrInvalidToken", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "creds@example.com")

	if _, err := f.svc.Login(ctx, "creds@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.svc.Login(ctx, "ghost@example.com", "correct horse battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginWithEmailedCode(t *testing.T) {
	f := newFixture(t, WithLoginCode(true))
	ctx := context.Background()
	user := f.register(t, "code@example.com")

	res, err := f.svc.Login(ctx, "code@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Tokens != nil || res.VerificationToken == "" {
		t.Fatalf("expected verification token only, got %+v", res)
	}
	if len(f.notes.loginCodes) != 1 {
		t.Fatalf("login codes sent = %d, want 1", len(f.notes.loginCodes))
	}
	code := f.notes.loginCodes[0]
	if len(code) != 6 {
		t.Fatalf("code = %q, want 6 digits", code)
	}

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, _, err := f.svc.VerifyLogin(ctx, res.VerificationToken, wrong); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong code error = %v, want ErrInvalidToken", err)
	}
	got, pair, err := f.svc.VerifyLogin(ctx, res.VerificationToken, code)
	if err != nil {
		t.Fatalf("VerifyLogin: %v", err)
	}
	if got.ID != user.ID || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("unexpected verify result: %+v %+v", got, pair)
	}
}

func TestRefreshRotatesPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "refresh@example.com")

	pair, err := f.svc.IssuePair(user)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	f.clock.Advance(time.Minute)
	_, next, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !next.AccessExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatalf("refreshed expiry %v should follow %v", next.AccessExpiresAt, pair.AccessExpiresAt)
	}
	if _, _, err := f.svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access as refresh error = %v, want ErrInvalidToken", err)
	}
}

func TestEmailConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "verify@example.com")

	if err := f.svc.RequestEmailVerification(ctx, user); err != nil {
		t.Fatalf("RequestEmailVerification: %v", err)
	}
	if len(f.notes.verifyTokens) != 1 {
		t.Fatalf("verification mails = %d, want 1", len(f.notes.verifyTokens))
	}
	got, err := f.svc.ConfirmEmail(ctx, f.notes.verifyTokens[0])
	if err != nil {
		t.Fatalf("ConfirmEmail: %v", err)
	}
	if !got.Verified() || !got.VerifiedAt.Equal(f.clock.Now()) {
		t.Fatalf("verified_at = %v, want %v", got.VerifiedAt, f.clock.Now())
	}

	stored, err := f.users.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if err := f.svc.RequestEmailVerification(ctx, stored); err != nil {
		t.Fatalf("RequestEmailVerification: %v", err)
	}
	if len(f.notes.verifyTokens) != 1 {
		t.Fatal("verified users should not receive another mail")
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "reset@example.com")

	if err := f.svc.ForgotPassword(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("unknown email should succeed silently: %v", err)
	}
	if len(f.notes.resetTokens) != 0 {
		t.Fatal("no mail expected for unknown email")
	}

	old, err := f.svc.IssuePair(user)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if err := f.svc.ForgotPassword(ctx, "reset@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	token := f.notes.resetTokens[0]

	if _, err := f.svc.ResetPassword(ctx, token, "brand new password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := f.svc.ResetPassword(ctx, token, "yet another password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reused reset token error = %v, want ErrInvalidToken", err)
	}
	if _, err := f.svc.Authenticate(ctx, old.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("old session after reset error = %v, want ErrInvalidToken", err)
	}
	if _, err := f.svc.Login(ctx, "reset@example.com", "correct horse battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.svc.Login(ctx, "reset@example.com", "brand new password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestChangePasswordKeepsCurrentDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "change@example.com")

	old, err := f.svc.IssuePair(user)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if _, err := f.svc.ChangePassword(ctx, user, "wrong password", "next password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current error = %v, want ErrInvalidCredentials", err)
	}
	pair, err := f.svc.ChangePassword(ctx, user, "correct horse battery", "next password")
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, old.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("old token error = %v, want ErrInvalidToken", err)
	}
	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("new token: %v", err)
	}
}

func TestRevokeAllSessionsEndsCallerToo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "logout@example.com")

	pair, err := f.svc.IssuePair(user)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if err := f.svc.RevokeAllSessions(ctx, user); err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access after logout error = %v, want ErrInvalidToken", err)
	}
	if _, _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh after logout error = %v, want ErrInvalidToken", err)
	}
}

func TestTOTPBootstrap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "totp@example.com")

	enrollment, err := f.svc.BeginTOTPBootstrap(ctx, user)
	if err != nil {
		t.Fatalf("BeginTOTPBootstrap: %v", err)
	}
	if enrollment.Secret == "" || enrollment.URL == "" || enrollment.Token == "" {
		t.Fatalf("incomplete enrollment: %+v", enrollment)
	}
	code, err := totp.GenerateCode(enrollment.Secret, f.clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	other, _, err := GenerateTOTPKey("keyward-test", user.Email)
	if err != nil {
		t.Fatalf("GenerateTOTPKey: %v", err)
	}
	if _, err := f.svc.ConfirmTOTPBootstrap(ctx, enrollment.Token, other, code); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("swapped secret error = %v, want ErrInvalidToken", err)
	}
	if _, err := f.svc.ConfirmTOTPBootstrap(ctx, enrollment.Token, enrollment.Secret, "000000x"); !errors.Is(err, ErrSecondFactorRequired) {
		t.Fatalf("bad code error = %v, want ErrSecondFactorRequired", err)
	}

	got, err := f.svc.ConfirmTOTPBootstrap(ctx, enrollment.Token, enrollment.Secret, code)
	if err != nil {
		t.Fatalf("ConfirmTOTPBootstrap: %v", err)
	}
	if err := f.svc.CheckSecondFactor(got, code); err != nil {
		t.Fatalf("CheckSecondFactor: %v", err)
	}

	f.clock.Advance(5 * time.Minute)
	if err := f.svc.CheckSecondFactor(got, code); !errors.Is(err, ErrSecondFactorRequired) {
		t.Fatalf("stale code error = %v, want ErrSecondFactorRequired", err)
	}
}
