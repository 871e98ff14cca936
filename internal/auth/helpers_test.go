package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// testClock is a settable time source shared by codec and service.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testTokenConfig() TokenConfig {
	cfg := TokenConfig{AppName: "keyward-test"}
	for _, p := range Purposes() {
		cfg.Purposes[p] = PurposeConfig{
			Secret: "secret-for-" + p.String() + "-0123456789",
			Expiry: 15 * time.Minute,
		}
	}
	return cfg
}

type fixture struct {
	clock   *testClock
	users   *MemoryStore
	members *MemoryMemberships
	codec   *Codec
	notes   *recordingNotifier
	svc     *Service
	guard   *Guard
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		clock:   newTestClock(),
		users:   NewMemoryStore(),
		members: NewMemoryMemberships(),
		notes:   &recordingNotifier{},
	}
	codec, err := NewCodec(testTokenConfig(), f.users, WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	f.codec = codec
	base := []ServiceOption{
		WithHasher(NewHasher(WithBcryptCost(bcrypt.MinCost))),
		WithNotifier(f.notes),
		WithServiceClock(f.clock.Now),
		WithTOTPValidator(NewTOTPValidator(f.clock.Now)),
	}
	svc, err := NewService(f.users, codec, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	f.guard = NewGuard(f.members)
	return f
}

func (f *fixture) register(t *testing.T, email string) *User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), email, "correct horse battery")
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return u
}

type recordingNotifier struct {
	mu           sync.Mutex
	loginCodes   []string
	resetTokens  []string
	verifyTokens []string
}

func (n *recordingNotifier) SendLoginCode(_ context.Context, _ *User, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loginCodes = append(n.loginCodes, code)
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, _ *User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetTokens = append(n.resetTokens, token)
	return nil
}

func (n *recordingNotifier) SendEmailVerification(_ context.Context, _ *User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifyTokens = append(n.verifyTokens, token)
	return nil
}
