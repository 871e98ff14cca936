package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"keyward.io/internal/auth"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	svc     *auth.Service
	users   *auth.MemoryStore
	members *auth.MemoryMemberships
	notes   *recordingNotifier
}

func testTokenConfig() auth.TokenConfig {
	cfg := auth.TokenConfig{AppName: "keyward-test"}
	for _, p := range auth.Purposes() {
		cfg.Purposes[p] = auth.PurposeConfig{
			Secret: "http-secret-" + p.String() + "-0123456789",
			Expiry: 15 * time.Minute,
		}
	}
	return cfg
}

func newTestAPI(t *testing.T, opts ...auth.ServiceOption) *apiClient {
	t.Helper()

	users := auth.NewMemoryStore()
	members := auth.NewMemoryMemberships()
	notes := &recordingNotifier{}

	codec, err := auth.NewCodec(testTokenConfig(), users)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	base := []auth.ServiceOption{
		auth.WithHasher(auth.NewHasher(auth.WithBcryptCost(bcrypt.MinCost))),
		auth.WithNotifier(notes),
	}
	svc, err := auth.NewService(users, codec, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	guard := auth.NewGuard(members)
	workflows, err := auth.NewMemberships(members, users, guard)
	if err != nil {
		t.Fatalf("NewMemberships: %v", err)
	}

	api := New(svc, workflows, guard, WithVersion("test"), WithRateLimit(100, 100))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		svc:     svc,
		users:   users,
		members: members,
		notes:   notes,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, headers)
}

// signup registers email and logs in, returning the user and access token.
func (c *apiClient) signup(email string) (*auth.User, string) {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]string{"email": email, "password": "correct horse"}, nil)
	expectStatus(c.t, resp, http.StatusCreated)
	user := decode[auth.User](c.t, resp)

	resp = c.post("/v1/auth/login", map[string]string{"email": email, "password": "correct horse"}, nil)
	expectStatus(c.t, resp, http.StatusOK)
	login := decode[sessionResponse](c.t, resp)
	if login.Tokens == nil || login.Tokens.AccessToken == "" {
		c.t.Fatalf("login for %s returned no tokens", email)
	}
	return &user, login.Tokens.AccessToken
}

func bearerFor(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func companyHeaders(token, company string) map[string]string {
	h := bearerFor(token)
	h[companyHeader] = company
	return h
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		var body bytes.Buffer
		_, _ = body.ReadFrom(r.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", r.Request.Method, r.Request.URL.Path, r.StatusCode, want, body.String())
	}
}

func expectErrorCode(t *testing.T, r *http.Response, status int, code string) errorResponse {
	t.Helper()
	expectStatus(t, r, status)
	body := decode[errorResponse](t, r)
	if body.Error.Code != code {
		t.Fatalf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
	if body.RequestID == "" {
		t.Fatal("expected request_id in error body")
	}
	return body
}

type recordingNotifier struct {
	mu     sync.Mutex
	codes  []string
	resets []string
	emails []string
}

func (n *recordingNotifier) SendLoginCode(_ context.Context, _ *auth.User, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, code)
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, _ *auth.User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, token)
	return nil
}

func (n *recordingNotifier) SendEmailVerification(_ context.Context, _ *auth.User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, token)
	return nil
}

func (n *recordingNotifier) last(list *[]string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(*list) == 0 {
		return ""
	}
	return (*list)[len(*list)-1]
}
