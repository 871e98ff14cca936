package httpapi

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"keyward.io/internal/auth"
	"keyward.io/internal/obs"
)

// Pinger is implemented by the persistent stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// API is the HTTP layer over the auth service and membership workflows.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	members    *auth.Memberships
	guard      *auth.Guard
	readyProbe ReadyProbe
	version    string
	totpHeader string
	limiter    *ipLimiter
	proxies    []netip.Prefix
}

// Option configures API.
type Option func(*API)

// WithReadyProbe sets the readiness check behind /readyz.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithTOTPHeader names the header carrying the second-factor code.
func WithTOTPHeader(name string) Option {
	return func(a *API) {
		if name != "" {
			a.totpHeader = name
		}
	}
}

// WithRateLimit configures the per-IP limit on public credential endpoints.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) { a.limiter = newIPLimiter(burst, perSecond) }
}

// WithTrustedProxies lists the reverse proxies whose X-Forwarded-For header
// is believed when picking the client address to rate limit.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.proxies = prefixes }
}

func New(svc *auth.Service, members *auth.Memberships, guard *auth.Guard, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		members:    members,
		guard:      guard,
		version:    "dev",
		totpHeader: "X-TOTP-Code",
		limiter:    newIPLimiter(10, 5),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.limiter.trusted = a.proxies

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	public := func(pattern string, h http.HandlerFunc) {
		a.mux.Handle(pattern, a.limiter.wrap(h))
	}
	public("POST /v1/auth/register", a.handleRegister)
	public("POST /v1/auth/login", a.handleLogin)
	public("POST /v1/auth/login/verify", a.handleLoginVerify)
	public("POST /v1/auth/refresh", a.handleRefresh)
	public("POST /v1/auth/email/confirm", a.handleEmailConfirm)
	public("POST /v1/auth/password/forgot", a.handleForgotPassword)
	public("POST /v1/auth/password/reset", a.handleResetPassword)

	authed := func(pattern string, h http.Handler) {
		a.mux.Handle(pattern, a.withAuth(h))
	}
	authed("GET /v1/me", http.HandlerFunc(a.handleMe))
	authed("POST /v1/auth/logout-all", http.HandlerFunc(a.handleLogoutAll))
	authed("POST /v1/auth/password/change", http.HandlerFunc(a.handleChangePassword))
	authed("POST /v1/auth/email/verify", http.HandlerFunc(a.handleEmailVerify))
	authed("POST /v1/auth/totp/bootstrap", http.HandlerFunc(a.handleTOTPBootstrap))
	authed("POST /v1/auth/totp/confirm", http.HandlerFunc(a.handleTOTPConfirm))
	authed("POST /v1/memberships/accept", http.HandlerFunc(a.handleAccept))
	authed("POST /v1/company/bootstrap", http.HandlerFunc(a.handleBootstrap))

	authed("GET /v1/company/membership", RequireRole(guard, auth.RoleGuest)(http.HandlerFunc(a.handleMembership)))
	authed("GET /v1/company/members", RequireRole(guard, auth.RoleViewer)(http.HandlerFunc(a.handleListMembers)))
	// Management routes authorize inside the workflows. Deactivation checks
	// self-lockout first, then membership, then the second factor.
	authed("POST /v1/company/members", http.HandlerFunc(a.handleInvite))
	authed("POST /v1/company/members/{id}/deactivate",
		rejectSelf(RequireRole(guard, auth.RoleAdministrator)(a.RequireTOTP(http.HandlerFunc(a.handleDeactivate)))))
	authed("POST /v1/company/members/{id}/recover", http.HandlerFunc(a.handleRecover))
	authed("POST /v1/company/members/{id}/role", http.HandlerFunc(a.handleChangeRole))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})

	return a
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = CORS(a.totpHeader)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "keyward",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
