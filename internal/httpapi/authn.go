package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"keyward.io/internal/auth"
	"keyward.io/internal/obs"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	companyHeader = "Company-ID"
)

// withAuth resolves the bearer access token into a user. Every failure,
// including an unknown subject, is reported as 401.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, auth.KindMalformedToken.Code(), err.Error())
			return
		}
		user, err := a.svc.Authenticate(r.Context(), token)
		obs.ObserveTokenVerification(auth.PurposeAccess.String(), resultCode(err, "ok"))
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		ctx := auth.ContextWithUser(r.Context(), user)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits callers whose active membership in the company named by
// the Company-ID header satisfies role. It expects withAuth to have run.
func RequireRole(guard *auth.Guard, role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, auth.KindInvalidToken.Code(), "authentication required")
				return
			}
			m, err := guard.Require(r.Context(), user, r.Header.Get(companyHeader), role)
			obs.ObserveGuardDecision(resultCode(err, "allow"))
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithMembership(r.Context(), m)))
		})
	}
}

// RequireTOTP demands a valid time-based code in header from a user that
// has enrolled an authenticator.
func (a *API) RequireTOTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, auth.KindInvalidToken.Code(), "authentication required")
			return
		}
		if err := a.svc.CheckSecondFactor(user, strings.TrimSpace(r.Header.Get(a.totpHeader))); err != nil {
			writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func currentUser(r *http.Request) *auth.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}
