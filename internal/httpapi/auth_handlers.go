package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"keyward.io/internal/audit"
	"keyward.io/internal/auth"
	"keyward.io/internal/obs"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User   *auth.User      `json:"user"`
	Tokens *auth.TokenPair `json:"tokens,omitempty"`
}

type loginResponse struct {
	User                  *auth.User      `json:"user"`
	Tokens                *auth.TokenPair `json:"tokens,omitempty"`
	VerificationToken     string          `json:"verification_token,omitempty"`
	VerificationExpiresAt *time.Time      `json:"verification_expires_at,omitempty"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user, err := a.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), audit.EventRegister)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	ctx := auth.ContextWithUser(r.Context(), res.User)
	if res.Tokens == nil {
		_ = audit.LogEvent(ctx, audit.EventLoginCodeSent)
		exp := res.VerificationExpiresAt
		writeJSON(w, http.StatusAccepted, loginResponse{
			User:                  res.User,
			VerificationToken:     res.VerificationToken,
			VerificationExpiresAt: &exp,
		})
		return
	}
	_ = audit.LogEvent(ctx, audit.EventLogin)
	writeJSON(w, http.StatusOK, loginResponse{User: res.User, Tokens: res.Tokens})
}

func (a *API) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user, pair, err := a.svc.VerifyLogin(r.Context(), req.Token, req.Code)
	obs.ObserveTokenVerification(auth.PurposeLoginVerification.String(), resultCode(err, "ok"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), audit.EventLogin, zap.Bool("second_step", true))
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Tokens: &pair})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user, pair, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	obs.ObserveTokenVerification(auth.PurposeRefresh.String(), resultCode(err, "ok"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), audit.EventTokenRefresh)
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Tokens: &pair})
}

func (a *API) handleEmailConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user, err := a.svc.ConfirmEmail(r.Context(), req.Token)
	obs.ObserveTokenVerification(auth.PurposeEmailVerification.String(), resultCode(err, "ok"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), audit.EventEmailConfirmed)
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := a.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		writeAuthError(w, r, err)
		return
	}
	// Same answer whether or not the account exists.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user, err := a.svc.ResetPassword(r.Context(), req.Token, req.Password)
	obs.ObserveTokenVerification(auth.PurposeForgotPassword.String(), resultCode(err, "ok"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), audit.EventPasswordReset)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeepCurrent bool `json:"keep_current"`
	}
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user := currentUser(r)
	if err := a.svc.RevokeAllSessions(r.Context(), user); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSessionsRevoked, zap.Bool("keep_current", req.KeepCurrent))
	if !req.KeepCurrent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	pair, err := a.svc.IssuePair(user)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Tokens: &pair})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user := currentUser(r)
	pair, err := a.svc.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventPasswordChanged)
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Tokens: &pair})
}

func (a *API) handleEmailVerify(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.RequestEmailVerification(r.Context(), currentUser(r)); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) handleTOTPBootstrap(w http.ResponseWriter, r *http.Request) {
	enrollment, err := a.svc.BeginTOTPBootstrap(r.Context(), currentUser(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

func (a *API) handleTOTPConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user, err := a.svc.ConfirmTOTPBootstrap(r.Context(), req.Token, req.Secret, req.Code)
	obs.ObserveTokenVerification(auth.PurposeTOTPBootstrap.String(), resultCode(err, "ok"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), audit.EventTOTPEnrolled)
	w.WriteHeader(http.StatusNoContent)
}
