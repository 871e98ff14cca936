package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"keyward.io/internal/audit"
	"keyward.io/internal/auth"
)

// Role is a pointer so an omitted role is rejected rather than read as
// the zero value, which is SuperUser.
type inviteRequest struct {
	UserID string     `json:"user_id"`
	Role   *auth.Role `json:"role"`
}

type roleRequest struct {
	Role *auth.Role `json:"role"`
}

type membersResponse struct {
	CompanyID string             `json:"company_id"`
	Members   []*auth.Membership `json:"members"`
}

func (a *API) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	m, err := a.members.Bootstrap(r.Context(), currentUser(r), r.Header.Get(companyHeader))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventCompanyBootstrap, zap.String("company_id", m.CompanyID))
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleAccept(w http.ResponseWriter, r *http.Request) {
	m, err := a.members.Accept(r.Context(), currentUser(r), r.Header.Get(companyHeader))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventMemberAccepted, zap.String("company_id", m.CompanyID))
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleMembership(w http.ResponseWriter, r *http.Request) {
	m, ok := auth.MembershipFromContext(r.Context())
	if !ok {
		writeAuthError(w, r, auth.ErrNotMember)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	m, ok := auth.MembershipFromContext(r.Context())
	if !ok {
		writeAuthError(w, r, auth.ErrNotMember)
		return
	}
	list, err := a.members.List(r.Context(), m.CompanyID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	if list == nil {
		list = []*auth.Membership{}
	}
	writeJSON(w, http.StatusOK, membersResponse{CompanyID: m.CompanyID, Members: list})
}

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.Role == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "role is required")
		return
	}
	m, err := a.members.Invite(r.Context(), currentUser(r), r.Header.Get(companyHeader), req.UserID, *req.Role)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventMemberInvited,
		zap.String("company_id", m.CompanyID),
		zap.String("target_user_id", m.UserID),
		zap.Stringer("role", m.Role))
	w.Header().Set("Location", fmt.Sprintf("/v1/company/members/%s", m.UserID))
	writeJSON(w, http.StatusCreated, m)
}

// rejectSelf stops a caller from deactivating their own membership before
// any second-factor or role check runs.
func rejectSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := currentUser(r); user != nil && strings.TrimSpace(r.PathValue("id")) == user.ID {
			_ = audit.LogEvent(r.Context(), audit.EventSelfLockout, zap.String("company_id", r.Header.Get(companyHeader)))
			writeAuthError(w, r, auth.ErrSelfLockout)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("id")
	m, err := a.members.Deactivate(r.Context(), currentUser(r), r.Header.Get(companyHeader), target)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventMemberDeactivate,
		zap.String("company_id", m.CompanyID),
		zap.String("target_user_id", target))
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleRecover(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("id")
	m, err := a.members.Recover(r.Context(), currentUser(r), r.Header.Get(companyHeader), target)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventMemberRecovered,
		zap.String("company_id", m.CompanyID),
		zap.String("target_user_id", target))
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.Role == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "role is required")
		return
	}
	target := r.PathValue("id")
	m, err := a.members.ChangeRole(r.Context(), currentUser(r), r.Header.Get(companyHeader), target, *req.Role)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventMemberRole,
		zap.String("company_id", m.CompanyID),
		zap.String("target_user_id", target),
		zap.Stringer("role", m.Role))
	writeJSON(w, http.StatusOK, m)
}
