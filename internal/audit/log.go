// Package audit records security-relevant account and membership events as
// structured log entries tagged type=audit.
package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"keyward.io/internal/auth"
	"keyward.io/internal/obs"
)

// Event names.
const (
	EventRegister         = "user.register"
	EventLogin            = "user.login"
	EventLoginCodeSent    = "user.login_code_sent"
	EventTokenRefresh     = "token.refresh"
	EventEmailConfirmed   = "user.email_confirmed"
	EventPasswordReset    = "user.password_reset"
	EventPasswordChanged  = "user.password_changed"
	EventSessionsRevoked  = "user.sessions_revoked"
	EventTOTPEnrolled     = "user.totp_enrolled"
	EventCompanyBootstrap = "membership.bootstrap"
	EventMemberInvited    = "membership.invited"
	EventMemberAccepted   = "membership.accepted"
	EventMemberDeactivate = "membership.deactivated"
	EventMemberRecovered  = "membership.recovered"
	EventMemberRole       = "membership.role_changed"
	EventSelfLockout      = "membership.self_lockout_rejected"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id and the
// authenticated user found in ctx.
func LogEvent(ctx context.Context, event string, fields ...zap.Field) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	base := make([]zap.Field, 0, len(fields)+4)
	base = append(base, zap.String("type", "audit"), zap.String("event", event))
	if rid := RequestIDFromContext(ctx); rid != "" {
		base = append(base, zap.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		base = append(base, zap.String("user_id", userID))
	}
	obs.Logger().Info("audit", append(base, fields...)...)
	return nil
}
