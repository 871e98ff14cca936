package main

import (
	"context"

	"go.uber.org/zap"

	"keyward.io/internal/auth"
)

// logNotifier hands codes and links to the log until a mail transport is
// configured. Codes are logged at debug level only.
type logNotifier struct {
	log *zap.Logger
}

func (n logNotifier) SendLoginCode(_ context.Context, u *auth.User, code string) error {
	n.log.Debug("login code issued", zap.String("user_id", u.ID), zap.String("code", code))
	return nil
}

func (n logNotifier) SendPasswordReset(_ context.Context, u *auth.User, token string) error {
	n.log.Debug("password reset issued", zap.String("user_id", u.ID), zap.String("token", token))
	return nil
}

func (n logNotifier) SendEmailVerification(_ context.Context, u *auth.User, token string) error {
	n.log.Debug("email verification issued", zap.String("user_id", u.ID), zap.String("token", token))
	return nil
}
