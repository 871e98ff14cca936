package auth

import "context"

// Notifier delivers out-of-band messages (login codes and account links) to
// users. Templating and transport live outside the core.
type Notifier interface {
	SendLoginCode(ctx context.Context, user *User, code string) error
	SendPasswordReset(ctx context.Context, user *User, token string) error
	SendEmailVerification(ctx context.Context, user *User, token string) error
}

// NopNotifier drops every message.
type NopNotifier struct{}

func (NopNotifier) SendLoginCode(context.Context, *User, string) error         { return nil }
func (NopNotifier) SendPasswordReset(context.Context, *User, string) error     { return nil }
func (NopNotifier) SendEmailVerification(context.Context, *User, string) error { return nil }
