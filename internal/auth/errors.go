package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidTransition  = errors.New("auth: invalid membership transition")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Kind classifies authentication and authorization failures.
type Kind uint8

const (
	KindMalformedToken Kind = iota + 1
	KindUnknownSubject
	KindInvalidToken
	KindNotMember
	KindInsufficientRole
	KindSelfLockout
	KindSecondFactorRequired
)

func (k Kind) String() string {
	switch k {
	case KindMalformedToken:
		return "malformed_token"
	case KindUnknownSubject:
		return "unknown_subject"
	case KindInvalidToken:
		return "invalid_token"
	case KindNotMember:
		return "not_member"
	case KindInsufficientRole:
		return "insufficient_role"
	case KindSelfLockout:
		return "self_lockout"
	case KindSecondFactorRequired:
		return "second_factor_required"
	default:
		return "unknown"
	}
}

// Code is the machine-readable code surfaced to callers. Unknown subjects are
// reported exactly like bad signatures so callers cannot enumerate accounts.
func (k Kind) Code() string {
	if k == KindUnknownSubject {
		return KindInvalidToken.String()
	}
	return k.String()
}

// HTTPStatus maps the kind to the status returned by the HTTP API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindMalformedToken, KindUnknownSubject, KindInvalidToken:
		return http.StatusUnauthorized
	case KindNotMember:
		return http.StatusNotFound
	case KindInsufficientRole, KindSecondFactorRequired:
		return http.StatusForbidden
	case KindSelfLockout:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a terminal, user-facing auth failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return "auth: " + e.Message
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is
// even when the message carries details such as the required role.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// PublicMessage is the message safe to show to the caller.
func (e *Error) PublicMessage() string {
	if e.Kind == KindUnknownSubject {
		return ErrInvalidToken.Message
	}
	return e.Message
}

var (
	ErrMalformedToken       = &Error{Kind: KindMalformedToken, Message: "Malformed token"}
	ErrUnknownSubject       = &Error{Kind: KindUnknownSubject, Message: "User not found"}
	ErrInvalidToken         = &Error{Kind: KindInvalidToken, Message: "Invalid token"}
	ErrNotMember            = &Error{Kind: KindNotMember, Message: "Not a member of this company"}
	ErrInsufficientRole     = &Error{Kind: KindInsufficientRole, Message: "Insufficient role"}
	ErrSelfLockout          = &Error{Kind: KindSelfLockout, Message: "Cannot deactivate your own membership"}
	ErrSecondFactorRequired = &Error{Kind: KindSecondFactorRequired, Message: "A valid one-time code is required"}
)

func insufficientRole(required Role) *Error {
	return &Error{
		Kind:    KindInsufficientRole,
		Message: fmt.Sprintf("Role %s or higher is required", required),
	}
}

// AsError extracts the taxonomy error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
