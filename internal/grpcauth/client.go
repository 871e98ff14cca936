package grpcauth

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"keyward.io/internal/auth"
)

// Credentials attaches an access token and company to every call made on a
// connection. Use it with grpc.WithPerRPCCredentials.
type Credentials struct {
	Token   string
	Company string
	// AllowInsecure permits sending the token over plaintext connections.
	AllowInsecure bool
}

func (c Credentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	md := make(map[string]string, 2)
	if c.Token != "" {
		md[AuthorizationKey] = "Bearer " + c.Token
	}
	if c.Company != "" {
		md[CompanyKey] = c.Company
	}
	return md, nil
}

func (c Credentials) RequireTransportSecurity() bool { return !c.AllowInsecure }

// OutgoingContext adds the token and company to a single call's metadata.
func OutgoingContext(ctx context.Context, token, company string) context.Context {
	var pairs []string
	if token = strings.TrimSpace(token); token != "" {
		pairs = append(pairs, AuthorizationKey, "Bearer "+token)
	}
	if company = strings.TrimSpace(company); company != "" {
		pairs = append(pairs, CompanyKey, company)
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// FromStatus turns a status produced by the interceptors back into the
// matching auth error. Other errors pass through unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return auth.ErrInvalidToken
	case codes.NotFound:
		return auth.ErrNotMember
	case codes.PermissionDenied:
		if st.Message() == auth.ErrSecondFactorRequired.Message {
			return auth.ErrSecondFactorRequired
		}
		return &auth.Error{Kind: auth.KindInsufficientRole, Message: st.Message()}
	case codes.FailedPrecondition:
		return auth.ErrSelfLockout
	default:
		return err
	}
}
