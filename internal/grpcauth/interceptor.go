// Package grpcauth applies bearer authentication and company role checks to
// gRPC servers.
package grpcauth

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"keyward.io/internal/auth"
	"keyward.io/internal/obs"
)

// Metadata keys read by the interceptors.
const (
	AuthorizationKey = "authorization"
	CompanyKey       = "company-id"
)

// Authenticator resolves an access token into a user. *auth.Service
// implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*auth.User, error)
}

// Policy maps full method names to the minimum role required. Methods not
// listed only require a valid access token.
type Policy map[string]auth.Role

// Interceptor authenticates calls and enforces Policy through a Guard.
type Interceptor struct {
	authn  Authenticator
	guard  *auth.Guard
	policy Policy
	public map[string]bool
}

// Option configures Interceptor.
type Option func(*Interceptor)

// WithPublicMethods lets the given full method names through unauthenticated.
func WithPublicMethods(methods ...string) Option {
	return func(i *Interceptor) {
		for _, m := range methods {
			i.public[m] = true
		}
	}
}

func New(authn Authenticator, guard *auth.Guard, policy Policy, opts ...Option) *Interceptor {
	i := &Interceptor{
		authn:  authn,
		guard:  guard,
		policy: policy,
		public: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Unary returns the unary server interceptor.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := i.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream returns the stream server interceptor.
func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := i.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

func (i *Interceptor) authorize(ctx context.Context, method string) (context.Context, error) {
	if i.public[method] {
		return ctx, nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	token, err := bearerToken(first(md, AuthorizationKey))
	if err != nil {
		obs.ObserveTokenVerification(auth.PurposeAccess.String(), auth.KindMalformedToken.Code())
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	user, err := i.authn.Authenticate(ctx, token)
	obs.ObserveTokenVerification(auth.PurposeAccess.String(), result(err, "ok"))
	if err != nil {
		return nil, toStatus(err)
	}
	ctx = auth.ContextWithUser(ctx, user)
	ctx = auth.ContextWithToken(ctx, token)

	required, scoped := i.policy[method]
	if !scoped {
		return ctx, nil
	}
	m, err := i.guard.Require(ctx, user, first(md, CompanyKey), required)
	obs.ObserveGuardDecision(result(err, "allow"))
	if err != nil {
		return nil, toStatus(err)
	}
	return auth.ContextWithMembership(ctx, m), nil
}

// toStatus maps taxonomy errors onto gRPC codes.
func toStatus(err error) error {
	e, ok := auth.AsError(err)
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}
	var code codes.Code
	switch e.Kind {
	case auth.KindMalformedToken, auth.KindUnknownSubject, auth.KindInvalidToken:
		code = codes.Unauthenticated
	case auth.KindNotMember:
		code = codes.NotFound
	case auth.KindInsufficientRole, auth.KindSecondFactorRequired:
		code = codes.PermissionDenied
	case auth.KindSelfLockout:
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, e.PublicMessage())
}

func result(err error, ok string) string {
	if err == nil {
		return ok
	}
	if e, isAuth := auth.AsError(err); isAuth {
		return e.Kind.Code()
	}
	return "error"
}

func bearerToken(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("missing bearer token")
	}
	const prefix = "bearer "
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(value[len(prefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }
