package grpcauth

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"keyward.io/internal/auth"
)

func TestCredentialsMetadata(t *testing.T) {
	creds := Credentials{Token: "tok", Company: "acme"}
	md, err := creds.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md[AuthorizationKey] != "Bearer tok" || md[CompanyKey] != "acme" {
		t.Fatalf("unexpected metadata: %v", md)
	}
	if !creds.RequireTransportSecurity() {
		t.Fatal("tokens must require transport security by default")
	}
	if (Credentials{AllowInsecure: true}).RequireTransportSecurity() {
		t.Fatal("AllowInsecure should lift the requirement")
	}
}

func TestOutgoingContext(t *testing.T) {
	ctx := OutgoingContext(context.Background(), " tok ", "acme")
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if got := md.Get(AuthorizationKey); len(got) != 1 || got[0] != "Bearer tok" {
		t.Fatalf("authorization = %v", got)
	}
	if got := md.Get(CompanyKey); len(got) != 1 || got[0] != "acme" {
		t.Fatalf("company = %v", got)
	}

	bare := context.Background()
	if OutgoingContext(bare, "", "") != bare {
		t.Fatal("empty credentials should leave the context untouched")
	}
}

func TestFromStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"unauthenticated", status.Error(codes.Unauthenticated, "Invalid token"), auth.ErrInvalidToken},
		{"not found", status.Error(codes.NotFound, "Not a member"), auth.ErrNotMember},
		{"insufficient role", status.Error(codes.PermissionDenied, "Role viewer or higher is required"), auth.ErrInsufficientRole},
		{"second factor", status.Error(codes.PermissionDenied, auth.ErrSecondFactorRequired.Message), auth.ErrSecondFactorRequired},
		{"self lockout", status.Error(codes.FailedPrecondition, "no"), auth.ErrSelfLockout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FromStatus(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("FromStatus() = %v, want %v", got, tc.want)
			}
		})
	}

	internal := status.Error(codes.Internal, "boom")
	if got := FromStatus(internal); got != internal {
		t.Fatalf("internal errors should pass through, got %v", got)
	}
	if FromStatus(nil) != nil {
		t.Fatal("nil stays nil")
	}

	// Round trip through the server-side mapping.
	if got := FromStatus(toStatus(auth.ErrNotMember)); !errors.Is(got, auth.ErrNotMember) {
		t.Fatalf("round trip = %v", got)
	}
}
