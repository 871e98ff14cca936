// Package auth is the authentication and authorization core.
//
// Tokens are HS256 JWTs scoped to one purpose (access, refresh, email
// verification, password reset, login verification, TOTP bootstrap). The
// signing key of every token is HMAC-SHA256(purposeSecret, rotationSecret),
// where rotationSecret belongs to the user. Rotating that secret therefore
// revokes every token the user holds without keeping a revocation list.
//
// Authorization is company scoped: a user holds at most one Membership per
// company, and only active memberships count. Roles are ordered from
// RoleSuperUser (most privileged) to RoleGuest; a policy requiring role R
// accepts any role ranked at or above R.
package auth
