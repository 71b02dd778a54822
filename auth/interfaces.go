// Package auth provides authentication and authorization interfaces and implementations for bundlefs.
// Callers are identified by API key; writes are restricted to per-user path prefixes.
package auth

import (
	"context"
	"errors"
)

// PermissionType represents different permission types for authorization
type PermissionType int

const (
	ReadPerm PermissionType = iota
	WritePerm
)

// RootUser is the identity of keys that are not bound to a named user
const RootUser = "root"

// Common authentication/authorization errors
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrPermissionDenied     = errors.New("permission denied")
)

// Authenticator defines the interface for user authentication
type Authenticator interface {
	// Authenticate validates a token and returns the associated user ID
	Authenticate(ctx context.Context, token string) (userID string, err error)
}

// Authorizer defines the interface for authorization checks
type Authorizer interface {
	// Authorize checks if a user has the specified permission for a path
	Authorize(ctx context.Context, userID string, path string, perm PermissionType) error
}
