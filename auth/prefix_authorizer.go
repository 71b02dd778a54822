package auth

import (
	"context"
	"path"
	"strings"
)

// PrefixAuthorizer confines named users to a set of path prefixes. The
// root user and users without configured prefixes may access any path.
type PrefixAuthorizer struct {
	prefixes map[string][]string
}

// NewPrefixAuthorizer creates an authorizer from user -> allowed prefixes
func NewPrefixAuthorizer(prefixes map[string][]string) *PrefixAuthorizer {
	cleaned := make(map[string][]string, len(prefixes))
	for user, list := range prefixes {
		for _, p := range list {
			cleaned[user] = append(cleaned[user], path.Clean("/"+strings.TrimPrefix(p, "/")))
		}
	}
	return &PrefixAuthorizer{prefixes: cleaned}
}

// Authorize checks if a user has the specified permission for a path
func (a *PrefixAuthorizer) Authorize(ctx context.Context, userID string, p string, perm PermissionType) error {
	if userID == RootUser {
		return nil
	}

	allowed, restricted := a.prefixes[userID]
	if !restricted {
		return nil
	}

	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	for _, prefix := range allowed {
		if prefix == "/" || p == prefix || strings.HasPrefix(p, prefix+"/") {
			return nil
		}
	}
	return ErrPermissionDenied
}
