package auth

import (
	"context"
	"crypto/subtle"
	"strings"
)

// APIKeyAuthenticator implements authentication using static API keys
type APIKeyAuthenticator struct {
	keys map[string]string // key -> user ID
}

// NewAPIKeyAuthenticator creates an authenticator. rootKeys authenticate
// as RootUser; userKeys maps named users to their keys.
func NewAPIKeyAuthenticator(rootKeys []string, userKeys map[string]string) *APIKeyAuthenticator {
	keys := make(map[string]string, len(rootKeys)+len(userKeys))
	for _, key := range rootKeys {
		if key != "" {
			keys[key] = RootUser
		}
	}
	for user, key := range userKeys {
		if key != "" {
			keys[key] = user
		}
	}

	return &APIKeyAuthenticator{keys: keys}
}

// Authenticate validates a token and returns the associated user ID
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", ErrAuthenticationFailed
	}

	// compare against every key so timing does not reveal a partial match
	userID := ""
	for key, user := range a.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			userID = user
		}
	}
	if userID == "" {
		return "", ErrAuthenticationFailed
	}
	return userID, nil
}
