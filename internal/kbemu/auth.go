package kbemu

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultTokenTTL = time.Hour

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

type tokenGrant struct {
	Username  string
	ExpiresAt time.Time
}

// tokenIssuer hands out opaque bearer tokens for the configured users.
type tokenIssuer struct {
	users map[string]string
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	grants map[string]tokenGrant
}

func newTokenIssuer(users map[string]string, ttl time.Duration, now func() time.Time) *tokenIssuer {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &tokenIssuer{users: users, ttl: ttl, now: now, grants: map[string]tokenGrant{}}
}

func (t *tokenIssuer) issue(username, password string) (string, time.Duration, bool) {
	expected, ok := t.users[username]
	if !ok || subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 {
		return "", 0, false
	}
	token := uuid.NewString()
	t.mu.Lock()
	t.grants[token] = tokenGrant{Username: username, ExpiresAt: t.now().Add(t.ttl)}
	t.mu.Unlock()
	return token, t.ttl, true
}

func (t *tokenIssuer) authorizeBearer(authHeader string) (tokenGrant, *authError) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return tokenGrant{}, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	t.mu.Lock()
	grant, ok := t.grants[token]
	t.mu.Unlock()
	if !ok {
		return tokenGrant{}, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "unknown bearer token"}
	}
	if t.now().After(grant.ExpiresAt) {
		return tokenGrant{}, &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "token expired"}
	}
	return grant, nil
}
