package session

import (
	"context"
	"strings"
	"time"

	"rcie/domain/core"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the authenticated user context. It is created on login, dropped
// on logout and never mutated in between.
type Session struct {
	email     string
	token     string
	expiresAt time.Time
}

// New creates a session for email. When token is a JWT its exp claim becomes
// the session expiry; signatures are not verified client-side.
func New(email, token string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, core.NewValidationError("email", "required")
	}
	s := &Session{email: email, token: token}
	if exp, ok := tokenExpiry(token); ok {
		s.expiresAt = exp
	}
	return s, nil
}

func tokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Email identifies the user to the history store.
func (s *Session) Email() string { return s.email }

// Token is the bearer token, possibly empty.
func (s *Session) Token() string { return s.token }


// ExpiresAt is zero when the token carries no expiry.
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Expired reports whether the token's expiry has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && !now.Before(s.expiresAt)
}

// Active reports whether s can authorize requests.
func Active(s *Session) bool {
	return s != nil && !s.Expired(time.Now())
}

type contextKey struct{}

// NewContext returns a context carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session carried by ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
