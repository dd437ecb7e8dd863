package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-hailing/internal/apperrors"
)

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// Session is the caller identity handed to the services. Its fields are
// treated as opaque strings past this package.
type Session struct {
	ActorID string
	Email   string
	Role    Role
}

func (s *Session) IsDriver() bool { return s != nil && s.Role == RoleDriver }

// Claims is the token payload issued by the identity provider.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Decoder turns HS256 bearer tokens into sessions.
type Decoder struct {
	secret []byte
}

func NewDecoder(secret string) *Decoder {
	return &Decoder{secret: []byte(secret)}
}

func (d *Decoder) FromToken(raw string) (*Session, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, fmt.Errorf("missing token: %w", apperrors.ErrUnauthorized)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return d.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", errors.Join(apperrors.ErrUnauthorized, err))
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token without subject: %w", apperrors.ErrUnauthorized)
	}
	role := Role(strings.ToLower(claims.Role))
	if role != RoleDriver {
		role = RoleRider
	}
	return &Session{ActorID: claims.Subject, Email: claims.Email, Role: role}, nil
}

// Issue signs a token for s. Used by local tooling and tests.
func (d *Decoder) Issue(s Session, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: s.Email,
		Role:  string(s.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ActorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
}

type ctxKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
