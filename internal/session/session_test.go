package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-hailing/internal/apperrors"
)

func TestRoundTrip(t *testing.T) {
	d := NewDecoder("secret")
	tok, err := d.Issue(Session{ActorID: "d1", Email: "d1@example.com", Role: RoleDriver}, time.Hour)
	require.NoError(t, err)

	s, err := d.FromToken("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "d1", s.ActorID)
	assert.Equal(t, "d1@example.com", s.Email)
	assert.True(t, s.IsDriver())
}

func TestUnknownRoleIsRider(t *testing.T) {
	d := NewDecoder("secret")
	tok, err := d.Issue(Session{ActorID: "u1", Role: "admin"}, time.Hour)
	require.NoError(t, err)
	s, err := d.FromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleRider, s.Role)
}

func TestRejectsBadTokens(t *testing.T) {
	d := NewDecoder("secret")

	_, err := d.FromToken("")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	other, _ := NewDecoder("other").Issue(Session{ActorID: "u1"}, time.Hour)
	_, err = d.FromToken(other)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	expired, _ := d.Issue(Session{ActorID: "u1"}, -time.Minute)
	_, err = d.FromToken(expired)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	noSub, _ := d.Issue(Session{}, time.Hour)
	_, err = d.FromToken(noSub)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithSession(context.Background(), &Session{ActorID: "u1"})
	s, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", s.ActorID)
}
