package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_GenerateAndValidate(t *testing.T) {
	s, err := NewService(Config{SecretKey: "a-secret-that-is-long-enough-32x", Duration: time.Hour})
	require.NoError(t, err)

	tok, err := s.GenerateToken("controller-abc123")
	require.NoError(t, err)

	claims, err := s.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "controller-abc123", claims.ClientID)
}

func TestJWTService_ExpiredAndInvalid(t *testing.T) {
	s, err := NewService(Config{SecretKey: "a-secret-that-is-long-enough-32x", Duration: time.Hour})
	require.NoError(t, err)
	// NewService rejects a non-positive Duration, so the negative lifetime
	// that yields an already-expired token is set after construction.
	s.config.Duration = -time.Second

	tok, err := s.GenerateToken("controller-abc123")
	require.NoError(t, err)

	claims, err := s.ValidateToken(tok)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrExpiredToken)

	claims, err = s.ValidateToken("not-a-token")
	assert.Nil(t, claims)
	assert.Error(t, err)
}

func TestNewService_RejectsWeakConfig(t *testing.T) {
	_, err := NewService(Config{SecretKey: "", Duration: time.Hour})
	assert.ErrorIs(t, err, ErrEmptySecretKey)

	_, err = NewService(Config{SecretKey: "short", Duration: time.Hour})
	assert.ErrorIs(t, err, ErrWeakSecretKey)

	_, err = NewService(Config{SecretKey: "a-secret-that-is-long-enough-32x", Duration: 0})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}
