// Package jwtauth adapts jwt.Service to the auth.Authenticator port.
package jwtauth

import (
	"context"

	"github.com/patchline/relay/internal/auth"
	"github.com/patchline/relay/internal/auth/jwt"
)

// Authenticator wraps a jwt.Service as an auth.Authenticator.
type Authenticator struct {
	service *jwt.Service
}

// New wraps service.
func New(service *jwt.Service) *Authenticator {
	return &Authenticator{service: service}
}

// Authenticate validates token and returns the client id it was issued for.
func (a *Authenticator) Authenticate(_ context.Context, token string) (string, error) {
	claims, err := a.service.ValidateToken(token)
	if err != nil {
		return "", auth.ErrUnauthenticated
	}
	return claims.ClientID, nil
}

var _ auth.Authenticator = (*Authenticator)(nil)
