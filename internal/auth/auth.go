// Package auth defines the port protecting the control-plane HTTP routes
// (/controller/lock, /controller/clear). The WebSocket signaling path never
// uses this — clients there are bearer-less, keyed only by the ids they
// self-assign through /client-id.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned by Authenticator when the request carries
// no usable credential, or the credential fails verification.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Authenticator verifies a bearer token and returns the client id it names.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (clientID string, err error)
}
