// Package auth defines the authentication boundary of the gateway. The
// gateway itself is usable without authentication; when an Authenticator is
// supplied, every session endpoint requires a bearer token it accepts.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshals the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer credentials presented on session endpoints.
type Authenticator interface {
	// CheckAuthentication validates tok and returns the principal it
	// represents, or an error wrapping ErrUnauthorized when the token is
	// invalid.
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}
