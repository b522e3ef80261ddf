// Package platform holds the engine's external collaborators: the
// Publisher that creates posts on the remote social platform, and the
// TokenSource that supplies valid credentials for those calls.
package platform

import (
	"context"
	"encoding/json"
)

// Publisher creates a post on the remote platform from an opaque
// payload. On success it returns the platform's reference for the
// created post. Failures are classified with errors.ErrTransient or
// errors.ErrPermanent; the dispatcher's retry policy keys off that
// classification, never off platform specifics.
type Publisher interface {
	Publish(ctx context.Context, payload json.RawMessage, token string) (resultRef string, err error)
}

// TokenSource supplies a currently-valid access token on demand,
// refreshing transparently before expiry. Failures wrap errors.ErrAuth.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
