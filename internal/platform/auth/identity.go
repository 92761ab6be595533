package auth

import (
	"context"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UID   string
	Email string
	Admin bool

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token, nil for admin sessions.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// CanActFor reports whether the identity may read or create orders owned by userID.
func (i *Identity) CanActFor(userID string) bool {
	if i == nil {
		return false
	}
	return i.Admin || i.UID == userID
}

type contextKey struct{}

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// IdentityFromContext returns the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
