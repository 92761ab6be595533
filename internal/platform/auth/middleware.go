package auth

import (
	"context"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/quickprint/api/internal/platform/httpx"
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator resolves bearer tokens into identities.
type Authenticator struct {
	verifier        TokenVerifier
	admin           *AdminTokens
	requireCustomer bool
}

// Option customises the Authenticator.
type Option func(*Authenticator)

// WithAdminTokens enables admin session tokens.
func WithAdminTokens(admin *AdminTokens) Option {
	return func(a *Authenticator) {
		a.admin = admin
	}
}

// WithRequiredCustomerAuth rejects customer requests without a valid token.
func WithRequiredCustomerAuth(required bool) Option {
	return func(a *Authenticator) {
		a.requireCustomer = required
	}
}

// NewAuthenticator builds an Authenticator. verifier may be nil when Firebase is not configured.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// AdminEnabled reports whether admin routes are protected.
func (a *Authenticator) AdminEnabled() bool {
	return a != nil && a.admin != nil
}

// Admin exposes the admin token issuer.
func (a *Authenticator) Admin() *AdminTokens {
	if a == nil {
		return nil
	}
	return a.admin
}

// Customer attaches an identity when a bearer token is present. Missing tokens are rejected only when
// customer auth is required; invalid tokens are always rejected.
func (a *Authenticator) Customer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				if a != nil && a.requireCustomer {
					httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			identity, err := a.identify(ctx, token)
			if err != nil {
				httpx.WriteError(ctx, w, verificationError(err))
				return
			}
			if identity == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

// RequireAdmin guards shop-management routes. It is a pass-through when no admin password is configured.
func (a *Authenticator) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.AdminEnabled() {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok || a.admin.Verify(token) != nil {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "admin session required", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, &Identity{UID: adminSubject, Admin: true})))
		})
	}
}

func (a *Authenticator) identify(ctx context.Context, token string) (*Identity, error) {
	if a == nil {
		return nil, nil
	}
	if a.admin != nil && a.admin.Verify(token) == nil {
		return &Identity{UID: adminSubject, Admin: true}, nil
	}
	if a.verifier == nil {
		if a.requireCustomer {
			return nil, ErrInvalidAdminToken
		}
		return nil, nil
	}
	decoded, err := a.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, err
	}
	email, _ := decoded.Claims["email"].(string)
	return &Identity{UID: decoded.UID, Email: strings.TrimSpace(email), token: decoded}, nil
}

func verificationError(err error) httpx.Error {
	if firebaseauth.IsIDTokenExpired(err) {
		return httpx.NewError("token_expired", "firebase id token expired", http.StatusUnauthorized)
	}
	return httpx.NewError("invalid_token", "bearer token verification failed", http.StatusUnauthorized)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
