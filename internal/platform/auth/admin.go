package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

const adminSubject = "admin"

var (
	// ErrInvalidCredentials is returned when the admin password does not match.
	ErrInvalidCredentials = errors.New("auth: invalid admin credentials")
	// ErrInvalidAdminToken is returned for malformed, expired or forged admin tokens.
	ErrInvalidAdminToken = errors.New("auth: invalid admin token")
)

// AdminTokens checks the shop password and issues short-lived HS256 session tokens.
type AdminTokens struct {
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	issuer       string
	clock        func() time.Time
}

// AdminOption customises AdminTokens.
type AdminOption func(*AdminTokens)

// WithAdminClock injects the issuance clock.
func WithAdminClock(clock func() time.Time) AdminOption {
	return func(a *AdminTokens) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAdminTokens returns nil when no password hash is configured, which leaves admin routes open.
func NewAdminTokens(passwordHash, secret string, ttl time.Duration, opts ...AdminOption) (*AdminTokens, error) {
	passwordHash = strings.TrimSpace(passwordHash)
	if passwordHash == "" {
		return nil, nil
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: admin jwt secret is required")
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("auth: admin password hash: %w", err)
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	a := &AdminTokens{
		passwordHash: []byte(passwordHash),
		secret:       []byte(secret),
		ttl:          ttl,
		issuer:       "quickprint-api",
		clock:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Login verifies password and returns a signed token with its expiry.
func (a *AdminTokens) Login(password string) (string, time.Time, error) {
	if a == nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := a.clock().UTC()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    a.issuer,
		Subject:   adminSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign admin token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses token and checks signature, issuer, subject and expiry.
func (a *AdminTokens) Verify(token string) error {
	if a == nil {
		return ErrInvalidAdminToken
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return ErrInvalidAdminToken
	}
	if claims.Subject != adminSubject || !claims.VerifyIssuer(a.issuer, true) {
		return ErrInvalidAdminToken
	}
	return nil
}
