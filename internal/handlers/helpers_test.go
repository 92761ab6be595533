package handlers

import (
	"context"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"golang.org/x/crypto/bcrypt"

	"github.com/quickprint/api/internal/platform/auth"
)

type stubTokenVerifier struct {
	uid string
}

func (v stubTokenVerifier) VerifyIDToken(context.Context, string) (*firebaseauth.Token, error) {
	return &firebaseauth.Token{UID: v.uid, Claims: map[string]interface{}{}}, nil
}

func newTestAdminTokens(t *testing.T, password string) *auth.AdminTokens {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	admin, err := auth.NewAdminTokens(string(hash), "handler-secret", time.Hour)
	if err != nil {
		t.Fatalf("new admin tokens: %v", err)
	}
	return admin
}
