package auth

import (
	"testing"
	"time"

	pkgerrors "codebattle/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestVerify(t *testing.T) {
	v := NewVerifier("secret", "codebattle")

	raw := sign(t, "secret", jwt.MapClaims{
		"sub":      "user-1",
		"username": "alice",
		"typ":      "access",
		"iss":      "codebattle",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	identity, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UserID != "user-1" || identity.Username != "alice" {
		t.Fatalf("identity = %+v", identity)
	}
}

func TestVerifyRejections(t *testing.T) {
	v := NewVerifier("secret", "codebattle")
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name string
		raw  string
		want pkgerrors.ErrorCode
	}{
		{"empty", "", pkgerrors.TokenInvalid},
		{"garbage", "not.a.jwt", pkgerrors.TokenInvalid},
		{"wrong secret", sign(t, "other", jwt.MapClaims{"sub": "u", "iss": "codebattle", "exp": future}), pkgerrors.TokenInvalid},
		{"expired", sign(t, "secret", jwt.MapClaims{"sub": "u", "iss": "codebattle", "exp": time.Now().Add(-time.Hour).Unix()}), pkgerrors.TokenExpired},
		{"wrong issuer", sign(t, "secret", jwt.MapClaims{"sub": "u", "iss": "someone", "exp": future}), pkgerrors.TokenInvalid},
		{"missing subject", sign(t, "secret", jwt.MapClaims{"iss": "codebattle", "exp": future}), pkgerrors.TokenInvalid},
		{"refresh token", sign(t, "secret", jwt.MapClaims{"sub": "u", "typ": "refresh", "iss": "codebattle", "exp": future}), pkgerrors.TokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.raw); !pkgerrors.Is(err, tt.want) {
				t.Fatalf("err = %v, want code %d", err, tt.want)
			}
		})
	}
}

func TestVerifyUsernameFallsBackToSubject(t *testing.T) {
	v := NewVerifier("secret", "")
	raw := sign(t, "secret", jwt.MapClaims{
		"sub": "user-2",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	identity, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.Username != "user-2" {
		t.Fatalf("username = %q, want subject fallback", identity.Username)
	}
}
