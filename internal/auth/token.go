package auth

import (
	"errors"
	"fmt"

	pkgerrors "codebattle/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	UserID   string
	Username string
}

// Verifier parses and validates access tokens. Issuance belongs to the
// identity service; this side only checks the shared HMAC signature.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	Username  string `json:"username"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Verify validates the raw token and returns the caller's identity.
func (v *Verifier) Verify(raw string) (*Identity, error) {
	if raw == "" || len(v.secret) == 0 {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "" && claims.TokenType != "access" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.Subject == "" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	username := claims.Username
	if username == "" {
		username = claims.Subject
	}
	return &Identity{UserID: claims.Subject, Username: username}, nil
}
