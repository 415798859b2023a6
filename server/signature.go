package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureValidator authenticates an incoming /invoke request before
// it reaches the invocation core. A non-nil error from Validate
// becomes a 401 response, per spec.md §6.
type SignatureValidator interface {
	Validate(req *http.Request) error
}

// NoopValidator accepts every request. Suitable for local development
// and tests, never for a deployment reachable by an untrusted network.
type NoopValidator struct{}

func (NoopValidator) Validate(*http.Request) error { return nil }

// JWTValidator checks a bearer token in the Authorization header
// against a fixed signing key, mirroring the JWT middleware in
// cmd/agentflow/middleware.go.
type JWTValidator struct {
	SigningKey []byte
}

func NewJWTValidator(signingKey []byte) *JWTValidator {
	return &JWTValidator{SigningKey: signingKey}
}

func (v *JWTValidator) Validate(req *http.Request) error {
	header := req.Header.Get("Authorization")
	if header == "" {
		return fmt.Errorf("missing Authorization header")
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return fmt.Errorf("Authorization header must use the Bearer scheme")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.SigningKey, nil
	})
	if err != nil || !parsed.Valid {
		return fmt.Errorf("invalid signature: %w", err)
	}
	return nil
}
