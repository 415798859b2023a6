package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopValidator_AlwaysAccepts(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/invoke/greeter/hello", nil)
	assert.NoError(t, NoopValidator{}.Validate(req))
}

func signToken(t *testing.T, key []byte, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWTValidator_AcceptsValidBearerToken(t *testing.T) {
	key := []byte("secret")
	v := NewJWTValidator(key)
	req := httptest.NewRequest(http.MethodPost, "/invoke/greeter/hello", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, false))

	assert.NoError(t, v.Validate(req))
}

func TestJWTValidator_RejectsMissingHeader(t *testing.T) {
	v := NewJWTValidator([]byte("secret"))
	req := httptest.NewRequest(http.MethodPost, "/invoke/greeter/hello", nil)

	require.Error(t, v.Validate(req))
}

func TestJWTValidator_RejectsNonBearerScheme(t *testing.T) {
	v := NewJWTValidator([]byte("secret"))
	req := httptest.NewRequest(http.MethodPost, "/invoke/greeter/hello", nil)
	req.Header.Set("Authorization", "Basic abcdef")

	require.Error(t, v.Validate(req))
}

func TestJWTValidator_RejectsBadSignature(t *testing.T) {
	v := NewJWTValidator([]byte("secret"))
	req := httptest.NewRequest(http.MethodPost, "/invoke/greeter/hello", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("wrong-key"), false))

	require.Error(t, v.Validate(req))
}

func TestJWTValidator_RejectsExpiredToken(t *testing.T) {
	key := []byte("secret")
	v := NewJWTValidator(key)
	req := httptest.NewRequest(http.MethodPost, "/invoke/greeter/hello", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, true))

	require.Error(t, v.Validate(req))
}
