package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/auth"
)

// JWTTestHelper provides utilities for JWT testing
type JWTTestHelper struct {
	Secret []byte
}

// NewJWTTestHelper creates a new JWT test helper with a default test secret
func NewJWTTestHelper() *JWTTestHelper {
	return &JWTTestHelper{
		Secret: []byte("test-secret-for-unit-tests"),
	}
}

// NewJWTTestHelperWithSecret creates a new JWT test helper with a custom secret
func NewJWTTestHelperWithSecret(secret []byte) *JWTTestHelper {
	return &JWTTestHelper{
		Secret: secret,
	}
}

// Issuer returns an issuer signing with the helper's secret
func (h *JWTTestHelper) Issuer(ttl time.Duration) (*auth.Issuer, error) {
	return auth.NewIssuer(h.Secret, ttl)
}

// GenerateValidJWT generates a valid client token for testing
func (h *JWTTestHelper) GenerateValidJWT(clientID string) (string, error) {
	issuer, err := h.Issuer(time.Hour)
	if err != nil {
		return "", err
	}
	token, _, err := issuer.Issue(clientID)
	return token, err
}

// GenerateExpiredJWT generates an expired JWT token for testing
func (h *JWTTestHelper) GenerateExpiredJWT(clientID string) (string, error) {
	return h.GenerateJWTWithCustomExpiry(clientID, time.Now().Add(-1*time.Hour))
}

// GenerateJWTWithCustomExpiry generates a JWT with custom expiry time
func (h *JWTTestHelper) GenerateJWTWithCustomExpiry(clientID string, expiresAt time.Time) (string, error) {
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-1 * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.Secret)
}

// GenerateMalformedJWT generates a malformed JWT for testing error scenarios
func (h *JWTTestHelper) GenerateMalformedJWT() string {
	return "invalid.jwt.token.format"
}

// GenerateJWTWithWrongSecret generates a JWT with wrong secret for testing
func (h *JWTTestHelper) GenerateJWTWithWrongSecret(clientID string) (string, error) {
	return NewJWTTestHelperWithSecret([]byte("wrong-secret")).GenerateValidJWT(clientID)
}

// GenerateJWTWithNoneAlgorithm generates a JWT with "none" algorithm (security vulnerability test)
func (h *JWTTestHelper) GenerateJWTWithNoneAlgorithm(clientID string) (string, error) {
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	return token.SignedString(jwt.UnsafeAllowNoneSignatureType)
}
