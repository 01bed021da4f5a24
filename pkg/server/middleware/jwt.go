package middleware

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AssertionHeader carries the edge access layer's signed identity assertion
const AssertionHeader = "Cf-Access-Jwt-Assertion"

// AccessVerifier validates access assertions signed by the edge layer
type AccessVerifier struct {
	key      *rsa.PublicKey
	Issuer   string
	Audience string
}

// NewAccessVerifier creates a verifier from a PEM encoded RSA public key
func NewAccessVerifier(pemBytes []byte) (*AccessVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid access public key: %w", err)
	}
	return &AccessVerifier{key: key}, nil
}

// LoadAccessVerifier reads the public key at path
func LoadAccessVerifier(path string) (*AccessVerifier, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read access public key: %w", err)
	}
	return NewAccessVerifier(pemBytes)
}

// Verify checks the assertion's signature and expiry and returns its email claim
func (v *AccessVerifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("access assertion is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("access assertion rejected: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims format")
	}
	email, _ := claims["email"].(string)
	if strings.TrimSpace(email) == "" {
		return "", errors.New("access assertion has no email claim")
	}
	return email, nil
}
