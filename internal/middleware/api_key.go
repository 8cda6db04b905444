// Package middleware provides the bearer-token auth, request logging and rate
// limiting layers shared by the surveyz HTTP and gRPC transports.
//
// SDK API keys have the form "<key id>.<secret>"; only a bcrypt hash of the
// secret is stored.
package middleware

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyHashCost = bcrypt.DefaultCost

var ErrMalformedAPIKey = errors.New("malformed api key")

// HashAPIKey returns a salted bcrypt hash for an API key secret.
func HashAPIKey(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), apiKeyHashCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// APIKeyMatchesHash compares an API key secret against a stored bcrypt hash.
func APIKeyMatchesHash(expectedHash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(secret)) == nil
}

// FormatAPIKey joins a key id and secret into the bearer token handed to SDKs.
func FormatAPIKey(keyID, secret string) string {
	return keyID + "." + secret
}

// ParseAPIKey splits a bearer token into key id and secret.
func ParseAPIKey(token string) (keyID, secret string, err error) {
	keyID, secret, found := strings.Cut(token, ".")
	if !found || strings.TrimSpace(keyID) == "" || secret == "" {
		return "", "", ErrMalformedAPIKey
	}
	return keyID, secret, nil
}
