package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/matt-riley/surveyz/internal/middleware"
)

var errSecretMismatch = errors.New("api key secret mismatch")

// newHTTPHandler puts the SDK API behind bearer auth and the trigger routes
// behind the per-project rate limit. Health and metrics stay public.
func newHTTPHandler(apiHandler http.Handler, tokenValidator middleware.TokenValidator, triggerLimit func(http.Handler) http.Handler, opts ...middleware.AuthOption) http.Handler {
	auth := middleware.HTTPBearerAuthMiddleware(tokenValidator, opts...)
	triggers := apiHandler
	if triggerLimit != nil {
		triggers = triggerLimit(apiHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", auth(apiHandler))
	mux.Handle("/v1/triggers/", auth(triggers))
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", apiHandler)
	return mux
}

// keyLookup is implemented by the Postgres repository.
type keyLookup interface {
	ValidateAPIKey(ctx context.Context, id string) (keyHash, projectID string, err error)
}

// apiKeyValidator resolves "<id>.<secret>" bearer tokens to a project.
type apiKeyValidator struct {
	keys keyLookup
}

func (v apiKeyValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	keyID, secret, err := middleware.ParseAPIKey(token)
	if err != nil {
		return "", err
	}
	keyHash, projectID, err := v.keys.ValidateAPIKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("api key %s: %w", keyID, err)
	}
	if !middleware.APIKeyMatchesHash(keyHash, secret) {
		return "", fmt.Errorf("api key %s: %w", keyID, errSecretMismatch)
	}
	return projectID, nil
}
