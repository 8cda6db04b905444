package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

var (
	errNoCredentials = errors.New("no bearer credentials")
	errNotBearer     = errors.New("authorization is not a bearer token")
	errNoProject     = errors.New("token resolved to no project")
	errNilValidator  = errors.New("token validator is nil")
)

// TokenValidator resolves a bearer token to the project it grants access to.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

type AuthOption func(*authenticator)

// WithOnAuthFailure registers a callback invoked on every rejected request.
func WithOnAuthFailure(fn func()) AuthOption {
	return func(a *authenticator) { a.onFailure = fn }
}

// WithRateLimiter throttles repeated authentication failures per client IP.
func WithRateLimiter(rl *RateLimiter) AuthOption {
	return func(a *authenticator) { a.limiter = rl }
}

type authenticator struct {
	validator TokenValidator
	onFailure func()
	limiter   *RateLimiter
}

func newAuthenticator(validator TokenValidator, opts []AuthOption) *authenticator {
	a := &authenticator{validator: validator}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type credentials struct {
	projectID string
	keyID     string
}

// authenticate tries each Authorization value in turn. Values that are not
// bearer tokens or that the validator rejects are skipped; a token that
// validates but names no project ends the search.
func (a *authenticator) authenticate(ctx context.Context, values []string) (credentials, error) {
	if a.validator == nil {
		return credentials{}, errNilValidator
	}
	err := errNoCredentials
	for _, value := range values {
		token, parseErr := bearerToken(value)
		if parseErr != nil {
			err = parseErr
			continue
		}
		projectID, validateErr := a.validator.ValidateToken(ctx, token)
		if validateErr != nil {
			err = validateErr
			continue
		}
		if strings.TrimSpace(projectID) == "" {
			return credentials{}, errNoProject
		}
		keyID, _, _ := ParseAPIKey(token)
		return credentials{projectID: projectID, keyID: keyID}, nil
	}
	return credentials{}, err
}

// admit counts a failure from ip and reports whether the caller may retry.
func (a *authenticator) admit(ip string) bool {
	if a.onFailure != nil {
		a.onFailure()
	}
	if a.limiter == nil || ip == "" {
		return true
	}
	return a.limiter.Take(ip)
}

func (c credentials) apply(ctx context.Context) context.Context {
	ctx = enrichLogger(NewContextWithProjectID(ctx, c.projectID), c.projectID)
	if c.keyID != "" {
		ctx = NewContextWithAPIKeyID(ctx, c.keyID)
	}
	return ctx
}

// HTTPBearerAuthMiddleware enforces bearer-token auth and stores the resolved
// project ID in the request context.
func HTTPBearerAuthMiddleware(validator TokenValidator, opts ...AuthOption) func(http.Handler) http.Handler {
	a := newAuthenticator(validator, opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, err := a.authenticate(r.Context(), r.Header.Values("Authorization"))
			if err == nil {
				next.ServeHTTP(w, r.WithContext(creds.apply(r.Context())))
				return
			}
			if !a.admit(ExtractIP(r.RemoteAddr)) {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		})
	}
}

func (a *authenticator) grpcContext(ctx context.Context) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	creds, err := a.authenticate(ctx, md.Get("authorization"))
	if err == nil {
		return creds.apply(ctx), nil
	}
	if !a.admit(extractGRPCPeerIP(ctx)) {
		return nil, status.Error(codes.ResourceExhausted, "too many failed auth attempts")
	}
	return nil, status.Error(codes.Unauthenticated, "unauthorized")
}

func UnaryBearerAuthInterceptor(validator TokenValidator, opts ...AuthOption) grpc.UnaryServerInterceptor {
	a := newAuthenticator(validator, opts)
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		authCtx, err := a.grpcContext(ctx)
		if err != nil {
			return nil, err
		}
		return handler(authCtx, req)
	}
}

func StreamBearerAuthInterceptor(validator TokenValidator, opts ...AuthOption) grpc.StreamServerInterceptor {
	a := newAuthenticator(validator, opts)
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		authCtx, err := a.grpcContext(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: authCtx})
	}
}

// wrappedServerStream overrides the stream context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

type contextKey string

const (
	projectIDKey contextKey = "project_id"
	apiKeyIDKey  contextKey = "api_key_id"
)

// ProjectIDFromContext retrieves the authenticated project ID.
func ProjectIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(projectIDKey).(string)
	return id, ok
}

func NewContextWithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDKey, projectID)
}

// APIKeyIDFromContext retrieves the id half of the caller's API key.
func APIKeyIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(apiKeyIDKey).(string)
	return id, ok
}

func NewContextWithAPIKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, apiKeyIDKey, keyID)
}

// bearerToken extracts the token from "Bearer <token>". The scheme is
// case-insensitive.
func bearerToken(value string) (string, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", errNotBearer
	}
	return fields[1], nil
}

func extractGRPCPeerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return ExtractIP(p.Addr.String())
}
