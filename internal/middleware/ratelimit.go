package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultMaxAttemptsPerMinute applies when NewRateLimiter gets a
	// non-positive rate.
	DefaultMaxAttemptsPerMinute = 10

	// DefaultMaxTrackedKeys bounds memory when many distinct IPs fail auth.
	DefaultMaxTrackedKeys = 10000

	sweepInterval = time.Minute
	idleAfter     = 5 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key, where a key is a client IP or
// a project ID. Buckets refill at perMinute tokens a minute and hold at most
// perMinute tokens.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perMinute int
	maxKeys   int
	now       func() time.Time
	stop      context.CancelFunc
}

// NewRateLimiter starts a limiter whose idle buckets are swept until ctx is
// done or Stop is called.
func NewRateLimiter(ctx context.Context, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultMaxAttemptsPerMinute
	}
	ctx, cancel := context.WithCancel(ctx)
	rl := &RateLimiter{
		buckets:   make(map[string]*bucket),
		perMinute: perMinute,
		maxKeys:   DefaultMaxTrackedKeys,
		now:       time.Now,
		stop:      cancel,
	}
	go rl.sweepLoop(ctx)
	return rl
}

// Allow reports whether key has a token left, without spending it.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		return true
	}
	now := rl.now()
	b.lastSeen = now
	return b.limiter.TokensAt(now) >= 1
}

// Take spends a token for key and reports false when none was left.
func (rl *RateLimiter) Take(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= rl.maxKeys {
			rl.evictLocked()
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60), rl.perMinute)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RetryAfter is how long an emptied bucket takes to earn one token back.
func (rl *RateLimiter) RetryAfter() time.Duration {
	return time.Duration(math.Ceil(60/float64(rl.perMinute))) * time.Second
}

func (rl *RateLimiter) Stop() {
	rl.stop()
}

func (rl *RateLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops buckets idle for longer than idleAfter.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idleAfter)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// evictLocked drops the least recently seen bucket.
func (rl *RateLimiter) evictLocked() {
	var (
		victim string
		oldest *bucket
	)
	for key, b := range rl.buckets {
		if oldest == nil || b.lastSeen.Before(oldest.lastSeen) {
			victim, oldest = key, b
		}
	}
	delete(rl.buckets, victim)
}

// rateKey prefers the authenticated project and falls back to fallbackIP.
func rateKey(ctx context.Context, fallbackIP string) string {
	if projectID, ok := ProjectIDFromContext(ctx); ok {
		return projectID
	}
	return fallbackIP
}

// HTTPProjectRateLimit limits requests per project. It runs inside
// HTTPBearerAuthMiddleware.
func HTTPProjectRateLimit(rl *RateLimiter, onLimited func()) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(rl.RetryAfter() / time.Second))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Take(rateKey(r.Context(), ExtractIP(r.RemoteAddr))) {
				if onLimited != nil {
					onLimited()
				}
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func UnaryProjectRateLimitInterceptor(rl *RateLimiter, onLimited func()) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !rl.Take(rateKey(ctx, extractGRPCPeerIP(ctx))) {
			if onLimited != nil {
				onLimited()
			}
			return nil, status.Errorf(codes.ResourceExhausted, "trigger rate limit exceeded, retry in %s", rl.RetryAfter())
		}
		return handler(ctx, req)
	}
}

// ExtractIP strips the port from a RemoteAddr string.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
