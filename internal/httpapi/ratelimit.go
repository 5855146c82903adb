package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// callerLimiter applies a token bucket per authenticated account and evicts
// buckets that have been idle for idleTTL.
type callerLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byID  map[uuid.UUID]*bucket
	calls uint64
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newCallerLimiter returns nil when rps or burst is not positive, which
// disables limiting.
func newCallerLimiter(rps float64, burst int) *callerLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &callerLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		byID:    make(map[uuid.UUID]*bucket),
	}
}

func (l *callerLimiter) allow(id uuid.UUID, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byID[id]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.byID[id] = b
	}
	b.lastSeen = now
	allowed := b.lim.AllowN(now, 1)

	l.calls++
	if l.calls%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byID {
			if v.lastSeen.Before(cutoff) {
				delete(l.byID, k)
			}
		}
	}
	return allowed
}

// RateLimit must run after Authenticate.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	l := newCallerLimiter(rps, burst)
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := callerID(r.Context())
			if ok && !l.allow(id, time.Now()) {
				w.Header().Set("Retry-After", "1")
				writeErr(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
