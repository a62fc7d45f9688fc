package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 3 * time.Minute
	limiterSweep = time.Minute
)

// userLimiter keeps one token bucket per caller.
type userLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	visitors  map[uuid.UUID]*visitor
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newUserLimiter(perSecond float64, burst int) *userLimiter {
	return &userLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[uuid.UUID]*visitor),
		now:      time.Now,
	}
}

func (l *userLimiter) get(id uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) > limiterSweep {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > limiterIdle {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}
	v, ok := l.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Middleware rejects callers that exhausted their bucket. It must run after
// requireCaller.
func (l *userLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := callerFromContext(r.Context())
		if c == nil {
			next.ServeHTTP(w, r)
			return
		}
		if !l.get(c.UserID).AllowN(l.now(), 1) {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many actions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfter is the whole seconds until one token refills.
func (l *userLimiter) retryAfter() int {
	if l.limit <= 0 {
		return 1
	}
	secs := int(math.Ceil(1 / float64(l.limit)))
	if secs < 1 {
		secs = 1
	}
	return secs
}
