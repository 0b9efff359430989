package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per caller, evicting idle ones.
type clientLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *cache.Cache
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if perSecond <= 0 || burst <= 0 {
		return nil
	}
	return &clientLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: cache.New(10*time.Minute, 20*time.Minute),
	}
}

func (l *clientLimiter) allow(key string) bool {
	if v, ok := l.limiters.Get(key); ok {
		l.limiters.SetDefault(key, v)
		return v.(*rate.Limiter).Allow()
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	// Add fails if a concurrent request created the bucket first.
	if err := l.limiters.Add(key, limiter, cache.DefaultExpiration); err != nil {
		if v, ok := l.limiters.Get(key); ok {
			return v.(*rate.Limiter).Allow()
		}
	}
	return limiter.Allow()
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if id, ok := IdentityFrom(r.Context()); ok {
		return "user:" + id.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
