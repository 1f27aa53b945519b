package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

type visitors struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const (
	visitorSweepEvery = 5 * time.Minute
	visitorIdleAfter  = 10 * time.Minute
)

// prune drops limiters idle for longer than idle.
func (v *visitors) prune(now time.Time, idle time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for k, e := range v.entries {
		if now.Sub(e.last) > idle {
			delete(v.entries, k)
		}
	}
}

// sweep prunes idle limiters every interval until ctx is done.
func (v *visitors) sweep(ctx context.Context, every, idle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			v.prune(now, idle)
		}
	}
}

// RateLimit applies a per-IP token bucket limiter. Run chi's RealIP first so
// proxied clients are keyed by their own address. The idle-visitor sweeper
// runs until ctx is done; pass the server's lifetime context.
func RateLimit(ctx context.Context, rps float64, burst int) func(http.Handler) http.Handler {
	v := &visitors{entries: map[string]*limiterEntry{}}
	go v.sweep(ctx, visitorSweepEvery, visitorIdleAfter)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			v.mu.Lock()
			le, ok := v.entries[ip]
			if !ok {
				le = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				v.entries[ip] = le
			}
			le.last = time.Now()
			allow := le.limiter.Allow()
			v.mu.Unlock()
			if !allow {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
