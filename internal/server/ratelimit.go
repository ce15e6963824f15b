package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleExpiry = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TriggerLimiter bounds how fast a single client may trigger builds. Each
// remote address gets its own token bucket; idle buckets are swept lazily.
type TriggerLimiter struct {
	rate   rate.Limit
	burst  int
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

func NewTriggerLimiter(perSecond float64, burst int, logger *slog.Logger) *TriggerLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return &TriggerLimiter{
		rate:    rate.Limit(perSecond),
		burst:   burst,
		logger:  logger.With("component", "trigger-limiter"),
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

func (l *TriggerLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleExpiry {
		for key, c := range l.clients {
			if now.Sub(c.lastSeen) > limiterIdleExpiry {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[client] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (l *TriggerLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !l.Allow(client) {
			l.logger.Warn("trigger rate limit exceeded", "client", client)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "trigger rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
