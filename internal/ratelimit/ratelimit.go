package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	ratelib "golang.org/x/time/rate"
)

// Limiter manages one token bucket per client key.
type Limiter struct {
	rps   ratelib.Limit
	burst int

	// mu protects clients.
	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	lim      *ratelib.Limiter
	lastSeen time.Time
}

// Config defines the parameters for a token bucket rate limiter.
type Config struct {
	// RequestsPerSecond is the average number of requests per second allowed.
	RequestsPerSecond float64
	// Burst is the maximum number of requests that can exceed the rate limit instantaneously.
	Burst int
}

// NewLimiter creates a Limiter where every key gets its own bucket of the given size.
func NewLimiter(c Config) *Limiter {
	burst := c.Burst
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rps:     ratelib.Limit(c.RequestsPerSecond),
		burst:   burst,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{lim: ratelib.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Prune drops keys not seen for idle. Their buckets would be full again anyway.
func (l *Limiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, k)
			n++
		}
	}
	return n
}

// ClientKey is the remote IP of r, without the port.
func ClientKey(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || ip == "" {
		return r.RemoteAddr
	}
	return ip
}
