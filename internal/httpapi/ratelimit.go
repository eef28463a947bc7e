package httpapi

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter, generalized unchanged from the
// teacher's implementation: the algorithm is domain-agnostic.
type RateLimiter struct {
	lastUpdate time.Time
	rate       float64
	burst      int
	tokens     float64
	mu         sync.Mutex
}

// NewRateLimiter builds a limiter allowing rate requests/second with the
// given burst capacity.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{rate: rate, burst: burst, tokens: float64(burst), lastUpdate: time.Now()}
}

// Allow reports whether a request may proceed right now.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastUpdate).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > float64(rl.burst) {
		rl.tokens = float64(rl.burst)
	}
	rl.lastUpdate = now

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// PerClientRateLimiter buckets by client key (remote address), with
// periodic cleanup of idle clients.
type PerClientRateLimiter struct {
	lastCleanup     time.Time
	clients         map[string]*RateLimiter
	rate            float64
	burst           int
	cleanupInterval time.Duration
	maxIdleTime     time.Duration
	mu              sync.Mutex
}

// NewPerClientRateLimiter builds a per-client limiter.
func NewPerClientRateLimiter(rate float64, burst int) *PerClientRateLimiter {
	return &PerClientRateLimiter{
		rate:            rate,
		burst:           burst,
		clients:         make(map[string]*RateLimiter),
		cleanupInterval: 5 * time.Minute,
		maxIdleTime:     10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

func (pcrl *PerClientRateLimiter) getLimiter(key string) *RateLimiter {
	pcrl.mu.Lock()
	defer pcrl.mu.Unlock()

	if time.Since(pcrl.lastCleanup) > pcrl.cleanupInterval {
		pcrl.cleanupLocked()
	}

	limiter, exists := pcrl.clients[key]
	if !exists {
		limiter = NewRateLimiter(pcrl.rate, pcrl.burst)
		pcrl.clients[key] = limiter
	}
	return limiter
}

func (pcrl *PerClientRateLimiter) cleanupLocked() {
	now := time.Now()
	for key, limiter := range pcrl.clients {
		limiter.mu.Lock()
		idle := now.Sub(limiter.lastUpdate) > pcrl.maxIdleTime
		limiter.mu.Unlock()
		if idle {
			delete(pcrl.clients, key)
		}
	}
	pcrl.lastCleanup = now
}

// Allow reports whether clientKey may proceed right now.
func (pcrl *PerClientRateLimiter) Allow(clientKey string) bool {
	return pcrl.getLimiter(clientKey).Allow()
}

// PerClientRateLimitMiddleware applies limiter per remote address,
// preferring X-Real-IP when present (e.g. behind a local reverse proxy).
func PerClientRateLimitMiddleware(limiter *PerClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.RemoteAddr
			if real := r.Header.Get("X-Real-IP"); real != "" {
				clientKey = real
			}
			if !limiter.Allow(clientKey) {
				writeEnvelope(w, http.StatusTooManyRequests, newRateLimitedEnvelope(r))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
