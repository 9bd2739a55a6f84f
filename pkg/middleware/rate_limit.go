package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "bonzai/pkg/errors"
	httputil "bonzai/pkg/http"
	"bonzai/pkg/logger"

	"golang.org/x/time/rate"
)

type KeyExtractor func(r *http.Request) string

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter keeps one token bucket per client key. A client may burst
// up to limit requests and then refills at limit per window.
type ClientRateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientLimiter
	limit        rate.Limit
	burst        int
	window       time.Duration
	keyExtractor KeyExtractor
	log          *logger.Logger
	stopCh       chan struct{}
	once         sync.Once
}

func NewClientRateLimiter(limit int, window time.Duration, extractor KeyExtractor, log *logger.Logger) *ClientRateLimiter {
	if extractor == nil {
		extractor = ClientIPExtractor
	}
	limiter := &ClientRateLimiter{
		clients:      make(map[string]*clientLimiter),
		limit:        rate.Limit(float64(limit) / window.Seconds()),
		burst:        limit,
		window:       window,
		keyExtractor: extractor,
		log:          log,
		stopCh:       make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

func (rl *ClientRateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			idle := max(rl.window, time.Minute)
			rl.mu.Lock()
			for key, client := range rl.clients {
				if time.Since(client.lastSeen) > idle {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *ClientRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// Reserve reports whether key may proceed now and, if not, how long until
// its next token.
func (rl *ClientRateLimiter) Reserve(key string) (bool, time.Duration) {
	if key == "" {
		return true, 0
	}

	now := time.Now()
	rl.mu.Lock()
	client, ok := rl.clients[key]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = client
	}
	client.lastSeen = now
	rl.mu.Unlock()

	reservation := client.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, rl.window
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *ClientRateLimiter) Allow(key string) bool {
	ok, _ := rl.Reserve(key)
	return ok
}

func RateLimit(limiter *ClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiter.keyExtractor(r)

			if ok, retryAfter := limiter.Reserve(key); !ok {
				limiter.log.FromContext(r.Context()).Warn("Rate limit exceeded",
					"client", key,
					"path", r.URL.Path,
				)
				seconds := int((retryAfter + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
				_ = httputil.WriteError(w, apperrors.RateLimited("Rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPExtractor prefers the first X-Forwarded-For hop, then RemoteAddr.
func ClientIPExtractor(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
