package wellnessid

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles repeated attempts keyed by an arbitrary string,
// typically a login handle or client address.
type RateLimiter interface {
	Allow(key string) bool
}

// KeyedLimiter is a token-bucket limiter per key with idle-key eviction.
type KeyedLimiter struct {
	// Rate and Burst configure each key's bucket.
	Rate  rate.Limit
	Burst int

	// IdleTTL evicts buckets untouched for this long. Defaults to 10 minutes.
	IdleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	lastGC  time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewLoginLimiter returns the default credential-login limiter: 5 attempts
// burst, refilling one every 10 seconds.
func NewLoginLimiter() *KeyedLimiter {
	return &KeyedLimiter{Rate: rate.Every(10 * time.Second), Burst: 5}
}

func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.buckets == nil {
		k.buckets = map[string]*bucket{}
	}
	ttl := k.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	now := time.Now()
	if now.Sub(k.lastGC) > ttl {
		for key, b := range k.buckets {
			if now.Sub(b.seen) > ttl {
				delete(k.buckets, key)
			}
		}
		k.lastGC = now
	}

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(k.Rate, k.Burst)}
		k.buckets[key] = b
	}
	b.seen = now
	return b.limiter.Allow()
}
