package utils

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

/* USAGE
capacity := 10    // the bucket can hold at most 10 tokens
refillRate := 0.5 // tokens per second added
tb := utils.NewTokenBucket(capacity, refillRate)
err := tb.Wait(ctx, 250*time.Millisecond, "market api")
*/

// TokenBucket rate-limits outbound provider requests
type TokenBucket struct {
	tokens      int
	capacity    int
	refillRate  float64 // Tokens per second
	lastRefill  time.Time
	refillMutex sync.Mutex
	now         func() time.Time
}

func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tokensToAdd := int(elapsed * tb.refillRate)
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}

// Wait returns once a token is available or the context is done.
// If log is not "", a message is logged each time we have to wait
func (tb *TokenBucket) Wait(ctx context.Context, waitInterval time.Duration, log string) error {
	for {
		if tb.Take() {
			return nil
		}
		if log != "" {
			slog.Info("too many requests, slowing down", "source", log)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitInterval):
		}
	}
}

func (tb *TokenBucket) Take() bool {
	tb.refillMutex.Lock()
	defer tb.refillMutex.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}
