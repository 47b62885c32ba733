package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Actions limited per user.
const (
	ActionSendMessage = "send_message"
	ActionCreateChat  = "create_chat"
	ActionCreateOffer = "create_offer"
	ActionTyping      = "typing"
)

// Policy is a token bucket: Burst tokens, refilled one every Every.
type Policy struct {
	Every time.Duration
	Burst int
}

// DefaultPolicies mirror the product limits for chat actions.
var DefaultPolicies = map[string]Policy{
	// 10 messages per minute
	ActionSendMessage: {Every: 6 * time.Second, Burst: 10},
	// 5 conversations per hour
	ActionCreateChat: {Every: 12 * time.Minute, Burst: 5},
	// 10 offers per 10 minutes
	ActionCreateOffer: {Every: time.Minute, Burst: 10},
	// 30 typing events per minute
	ActionTyping: {Every: 2 * time.Second, Burst: 30},
}

var defaultPolicy = Policy{Every: 3 * time.Second, Burst: 20}

type bucket struct {
	limiter  *rate.Limiter
	burst    int
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user and action and forgets buckets
// that have been idle longer than the idle TTL.
type RateLimiter struct {
	policies map[string]Policy
	idleTTL  time.Duration
	now      func() time.Time

	mutex   sync.Mutex
	buckets map[string]*bucket
	hits    uint64
}

func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithPolicies(DefaultPolicies, time.Hour)
}

func NewRateLimiterWithPolicies(policies map[string]Policy, idleTTL time.Duration) *RateLimiter {
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	return &RateLimiter{
		policies: policies,
		idleTTL:  idleTTL,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

func (rl *RateLimiter) policy(action string) Policy {
	if p, ok := rl.policies[action]; ok {
		return p
	}
	return defaultPolicy
}

// Allow consumes one token for the user action. When the bucket is empty it
// reports how long until the next token.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	if rl == nil {
		return true, 0
	}
	key := userID + ":" + action
	now := rl.now()

	rl.mutex.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		p := rl.policy(action)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(p.Every), p.Burst), burst: p.Burst}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.hits++
	if rl.hits%512 == 0 {
		rl.evictLocked(now)
	}
	rl.mutex.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// GetStatus returns the tokens left and the bucket size for a user action.
func (rl *RateLimiter) GetStatus(userID, action string) (tokens int, maxTokens int) {
	rl.mutex.Lock()
	b, ok := rl.buckets[userID+":"+action]
	rl.mutex.Unlock()
	if !ok {
		return 0, 0
	}
	return int(b.limiter.TokensAt(rl.now())), b.burst
}

// Cleanup removes buckets that have not been used within the idle TTL.
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	rl.evictLocked(rl.now())
}

func (rl *RateLimiter) evictLocked(now time.Time) {
	cutoff := now.Add(-rl.idleTTL)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Size returns the number of live buckets.
func (rl *RateLimiter) Size() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.buckets)
}

// StartCleanupRoutine runs Cleanup every interval until ctx ends.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}
