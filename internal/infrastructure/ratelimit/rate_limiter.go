package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSend               = "send_message"
	ActionTyping             = "typing"
	ActionCreateConversation = "create_conversation"
	ActionHTTP               = "http"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting for different participants and actions
type RateLimiter struct {
	buckets        map[string]*entry
	mutex          sync.Mutex
	sendsPerMinute int
}

// NewRateLimiter creates a new rate limiter. sendsPerMinute <= 0 uses 60.
func NewRateLimiter(sendsPerMinute int) *RateLimiter {
	if sendsPerMinute <= 0 {
		sendsPerMinute = 60
	}
	return &RateLimiter{
		buckets:        make(map[string]*entry),
		sendsPerMinute: sendsPerMinute,
	}
}

func (rl *RateLimiter) newLimiter(action string) *rate.Limiter {
	switch action {
	case ActionSend:
		return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.sendsPerMinute)), rl.sendsPerMinute/4+1)
	case ActionTyping:
		// Clients renew typing well under the 1s expiry; allow ~4/s.
		return rate.NewLimiter(rate.Every(250*time.Millisecond), 8)
	case ActionCreateConversation:
		return rate.NewLimiter(rate.Every(6*time.Second), 10)
	case ActionHTTP:
		return rate.NewLimiter(rate.Every(time.Second/5), 60)
	default:
		return rate.NewLimiter(rate.Every(time.Second), 20)
	}
}

// Allow checks if a participant action is allowed and consumes a token if so
func (rl *RateLimiter) Allow(participantID, action string) bool {
	key := participantID + ":" + action

	rl.mutex.Lock()
	e, ok := rl.buckets[key]
	if !ok {
		e = &entry{limiter: rl.newLimiter(action)}
		rl.buckets[key] = e
	}
	e.lastSeen = time.Now()
	rl.mutex.Unlock()

	return e.limiter.Allow()
}

// Cleanup removes buckets idle for longer than maxIdle
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	for key, e := range rl.buckets {
		if now.Sub(e.lastSeen) > maxIdle {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine runs Cleanup every 30 minutes until stop is closed
func (rl *RateLimiter) StartCleanupRoutine(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			case <-stop:
				return
			}
		}
	}()
}
