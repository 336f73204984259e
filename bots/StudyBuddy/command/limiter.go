package command

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter holds a rate limiter per user
type userLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	every    time.Duration
	burst    int
}

func newUserLimiter(perMinute float64, burst int) *userLimiter {
	return &userLimiter{
		limiters: make(map[int64]*rate.Limiter),
		every:    time.Duration(float64(time.Minute) / perMinute),
		burst:    burst,
	}
}

// allow reports whether the user may run one more command now
func (l *userLimiter) allow(usr int64) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[usr]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.every), l.burst)
		l.limiters[usr] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
