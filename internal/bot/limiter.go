package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter ограничивает частоту сообщений от каждого пользователя.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*limiterEntry
	limit    rate.Limit
	burst    int
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newUserLimiter(perSecond float64, burst int) *userLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limiters: make(map[int64]*limiterEntry),
		limit:    limit,
		burst:    burst,
	}
}

// Allow сообщает, можно ли обработать сообщение пользователя в момент now.
func (l *userLimiter) Allow(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.limiters[userID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// Sweep удаляет лимитеры пользователей, молчавших дольше idle.
func (l *userLimiter) Sweep(now time.Time, idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, e := range l.limiters {
		if now.Sub(e.lastSeen) > idle {
			delete(l.limiters, id)
			n++
		}
	}
	return n
}

func (l *userLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
