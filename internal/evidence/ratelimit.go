package evidence

import (
	"context"
	"sync"
	"time"
)

// Limiter grants permits for outbound upstream requests.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// FixedWindowLimiter enforces at most limit permits per fixed window, shared
// by every fetcher in the process. Acquire blocks until the current window
// has headroom; it never rejects except when the caller's context expires.
type FixedWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration

	windowStart time.Time
	granted     int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFixedWindowLimiter builds a limiter granting limit permits per window.
func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until a permit is available in the current window.
func (l *FixedWindowLimiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.granted = 0
		}
		if l.granted < l.limit {
			l.granted++
			l.mu.Unlock()
			return nil
		}
		wait := l.window - now.Sub(l.windowStart)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
