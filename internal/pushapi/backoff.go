package pushapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// headerRatelimitReset is the unix second at which the request quota refills.
const headerRatelimitReset = "X-Ratelimit-Reset"

type backoff struct {
	retries int
	step    time.Duration
	ceiling time.Duration
	now     func() time.Time
}

func defaultBackoff() backoff {
	return backoff{
		retries: 3,
		step:    250 * time.Millisecond,
		ceiling: 5 * time.Second,
		now:     time.Now,
	}
}

// delay is the pause before retry n, counted from 1. A throttled response
// waits for the quota reset, otherwise the step doubles per retry. Both are
// capped at the ceiling.
func (b backoff) delay(n int, throttled http.Header) time.Duration {
	if wait, ok := b.untilReset(throttled); ok {
		return min(wait, b.ceiling)
	}
	wait := b.step
	for i := 1; i < n && wait < b.ceiling; i++ {
		wait *= 2
	}
	return min(wait, b.ceiling)
}

func (b backoff) untilReset(h http.Header) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get(headerRatelimitReset))
	if raw == "" {
		return 0, false
	}
	reset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return max(time.Unix(reset, 0).Sub(b.now()), 0), true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
