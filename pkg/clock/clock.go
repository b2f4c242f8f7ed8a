package clock

import "time"

// Clock provides monotonic time since process start
// time.Since uses the monotonic reading under the hood, so elapsed
// values always move forward even if the wall clock is adjusted
type Clock struct {
	start time.Time
}

func New() *Clock {
	return &Clock{start: time.Now()}
}

// duration since process start
func (c *Clock) Elapsed() time.Duration {
	return time.Since(c.start)
}

// duration since an earlier Elapsed reading
func (c *Clock) Since(mark time.Duration) time.Duration {
	return c.Elapsed() - mark
}
