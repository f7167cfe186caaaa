package impl

import (
	"time"

	"go.uber.org/atomic"
)

// logicalClock hands out strictly increasing unix millisecond timestamps.
// When the wall clock stalls or goes backwards the previous reading plus one
// is returned instead, so FIFO ordering by CreatedAt has no ties.
type logicalClock struct {
	now  func() time.Time
	last atomic.Int64
}

func newLogicalClock(now func() time.Time) *logicalClock {
	return &logicalClock{now: now}
}

// Next returns the next timestamp.
func (c *logicalClock) Next() int64 {
	for {
		last := c.last.Load()
		next := c.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Observe moves the clock forward to at least ts. It's used when loading a
// table written by a previous process.
func (c *logicalClock) Observe(ts int64) {
	for {
		last := c.last.Load()
		if ts <= last || c.last.CompareAndSwap(last, ts) {
			return
		}
	}
}
