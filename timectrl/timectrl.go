package timectrl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Pacer decides how long the scheduler waits between ticks.
type Pacer interface {
	// Wait blocks until the next tick may start or ctx is done.
	Wait(ctx context.Context) error
}

// Mode describes how the TickClock paces simulation ticks.
type Mode int

const (
	// RealTime waits one Tick of wall-clock time between ticks.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run.
	Accelerated
)

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "accelerated":
		return Accelerated, nil
	case "realtime", "real-time":
		return RealTime, nil
	default:
		return 0, fmt.Errorf("unknown clock mode %q", s)
	}
}

// TickClock maps discrete ticks onto simulation time and paces them.
type TickClock struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	ticks uint64
	last  time.Time
	now   func() time.Time
}

// NewTickClock constructs a clock. A non-positive tick is treated as one
// second.
func NewTickClock(start time.Time, tick time.Duration, mode Mode) *TickClock {
	if tick <= 0 {
		tick = time.Second
	}
	return &TickClock{
		StartTime: start,
		Tick:      tick,
		Mode:      mode,
		now:       time.Now,
	}
}

// Wait implements Pacer. In real-time mode it sleeps until one Tick has
// passed since the previous Wait returned.
func (c *TickClock) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	mode := c.Mode
	last := c.last
	c.mu.Unlock()

	if mode == RealTime && !last.IsZero() {
		if d := c.Tick - c.now().Sub(last); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	c.mu.Lock()
	c.ticks++
	c.last = c.now()
	c.mu.Unlock()
	return nil
}

// Ticks returns the number of ticks paced so far.
func (c *TickClock) Ticks() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ticks
}

// Now returns the simulation time of the latest paced tick.
func (c *TickClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.StartTime.Add(time.Duration(c.ticks) * c.Tick)
}
