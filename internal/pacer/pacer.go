package pacer

import (
	"context"
	"sync"
	"time"
)

// MinInterval is the smallest delay the catalog service tolerates between
// page requests.
const MinInterval = 500 * time.Millisecond

// Pacer spaces out requests. Wait blocks until the next request may go out
// or ctx is cancelled.
type Pacer interface {
	Wait(ctx context.Context) error
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Interval enforces a fixed minimum gap between consecutive Wait returns.
// The first Wait never blocks. State survives across runs, so a restarted
// pipeline sharing the same Interval still honours the gap.
type Interval struct {
	every time.Duration
	clk   func() time.Time
	sleep SleepFunc

	mu   sync.Mutex
	last time.Time
}

// NewInterval builds an Interval; nil clk/sleep fall back to the wall clock.
func NewInterval(every time.Duration, clk func() time.Time, sleep SleepFunc) *Interval {
	if clk == nil {
		clk = time.Now
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Interval{every: every, clk: clk, sleep: sleep}
}

func (p *Interval) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.last.IsZero() {
		if d := p.last.Add(p.every).Sub(p.clk()); d > 0 {
			if err := p.sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	p.last = p.clk()
	return nil
}

// Sleep is a context-aware time.Sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
