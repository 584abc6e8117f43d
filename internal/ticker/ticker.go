// Package ticker emits the fixed-rate pulse that drives batched frame
// broadcasts.
package ticker

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lakeshorelabs/groundstation/internal/bus"
)

// DefaultInterval is the broadcast pulse rate when none is configured.
const DefaultInterval = time.Second

// Ticker publishes a tick on its bus at a fixed interval. The clock is
// injectable so tests drive time explicitly.
type Ticker struct {
	clock    clockwork.Clock
	interval time.Duration
	out      *bus.Bus[time.Time]
}

// New creates a ticker with the given interval, defaulting to
// DefaultInterval when the interval is not positive.
func New(clock clockwork.Clock, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		clock:    clock,
		interval: interval,
		out:      bus.New[time.Time](),
	}
}

// Bus returns the bus ticks are published on.
func (t *Ticker) Bus() *bus.Bus[time.Time] {
	return t.out
}

// Interval returns the configured pulse rate.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Start runs the tick loop until ctx is canceled.
func (t *Ticker) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		tick := t.clock.NewTicker(t.interval)
		defer tick.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-tick.Chan():
				t.out.Publish(now)
			}
		}
	}()
}
