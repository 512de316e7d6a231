package player

import (
	"context"
	"time"
)

const defaultClockTick = 250 * time.Millisecond

// Clock is a leaf player with no backend: a fixed-duration timeline
// advanced by the wall clock, scaled by the playback rate. It is the
// delay child of the sequential-offset combinator and doubles as a
// silent placeholder track.
type Clock struct {
	*base

	tickEvery time.Duration

	// anchor of the running segment; position is recomputed from it on
	// every tick so the clock never accumulates tick jitter. anchorRate
	// is the rate the segment runs at: a rate change closes the old
	// segment first, so earlier wall time is never rescaled.
	anchorWall time.Time
	anchorPos  int64
	anchorRate float64

	// stopTick is non-nil while the ticker goroutine runs. The goroutine
	// keeps its own copy and bails out when the field no longer matches,
	// so a stale tick scheduled across a pause/seek cannot fire.
	stopTick chan struct{}
}

var _ Player = (*Clock)(nil)

// ClockOption configures a Clock.
type ClockOption func(*Clock)

// WithClockTick overrides the tick interval (default 250 ms).
func WithClockTick(d time.Duration) ClockOption {
	return func(c *Clock) {
		if d > 0 {
			c.tickEvery = d
		}
	}
}

// NewClock creates a wall-clock player with the given duration in
// milliseconds.
func NewClock(eng *Engine, durationMS int64, opts ...ClockOption) *Clock {
	c := &Clock{
		base:      newBase(eng, "clock"),
		tickEvery: defaultClockTick,
	}
	if durationMS > 0 {
		c.duration = durationMS
	}
	for _, opt := range opts {
		opt(c)
	}
	c.addCleanup(func() {
		c.eng.mu.Lock()
		c.haltTick()
		c.eng.mu.Unlock()
	})
	c.bind(c, c)
	return c
}

func (c *Clock) init(ctx context.Context) error { return nil }

func (c *Clock) applyReady(ctx context.Context) error {
	c.haltTick()
	return nil
}

func (c *Clock) applyPlay(ctx context.Context) error {
	c.startTick()
	return nil
}

func (c *Clock) applyPause(ctx context.Context) error {
	c.haltTick()
	return nil
}

func (c *Clock) applyStop(ctx context.Context) error {
	c.haltTick()
	return nil
}

func (c *Clock) applySeek(ctx context.Context, ms int64) error {
	c.anchorPos = ms
	c.anchorWall = time.Now()
	return nil
}

func (c *Clock) applyRate(ctx context.Context, rate float64) error {
	// Settle the running segment at its previous rate before the new
	// rate takes effect; only wall time from here on is scaled by it.
	if c.stopTick != nil {
		c.anchorPos = c.positionNow()
		c.anchorWall = time.Now()
	}
	c.anchorRate = rate
	return nil
}

// positionNow extrapolates the position from the running anchor.
func (c *Clock) positionNow() int64 {
	elapsed := time.Since(c.anchorWall)
	return c.anchorPos + int64(float64(elapsed.Milliseconds())*c.anchorRate)
}

// startTick anchors at the current position and spawns the ticker
// goroutine. Engine lock held.
func (c *Clock) startTick() {
	c.haltTick()
	c.anchorPos = c.position
	c.anchorWall = time.Now()
	c.anchorRate = c.rate

	stop := make(chan struct{})
	c.stopTick = stop

	go func() {
		ticker := time.NewTicker(c.tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.eng.mu.Lock()
				if c.stopTick != stop {
					c.eng.mu.Unlock()
					return
				}
				c.tick()
				c.eng.mu.Unlock()
			}
		}
	}()
}

// haltTick cancels the ticker goroutine if running. Engine lock held.
func (c *Clock) haltTick() {
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
}

// tick advances the position; reaching the duration ends the clock.
// Engine lock held.
func (c *Clock) tick() {
	pos := c.positionNow()
	if c.duration > 0 && pos >= c.duration {
		// stop() writes position = duration and halts the ticker via
		// applyStop.
		_ = c.self.stop(context.Background())
		return
	}
	c.setPosition(pos)
}
