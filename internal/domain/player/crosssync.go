package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultDriftInterval  = 2 * time.Second
	defaultDriftThreshold = int64(1000)
)

// CrossSync combines exactly two players (leaves or combinators) into
// one, bidirectionally propagating status, mirroring time and duration
// from whichever child has the larger duration, and periodically
// correcting clock drift while both children play. It exclusively owns
// its children: closing the combinator closes both.
//
// The combinator's own status never transitions through direct calls;
// operations fan out to the children, and the externally visible status
// is derived from the children's status reactions.
type CrossSync struct {
	*base
	nopCommands

	a, b Player

	driftInterval  time.Duration
	driftThreshold int64
	driftMisses    int
	stopDrift      chan struct{}
}

var _ Player = (*CrossSync)(nil)

// CrossSyncOption configures a CrossSync combinator.
type CrossSyncOption func(*CrossSync)

// WithDriftCheck overrides the drift-correction interval and threshold
// (defaults 2000 ms / 1000 ms).
func WithDriftCheck(interval time.Duration, thresholdMS int64) CrossSyncOption {
	return func(c *CrossSync) {
		if interval > 0 {
			c.driftInterval = interval
		}
		if thresholdMS > 0 {
			c.driftThreshold = thresholdMS
		}
	}
}

// NewCrossSync combines a and b under one synchronized player. Both
// children must belong to the same engine as the combinator.
func NewCrossSync(eng *Engine, a, b Player, opts ...CrossSyncOption) *CrossSync {
	if a.core().eng != eng || b.core().eng != eng {
		panic("player: cross-sync children must share the combinator's engine")
	}
	c := &CrossSync{
		base:           newBase(eng, "crosssync"),
		a:              a,
		b:              b,
		driftInterval:  defaultDriftInterval,
		driftThreshold: defaultDriftThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.addCleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	c.addCleanup(a.Subscribe(func(e Event) { c.onChildEvent(e, a, b) }))
	c.addCleanup(b.Subscribe(func(e Event) { c.onChildEvent(e, b, a) }))
	c.addCleanup(func() {
		c.eng.mu.Lock()
		c.stopDriftCheck()
		c.eng.mu.Unlock()
	})

	c.bind(c, c)
	return c
}

// init waits for both children, then adopts the longer child's
// observable state.
func (c *CrossSync) init(ctx context.Context) error {
	for _, child := range []Player{c.a, c.b} {
		cb := child.core()
		select {
		case <-cb.initDone:
			if cb.initErr != nil {
				return fmt.Errorf("child %s: %w", cb.id, cb.initErr)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.eng.mu.Lock()
	c.refreshMirror()
	c.setRateValue(c.longer().core().rate)
	c.eng.mu.Unlock()
	return nil
}

// --- operations: pure fan-out to both children ---

func (c *CrossSync) ready(ctx context.Context) error {
	return errors.Join(c.a.ready(ctx), c.b.ready(ctx))
}

func (c *CrossSync) play(ctx context.Context) error {
	return errors.Join(c.a.play(ctx), c.b.play(ctx))
}

func (c *CrossSync) pause(ctx context.Context) error {
	return errors.Join(c.a.pause(ctx), c.b.pause(ctx))
}

func (c *CrossSync) stop(ctx context.Context) error {
	return errors.Join(c.a.stop(ctx), c.b.stop(ctx))
}

// seek fans out, then resumes play on the pair if either child was
// playing beforehand.
func (c *CrossSync) seek(ctx context.Context, ms int64) error {
	wasPlaying := c.a.core().status.IsActive() || c.b.core().status.IsActive()
	err := errors.Join(c.a.seek(ctx, ms), c.b.seek(ctx, ms))
	if wasPlaying {
		err = errors.Join(err, c.play(ctx))
	}
	return err
}

func (c *CrossSync) setRate(ctx context.Context, rate float64) error {
	return errors.Join(c.a.setRate(ctx, rate), c.b.setRate(ctx, rate))
}

func (c *CrossSync) isReadyNow() bool {
	return c.initStatus == InitReady && c.a.isReadyNow() && c.b.isReadyNow()
}

// --- child reactions (engine lock held) ---

func (c *CrossSync) onChildEvent(e Event, emitter, receptor Player) {
	switch e.Kind {
	case EventStatus:
		c.onChildStatus(emitter, receptor)
	case EventTime, EventDuration:
		c.refreshMirror()
	case EventRate:
		c.setRateValue(emitter.core().rate)
	}
}

// onChildStatus runs the two-phase status reaction: first push the
// emitter's new status onto the receptor, then derive the combinator's
// own status from the pair. Pushing may itself re-enter this reaction
// with the roles swapped; change detection bounds the recursion.
func (c *CrossSync) onChildStatus(emitter, receptor Player) {
	ctx := context.Background()
	es := emitter.core().status

	switch es {
	case StatusPause:
		if receptor.core().status.IsActive() {
			_ = receptor.pause(ctx)
		}
	case StatusBuffering:
		if receptor.core().status == StatusPlaying {
			_ = receptor.ready(ctx)
		}
	case StatusPlaying:
		switch receptor.core().status {
		case StatusBuffering:
			// Rendezvous: do not race ahead of a buffering peer.
			_ = emitter.ready(ctx)
		case StatusReady:
			rd := receptor.core().duration
			if rd == 0 || emitter.core().position < rd {
				_ = receptor.play(ctx)
			}
		}
	}

	c.deriveStatus(emitter, receptor)

	if c.a.core().status == StatusPlaying && c.b.core().status == StatusPlaying {
		c.startDriftCheck()
	} else {
		c.stopDriftCheck()
	}
}

// deriveStatus recomputes the combinator's externally visible status
// from the emitter's (possibly re-read) status and the receptor's.
func (c *CrossSync) deriveStatus(emitter, receptor Player) {
	es, rs := emitter.core().status, receptor.core().status
	switch es {
	case StatusReady:
		if rs == StatusReady || rs == StatusEnded {
			c.forceStatus(StatusReady)
		}
	case StatusPause:
		if rs != StatusPlaying {
			c.forceStatus(StatusPause)
		}
	case StatusBuffering:
		if rs != StatusPause {
			c.forceStatus(StatusBuffering)
		}
	case StatusPlaying:
		if rs == StatusPlaying || rs == StatusEnded {
			c.forceStatus(StatusPlaying)
		}
	case StatusEnded:
		c.forceStatus(rs)
	}
}

// longer returns the child with the larger duration (ties go to the
// first child). Engine lock held.
func (c *CrossSync) longer() Player {
	if c.b.core().duration > c.a.core().duration {
		return c.b
	}
	return c.a
}

// refreshMirror mirrors time and duration from the longer child.
// Engine lock held.
func (c *CrossSync) refreshMirror() {
	lb := c.longer().core()
	c.setDuration(lb.duration)
	c.setPosition(lb.position)
}

// --- drift correction ---

// startDriftCheck begins the periodic drift check if not already
// running. Engine lock held.
func (c *CrossSync) startDriftCheck() {
	if c.stopDrift != nil {
		return
	}
	c.driftMisses = 0
	stop := make(chan struct{})
	c.stopDrift = stop

	go func() {
		ticker := time.NewTicker(c.driftInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.eng.mu.Lock()
				if c.stopDrift != stop {
					c.eng.mu.Unlock()
					return
				}
				c.driftTick()
				c.eng.mu.Unlock()
			}
		}
	}()
}

// stopDriftCheck cancels the drift check. Engine lock held.
func (c *CrossSync) stopDriftCheck() {
	if c.stopDrift != nil {
		close(c.stopDrift)
		c.stopDrift = nil
	}
	c.driftMisses = 0
}

// driftTick compares the children's positions; a divergence beyond the
// threshold on two consecutive ticks seeks the lagging child to the
// leading child's time. Engine lock held.
func (c *CrossSync) driftTick() {
	if c.status != StatusPlaying {
		c.driftMisses = 0
		return
	}
	diff := c.a.core().position - c.b.core().position
	abs := diff
	if abs < 0 {
		abs = -abs
	}
	if abs <= c.driftThreshold {
		c.driftMisses = 0
		return
	}
	c.driftMisses++
	if c.driftMisses < 2 {
		return
	}
	c.driftMisses = 0

	lead, lag := c.a, c.b
	if diff < 0 {
		lead, lag = c.b, c.a
	}
	target := lead.core().position
	log.Debug().
		Str("player", c.id).
		Str("lagging", lag.core().id).
		Int64("diff_ms", abs).
		Int64("target_ms", target).
		Msg("Correcting child clock drift")
	_ = lag.seek(context.Background(), target)
}
