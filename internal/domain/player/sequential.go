package player

import (
	"context"
	"fmt"
	"time"
)

// SequentialOffset delays a wrapped player behind an internally owned
// Clock: while the clock (duration = offset) runs, the combinator's
// time advances through the delay and visible is false; once the delay
// expires the wrapped player takes over and the externally visible time
// continues seamlessly at offset. Closing the combinator closes both
// children.
type SequentialOffset struct {
	*base
	nopCommands

	delay   *Clock
	wrapped Player

	// activeDelay marks the delay as the active child; the wrapped
	// player is active otherwise. Exactly one child is active at any
	// time and visible == !activeDelay.
	activeDelay bool
}

var _ Player = (*SequentialOffset)(nil)

// SequentialOption configures a SequentialOffset combinator.
type SequentialOption func(*SequentialOffset)

// WithDelayTick overrides the internal delay clock's tick interval.
func WithDelayTick(d time.Duration) SequentialOption {
	return func(s *SequentialOffset) {
		if d > 0 {
			s.delay.tickEvery = d
		}
	}
}

// NewSequentialOffset wraps a player behind a start delay of offsetMS
// milliseconds. The wrapped player must belong to the same engine.
func NewSequentialOffset(eng *Engine, wrapped Player, offsetMS int64, opts ...SequentialOption) *SequentialOffset {
	if wrapped.core().eng != eng {
		panic("player: sequential-offset child must share the combinator's engine")
	}
	if offsetMS < 0 {
		offsetMS = 0
	}
	s := &SequentialOffset{
		base:        newBase(eng, "sequential"),
		delay:       NewClock(eng, offsetMS),
		wrapped:     wrapped,
		activeDelay: offsetMS > 0,
	}
	s.visible = !s.activeDelay
	for _, opt := range opts {
		opt(s)
	}

	s.addCleanup(func() {
		_ = s.delay.Close()
		_ = wrapped.Close()
	})
	s.addCleanup(s.delay.Subscribe(func(e Event) { s.onChildEvent(e, s.delay) }))
	s.addCleanup(wrapped.Subscribe(func(e Event) { s.onChildEvent(e, wrapped) }))

	s.bind(s, s)
	return s
}

// init waits for both children, then derives the initial duration and
// position.
func (s *SequentialOffset) init(ctx context.Context) error {
	for _, child := range []Player{s.delay, s.wrapped} {
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
	s.eng.mu.Lock()
	s.refreshDuration()
	s.refreshPosition()
	s.eng.mu.Unlock()
	return nil
}

// Offset returns the configured delay duration in milliseconds.
func (s *SequentialOffset) Offset() int64 {
	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()
	return s.delay.core().duration
}

// SetOffset reconfigures the delay duration and re-evaluates which
// child should be active at the current external time.
func (s *SequentialOffset) SetOffset(ctx context.Context, offsetMS int64) error {
	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()

	if offsetMS < 0 {
		offsetMS = 0
	}
	pos := s.position
	s.delay.core().setDuration(offsetMS)
	return s.seek(ctx, pos)
}

// --- operations ---

func (s *SequentialOffset) ready(ctx context.Context) error {
	return s.active().ready(ctx)
}

func (s *SequentialOffset) play(ctx context.Context) error {
	return s.active().play(ctx)
}

func (s *SequentialOffset) pause(ctx context.Context) error {
	return s.active().pause(ctx)
}

// stop stops both children unconditionally and leaves the wrapped
// player active, so a later seek starts from the natural end state.
func (s *SequentialOffset) stop(ctx context.Context) error {
	// Deactivate the delay first; its Ended transition must not run the
	// expiry handoff.
	s.activeDelay = false
	s.setVisible(true)
	err := s.delay.stop(ctx)
	if werr := s.wrapped.stop(ctx); werr != nil && err == nil {
		err = werr
	}
	s.forceStatus(StatusEnded)
	if s.duration > 0 {
		s.setPosition(s.duration)
	}
	return err
}

// seek routes the target to the delay (ms < offset) or the wrapped
// player (ms ≥ offset, shifted by offset), switching the active child
// as needed. A switch while playing resumes play on the new child.
func (s *SequentialOffset) seek(ctx context.Context, ms int64) error {
	if ms < 0 {
		ms = 0
	}
	offset := s.delay.core().duration
	wasPlaying := s.status.IsActive()

	if ms >= offset {
		switched := s.activeDelay
		if switched {
			s.activeDelay = false
			s.setVisible(true)
			_ = s.delay.stop(ctx)
		}
		err := s.wrapped.seek(ctx, ms-offset)
		if switched && wasPlaying {
			if perr := s.wrapped.play(ctx); perr != nil && err == nil {
				err = perr
			}
		}
		s.refreshPosition()
		return err
	}

	switched := !s.activeDelay
	if switched {
		s.activeDelay = true
		s.setVisible(false)
		_ = s.wrapped.ready(ctx)
		_ = s.wrapped.seek(ctx, 0)
	}
	err := s.delay.seek(ctx, ms)
	if switched && wasPlaying {
		if perr := s.delay.play(ctx); perr != nil && err == nil {
			err = perr
		}
	}
	s.refreshPosition()
	return err
}

// setRate applies to both children so the inactive one is already at
// the right rate when it becomes active.
func (s *SequentialOffset) setRate(ctx context.Context, rate float64) error {
	err := s.delay.setRate(ctx, rate)
	if werr := s.wrapped.setRate(ctx, rate); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (s *SequentialOffset) isReadyNow() bool {
	return s.initStatus == InitReady && s.delay.isReadyNow() && s.wrapped.isReadyNow()
}

// --- child reactions (engine lock held) ---

func (s *SequentialOffset) active() Player {
	if s.activeDelay {
		return s.delay
	}
	return s.wrapped
}

func (s *SequentialOffset) onChildEvent(e Event, emitter Player) {
	switch e.Kind {
	case EventStatus:
		s.onChildStatus(emitter)
	case EventTime:
		if emitter.core() == s.active().core() {
			s.refreshPosition()
		}
	case EventDuration:
		s.refreshDuration()
		s.refreshPosition()
	case EventRate:
		s.setRateValue(emitter.core().rate)
	}
}

// onChildStatus hands over to the wrapped player when the active delay
// expires, and otherwise mirrors the active child's status.
func (s *SequentialOffset) onChildStatus(emitter Player) {
	ctx := context.Background()

	if emitter.core() == s.delay.core() && s.activeDelay && s.delay.core().status == StatusEnded {
		wasPlaying := s.status == StatusPlaying
		s.activeDelay = false
		s.setVisible(true)
		if wasPlaying {
			_ = s.wrapped.seek(ctx, 0)
			_ = s.wrapped.play(ctx)
		}
		s.refreshPosition()
		return
	}

	if emitter.core() != s.active().core() {
		return
	}
	s.forceStatus(emitter.core().status)
}

// refreshPosition derives the continuous external time from the active
// child. Engine lock held.
func (s *SequentialOffset) refreshPosition() {
	if s.activeDelay {
		s.setPosition(s.delay.core().position)
		return
	}
	s.setPosition(s.wrapped.core().position + s.delay.core().duration)
}

// refreshDuration derives duration = offset + wrapped duration. Engine
// lock held.
func (s *SequentialOffset) refreshDuration() {
	s.setDuration(s.delay.core().duration + s.wrapped.core().duration)
}
