package player

import (
	"context"
	"testing"
	"time"
)

func newSequential(t *testing.T, wrappedDur, offset int64, opts ...SequentialOption) (*SequentialOffset, *fakeLeaf) {
	t.Helper()
	eng := NewEngine()
	w := newFakeLeaf(eng, wrappedDur)
	s := NewSequentialOffset(eng, w, offset, opts...)
	t.Cleanup(func() { _ = s.Close() })
	waitFor(t, "combinator init", s.IsReady)
	return s, w
}

func TestSequentialDelayTickOptionIgnoresNonPositive(t *testing.T) {
	s, _ := newSequential(t, 10000, 3000, WithDelayTick(0))

	if got := s.delay.tickEvery; got != defaultClockTick {
		t.Errorf("expected the default delay tick to survive a zero option, got %v", got)
	}
}

func TestSequentialDurationIsOffsetPlusWrapped(t *testing.T) {
	s, _ := newSequential(t, 10000, 3000)

	if got := s.Duration(); got != 13000 {
		t.Errorf("expected 13000, got %d", got)
	}
	if got := s.Offset(); got != 3000 {
		t.Errorf("expected offset 3000, got %d", got)
	}
}

func TestSequentialStartsHiddenBehindDelay(t *testing.T) {
	s, _ := newSequential(t, 10000, 3000)

	if s.Visible() {
		t.Error("expected combinator hidden while delay is active")
	}
}

func TestSequentialZeroOffsetStartsVisible(t *testing.T) {
	s, _ := newSequential(t, 10000, 0)

	if !s.Visible() {
		t.Error("expected wrapped player active with zero offset")
	}
}

func TestSequentialSeekWithinDelay(t *testing.T) {
	s, _ := newSequential(t, 10000, 3000)

	if err := s.Seek(context.Background(), 1000); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := s.Position(); got != 1000 {
		t.Errorf("expected position 1000, got %d", got)
	}
	if s.Visible() {
		t.Error("expected combinator hidden while seeking within the delay")
	}
}

func TestSequentialSeekPastOffsetActivatesWrapped(t *testing.T) {
	s, w := newSequential(t, 10000, 3000)
	ctx := context.Background()

	_ = s.Seek(ctx, 1000)
	if err := s.Seek(ctx, 5000); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := w.Position(); got != 2000 {
		t.Errorf("wrapped: expected 2000, got %d", got)
	}
	if got := s.Position(); got != 5000 {
		t.Errorf("combinator: expected continuous time 5000, got %d", got)
	}
	if !s.Visible() {
		t.Error("expected combinator visible once the wrapped player is active")
	}
}

func TestSequentialSeekBackIntoDelayRewindsWrapped(t *testing.T) {
	s, w := newSequential(t, 10000, 3000)
	ctx := context.Background()

	_ = s.Seek(ctx, 5000)
	if err := s.Seek(ctx, 1500); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := w.Position(); got != 0 {
		t.Errorf("wrapped should be rewound to 0, got %d", got)
	}
	if got := w.Status(); got != StatusReady {
		t.Errorf("wrapped should be readied, got %s", got)
	}
	if got := s.Position(); got != 1500 {
		t.Errorf("combinator: expected 1500, got %d", got)
	}
	if s.Visible() {
		t.Error("expected combinator hidden again")
	}
}

func TestSequentialSwitchWhilePlayingResumesNewChild(t *testing.T) {
	s, w := newSequential(t, 10000, 3000)
	ctx := context.Background()

	if err := s.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := s.Seek(ctx, 5000); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := w.Status(); got != StatusPlaying {
		t.Errorf("wrapped should resume playing after the switch, got %s", got)
	}
	if got := s.Status(); got != StatusPlaying {
		t.Errorf("combinator should stay playing, got %s", got)
	}
}

func TestSequentialDelayExpiryHandsOverToWrapped(t *testing.T) {
	s, w := newSequential(t, 10000, 80, WithDelayTick(10*time.Millisecond))

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitFor(t, "handoff", s.Visible)

	if got := w.Status(); got != StatusPlaying {
		t.Errorf("wrapped should be started by the handoff, got %s", got)
	}
	if got := s.Status(); got != StatusPlaying {
		t.Errorf("combinator should stay playing across the handoff, got %s", got)
	}
	if got := s.Position(); got < 80 {
		t.Errorf("external time must continue at the offset, got %d", got)
	}
}

func TestSequentialPausedDelayExpiryDoesNotStartWrapped(t *testing.T) {
	s, w := newSequential(t, 10000, 60, WithDelayTick(10*time.Millisecond))
	ctx := context.Background()

	_ = s.Play(ctx)
	time.Sleep(20 * time.Millisecond)
	_ = s.Pause(ctx)

	// Drive the paused delay over its end via seek; the handoff must not
	// start the wrapped player.
	_ = s.Seek(ctx, 60)
	waitFor(t, "wrapped active", s.Visible)

	if got := w.Status(); got == StatusPlaying {
		t.Error("wrapped must not start when the combinator was not playing")
	}
}

func TestSequentialStopEndsBothChildren(t *testing.T) {
	s, w := newSequential(t, 10000, 3000)
	ctx := context.Background()

	_ = s.Play(ctx)
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := s.Status(); got != StatusEnded {
		t.Errorf("expected ended, got %s", got)
	}
	if got := w.Status(); got != StatusEnded {
		t.Errorf("wrapped: expected ended, got %s", got)
	}
	if got := s.Position(); got != 13000 {
		t.Errorf("expected position pinned to duration, got %d", got)
	}
	if !s.Visible() {
		t.Error("expected wrapped player active after stop")
	}
}

func TestSequentialRateAppliesToBothChildren(t *testing.T) {
	s, w := newSequential(t, 10000, 3000)

	if err := s.SetRate(context.Background(), 2.0); err != nil {
		t.Fatalf("setRate: %v", err)
	}
	if got := w.Rate(); got != 2.0 {
		t.Errorf("wrapped: expected 2.0, got %v", got)
	}
	s.eng.mu.Lock()
	delayRate := s.delay.core().rate
	s.eng.mu.Unlock()
	if delayRate != 2.0 {
		t.Errorf("delay: expected 2.0, got %v", delayRate)
	}
}

func TestSequentialSetOffsetReevaluatesActiveChild(t *testing.T) {
	s, w := newSequential(t, 10000, 3000)
	ctx := context.Background()

	_ = s.Seek(ctx, 1000)
	if err := s.SetOffset(ctx, 500); err != nil {
		t.Fatalf("setOffset: %v", err)
	}
	if !s.Visible() {
		t.Error("expected wrapped player active after shrinking the offset")
	}
	if got := w.Position(); got != 500 {
		t.Errorf("wrapped: expected 500, got %d", got)
	}
	if got := s.Position(); got != 1000 {
		t.Errorf("combinator: expected continuous 1000, got %d", got)
	}
	if got := s.Duration(); got != 10500 {
		t.Errorf("expected duration 10500, got %d", got)
	}
}

func TestSequentialSeekPastTotalDurationEnds(t *testing.T) {
	s, w := newSequential(t, 10000, 3000)

	if err := s.Seek(context.Background(), 99999); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := w.Status(); got != StatusEnded {
		t.Errorf("wrapped: expected ended, got %s", got)
	}
	if got := s.Status(); got != StatusEnded {
		t.Errorf("combinator: expected ended, got %s", got)
	}
	if got := s.Position(); got != 13000 {
		t.Errorf("expected position 13000, got %d", got)
	}
}
