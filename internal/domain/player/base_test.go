package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeLeaf is a scriptable leaf: the init hook can be gated, command
// hooks record their invocations and fail on demand.
type fakeLeaf struct {
	*base

	initGate chan struct{} // nil: init returns immediately
	initFail error

	mu     sync.Mutex
	calls  []string
	failOn map[string]error
	inits  int
}

var _ Player = (*fakeLeaf)(nil)

func newFakeLeaf(eng *Engine, durationMS int64) *fakeLeaf {
	f := &fakeLeaf{
		base:   newBase(eng, "fake"),
		failOn: map[string]error{},
	}
	f.duration = durationMS
	f.bind(f, f)
	return f
}

// newGatedLeaf creates a leaf whose init blocks until the returned
// channel is closed.
func newGatedLeaf(eng *Engine, durationMS int64, initFail error) (*fakeLeaf, chan struct{}) {
	gate := make(chan struct{})
	f := &fakeLeaf{
		base:     newBase(eng, "fake"),
		initGate: gate,
		initFail: initFail,
		failOn:   map[string]error{},
	}
	f.duration = durationMS
	f.bind(f, f)
	return f, gate
}

func (f *fakeLeaf) init(ctx context.Context) error {
	f.mu.Lock()
	f.inits++
	f.mu.Unlock()
	if f.initGate != nil {
		<-f.initGate
	}
	return f.initFail
}

func (f *fakeLeaf) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.failOn[name]
}

func (f *fakeLeaf) applyReady(ctx context.Context) error { return f.record("ready") }
func (f *fakeLeaf) applyPlay(ctx context.Context) error  { return f.record("play") }
func (f *fakeLeaf) applyPause(ctx context.Context) error { return f.record("pause") }
func (f *fakeLeaf) applyStop(ctx context.Context) error  { return f.record("stop") }

func (f *fakeLeaf) applySeek(ctx context.Context, ms int64) error {
	return f.record("seek")
}

func (f *fakeLeaf) applyRate(ctx context.Context, rate float64) error {
	return f.record("rate")
}

func (f *fakeLeaf) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// injectStatus simulates a reactive backend status change.
func (f *fakeLeaf) injectStatus(s Status) {
	f.eng.mu.Lock()
	f.setStatus(s)
	f.eng.mu.Unlock()
}

// injectTime simulates a backend position report.
func (f *fakeLeaf) injectTime(ms int64) {
	f.eng.mu.Lock()
	f.setPosition(ms)
	f.eng.mu.Unlock()
}

// eventRec collects notifications from a subscription.
type eventRec struct {
	mu    sync.Mutex
	kinds []EventKind
}

func (r *eventRec) add(e Event) {
	r.mu.Lock()
	r.kinds = append(r.kinds, e.Kind)
	r.mu.Unlock()
}

func (r *eventRec) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlayTransitionsToPlayingAndInvokesHook(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 5000)
	defer f.Close()

	if err := f.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := f.Status(); got != StatusPlaying {
		t.Errorf("expected playing, got %s", got)
	}
	calls := f.recorded()
	if len(calls) != 1 || calls[0] != "play" {
		t.Errorf("expected [play], got %v", calls)
	}
}

func TestRedundantTransitionsEmitNothing(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 5000)
	defer f.Close()
	ctx := context.Background()

	waitFor(t, "init", f.IsReady)

	rec := &eventRec{}
	defer f.Subscribe(rec.add)()

	if err := f.Pause(ctx); err != nil { // already pause
		t.Fatalf("pause: %v", err)
	}
	if err := f.Seek(ctx, 0); err != nil { // already at 0
		t.Fatalf("seek: %v", err)
	}
	if err := f.SetRate(ctx, 1.0); err != nil { // already 1.0
		t.Fatalf("setRate: %v", err)
	}

	if got := rec.count(EventStatus) + rec.count(EventTime) + rec.count(EventRate); got != 0 {
		t.Errorf("expected no events for redundant writes, got %v", rec.kinds)
	}
	if got := f.recorded(); len(got) != 0 {
		t.Errorf("expected no hook calls, got %v", got)
	}
}

func TestSeekNegativeClampsToZero(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 5000)
	defer f.Close()
	ctx := context.Background()

	if err := f.Seek(ctx, 2000); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if err := f.Seek(ctx, -50); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := f.Position(); got != 0 {
		t.Errorf("expected position 0, got %d", got)
	}
}

func TestSeekAtOrPastDurationEnds(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 5000)
	defer f.Close()
	ctx := context.Background()

	if err := f.Seek(ctx, 9999); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := f.Status(); got != StatusEnded {
		t.Errorf("expected ended, got %s", got)
	}
	if got := f.Position(); got != 5000 {
		t.Errorf("expected position 5000, got %d", got)
	}
}

func TestSeekWithUnknownDurationDoesNotEnd(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 0)
	defer f.Close()

	if err := f.Seek(context.Background(), 7000); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := f.Status(); got == StatusEnded {
		t.Error("seek with unknown duration must not end playback")
	}
	if got := f.Position(); got != 7000 {
		t.Errorf("expected position 7000, got %d", got)
	}
}

func TestSeekReappliesPriorStatus(t *testing.T) {
	eng := NewEngine()
	ctx := context.Background()

	cases := []struct {
		name    string
		prepare func(f *fakeLeaf)
		want    Status
	}{
		{"pause stays paused", func(f *fakeLeaf) { _ = f.Pause(ctx) }, StatusPause},
		{"playing stays playing", func(f *fakeLeaf) { _ = f.Play(ctx) }, StatusPlaying},
		{"ready returns to ready", func(f *fakeLeaf) { _ = f.Ready(ctx) }, StatusReady},
		{"ended returns to ready", func(f *fakeLeaf) { _ = f.Stop(ctx) }, StatusReady},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeLeaf(eng, 10000)
			defer f.Close()
			tc.prepare(f)
			if err := f.Seek(ctx, 4000); err != nil {
				t.Fatalf("seek: %v", err)
			}
			if got := f.Status(); got != tc.want {
				t.Errorf("expected %s after seek, got %s", tc.want, got)
			}
			if got := f.Position(); got != 4000 {
				t.Errorf("expected position 4000, got %d", got)
			}
		})
	}
}

func TestSeekDuringInitReappliesPreGateStatus(t *testing.T) {
	eng := NewEngine()
	f, gate := newGatedLeaf(eng, 10000, nil)
	defer f.Close()

	done := make(chan error, 1)
	go func() { done <- f.Seek(context.Background(), 4000) }()

	waitFor(t, "buffering while init pending", func() bool {
		return f.Status() == StatusBuffering
	})
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("seek: %v", err)
	}

	// The pre-seek status was Pause; the init gate's transient Buffering
	// must not be what gets re-applied.
	if got := f.Status(); got != StatusPause {
		t.Errorf("expected pause after gated seek, got %s", got)
	}
	if got := f.Position(); got != 4000 {
		t.Errorf("expected position 4000, got %d", got)
	}
}

func TestStopSuppressesInternalReadyTransition(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 5000)
	defer f.Close()
	ctx := context.Background()

	if err := f.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}

	var statuses []Status
	defer f.Subscribe(func(e Event) {
		if e.Kind == EventStatus {
			statuses = append(statuses, e.Player.(*fakeLeaf).status)
		}
	})()

	if err := f.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(statuses) != 1 || statuses[0] != StatusEnded {
		t.Errorf("expected single ended transition, got %v", statuses)
	}
	if got := f.Position(); got != 5000 {
		t.Errorf("expected position pinned to duration, got %d", got)
	}

	// Subclasses see the stopped-from-ready baseline.
	calls := f.recorded()
	if len(calls) != 3 || calls[1] != "ready" || calls[2] != "stop" {
		t.Errorf("expected [play ready stop], got %v", calls)
	}
}

func TestOperationsAwaitSharedInit(t *testing.T) {
	eng := NewEngine()
	f, gate := newGatedLeaf(eng, 5000, nil)
	defer f.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.Play(ctx)
		}()
	}

	waitFor(t, "buffering while init pending", func() bool {
		return f.Status() == StatusBuffering
	})
	if f.IsReady() {
		t.Error("player must not report ready before init completes")
	}

	close(gate)
	wg.Wait()

	if got := f.Status(); got != StatusPlaying {
		t.Errorf("expected playing after init, got %s", got)
	}
	f.mu.Lock()
	inits := f.inits
	f.mu.Unlock()
	if inits != 1 {
		t.Errorf("expected a single shared init, got %d", inits)
	}
}

func TestReadyNotificationFiresOnce(t *testing.T) {
	eng := NewEngine()
	f, gate := newGatedLeaf(eng, 5000, nil)
	defer f.Close()

	rec := &eventRec{}
	defer f.Subscribe(rec.add)()

	close(gate)
	waitFor(t, "init", f.IsReady)

	_ = f.Play(context.Background())
	_ = f.Pause(context.Background())

	if got := rec.count(EventReady); got != 1 {
		t.Errorf("expected exactly one ready notification, got %d", got)
	}
}

func TestInitFailureIsPermanentAndReturned(t *testing.T) {
	eng := NewEngine()
	initErr := errors.New("backend unreachable")
	f, gate := newGatedLeaf(eng, 5000, initErr)
	defer f.Close()
	close(gate)

	err := f.Play(context.Background())
	if !errors.Is(err, initErr) {
		t.Fatalf("expected init error from play, got %v", err)
	}
	if f.IsReady() {
		t.Error("failed init must leave the player non-ready")
	}
	if err := f.Pause(context.Background()); !errors.Is(err, initErr) {
		t.Errorf("expected init error from pause, got %v", err)
	}
}

func TestCommandFailureIsSwallowedAndReported(t *testing.T) {
	var gotID, gotOp string
	var gotErr error
	eng := NewEngine(WithCommandError(func(playerID, op string, err error) {
		gotID, gotOp, gotErr = playerID, op, err
	}))

	f := newFakeLeaf(eng, 5000)
	defer f.Close()
	denied := errors.New("autoplay blocked")
	f.failOn["play"] = denied

	if err := f.Play(context.Background()); err != nil {
		t.Fatalf("expected swallowed failure, got %v", err)
	}
	if got := f.Status(); got != StatusPlaying {
		t.Errorf("status must not roll back on command failure, got %s", got)
	}
	if gotID != f.ID() || gotOp != "play" || !errors.Is(gotErr, denied) {
		t.Errorf("diagnostic callback got (%s, %s, %v)", gotID, gotOp, gotErr)
	}
}

func TestRateNormalizedToThreeDecimals(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 5000)
	defer f.Close()
	ctx := context.Background()

	if err := f.SetRate(ctx, 1.23449); err != nil {
		t.Fatalf("setRate: %v", err)
	}
	if got := f.Rate(); got != 1.234 {
		t.Errorf("expected 1.234, got %v", got)
	}

	// Same normalized value: no further hook call.
	if err := f.SetRate(ctx, 1.23401); err != nil {
		t.Fatalf("setRate: %v", err)
	}
	rates := 0
	for _, c := range f.recorded() {
		if c == "rate" {
			rates++
		}
	}
	if rates != 1 {
		t.Errorf("expected a single rate hook call, got %d", rates)
	}
}

func TestNonPositiveRateIgnored(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 5000)
	defer f.Close()

	if err := f.SetRate(context.Background(), -2); err != nil {
		t.Fatalf("setRate: %v", err)
	}
	if got := f.Rate(); got != 1.0 {
		t.Errorf("expected rate unchanged at 1.0, got %v", got)
	}
}

func TestPauseThenPlayRoundTrip(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 10000)
	defer f.Close()
	ctx := context.Background()

	_ = f.Seek(ctx, 3000)
	_ = f.Play(ctx)
	_ = f.Pause(ctx)
	if err := f.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := f.Status(); got != StatusPlaying {
		t.Errorf("expected playing, got %s", got)
	}
	if got := f.Position(); got != 3000 {
		t.Errorf("expected position preserved at 3000, got %d", got)
	}
}

func TestSubscribeDisposerStopsDelivery(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 5000)
	defer f.Close()

	rec := &eventRec{}
	cancel := f.Subscribe(rec.add)
	cancel()

	_ = f.Play(context.Background())
	if got := rec.count(EventStatus); got != 0 {
		t.Errorf("expected no events after dispose, got %d", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	eng := NewEngine()
	f := newFakeLeaf(eng, 5000)

	ran := 0
	f.eng.mu.Lock()
	f.addCleanup(func() { ran++ })
	f.eng.mu.Unlock()

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if ran != 1 {
		t.Errorf("expected cleanup to run once, got %d", ran)
	}
}
