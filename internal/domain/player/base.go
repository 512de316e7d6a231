package player

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Player is the contract shared by every leaf and combinator. All
// positions are integer milliseconds. Operations are best-effort: they
// return an error only for a failed initialization or a canceled
// context, never for backend command failures (those are swallowed and
// reported through the Engine's diagnostic hook).
type Player interface {
	ID() string

	Ready(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, ms int64) error
	SetRate(ctx context.Context, rate float64) error

	Status() Status
	Position() int64
	Duration() int64
	Rate() float64
	Visible() bool
	IsReady() bool

	Subscribe(fn func(Event)) func()
	Close() error

	// Internal surface used by combinators while the engine lock is
	// held. Keeping it on the interface lets combinator reactions drive
	// children without re-entering the lock.
	ready(ctx context.Context) error
	play(ctx context.Context) error
	pause(ctx context.Context) error
	stop(ctx context.Context) error
	seek(ctx context.Context, ms int64) error
	setRate(ctx context.Context, rate float64) error
	isReadyNow() bool
	// core is named so that embedding *base does not shadow it with the
	// promoted field.
	core() *base
}

// hooks is the subclass contract: the only points where a concrete
// player touches its backend. The base state machine owns all state
// bookkeeping and notification around them.
type hooks interface {
	// init runs once on the initialization goroutine, after construction
	// returns and before the one-time ready notification. An error makes
	// the player permanently non-ready.
	init(ctx context.Context) error

	applyReady(ctx context.Context) error
	applyPlay(ctx context.Context) error
	applyPause(ctx context.Context) error
	applyStop(ctx context.Context) error
	applySeek(ctx context.Context, ms int64) error
	applyRate(ctx context.Context, rate float64) error
}

// nopCommands satisfies the command half of hooks for combinators,
// which override every operation wholesale and never reach the base
// command path.
type nopCommands struct{}

func (nopCommands) applyReady(context.Context) error         { return nil }
func (nopCommands) applyPlay(context.Context) error          { return nil }
func (nopCommands) applyPause(context.Context) error         { return nil }
func (nopCommands) applyStop(context.Context) error          { return nil }
func (nopCommands) applySeek(context.Context, int64) error   { return nil }
func (nopCommands) applyRate(context.Context, float64) error { return nil }

// NormalizeRate rounds a playback rate to 3 decimal places; rate
// equality is defined on the normalized value to absorb rounding noise
// from scaling operations.
func NormalizeRate(rate float64) float64 {
	return math.Round(rate*1000) / 1000
}

// base carries the shared player entity: status, position, duration,
// rate, visibility, the lazily-resolved initialization gate, the
// notification registry and the cleanup registry. Concrete players
// embed *base and register themselves via bind.
type base struct {
	eng  *Engine
	id   string
	kind string

	// self is the outermost player; base dispatches re-applied
	// operations through it so combinator overrides are honored.
	self  Player
	hooks hooks

	status   Status
	position int64
	duration int64
	rate     float64
	visible  bool

	initStatus InitStatus
	initDone   chan struct{}
	initErr    error

	// suppress blocks status writes during initialization and during
	// Stop's internal ready→stop sequence so observers never see those
	// transient states.
	suppress bool

	subs    []subscriber
	nextSub int

	cleanups []func()
	closed   bool
}

func newBase(eng *Engine, kind string) *base {
	return &base{
		eng:      eng,
		id:       uuid.NewString(),
		kind:     kind,
		status:   StatusPause,
		rate:     1.0,
		visible:  true,
		initDone: make(chan struct{}),
	}
}

// bind wires the outermost player and its hooks, then starts the
// asynchronous initialization sequence. Concrete constructors call it
// last.
func (b *base) bind(self Player, h hooks) {
	b.self = self
	b.hooks = h
	go b.runInit()
}

// runInit drives Idle → Initializing → Ready. It runs after the
// constructor returns, invokes the subclass init hook without the lock
// (so the hook may block on I/O or sibling gates), and fires the
// one-time ready notification. Status writes are suppressed throughout.
func (b *base) runInit() {
	b.eng.mu.Lock()
	b.initStatus = InitInitializing
	b.suppress = true
	b.eng.mu.Unlock()

	err := b.hooks.init(context.Background())

	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()

	b.suppress = false
	b.initErr = err
	if err != nil {
		log.Error().Str("player", b.id).Str("kind", b.kind).Err(err).Msg("Player initialization failed")
		close(b.initDone)
		return
	}
	b.initStatus = InitReady
	close(b.initDone)
	b.emit(EventReady)
}

// awaitInit gates an operation on initialization. The caller holds the
// engine lock; the lock is released while waiting so the init goroutine
// (and other operations) can make progress, then reacquired. Entering
// the gate moves the player to Buffering, per the operation contract.
func (b *base) awaitInit(ctx context.Context) error {
	if b.initStatus == InitReady {
		return nil
	}
	select {
	case <-b.initDone:
		// Init already settled; just report its outcome.
		return b.initErr
	default:
	}

	// Written directly: the gate's Buffering transition is part of the
	// operation contract and must be visible even while the init
	// sequence holds the suppress flag.
	if b.status != StatusBuffering {
		b.status = StatusBuffering
		b.emit(EventStatus)
	}

	b.eng.mu.Unlock()
	defer b.eng.mu.Lock()

	select {
	case <-b.initDone:
		return b.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// command invokes a backend hook with best-effort semantics: failures
// are logged, reported through the engine's diagnostic callback and
// otherwise discarded. The player's externally visible status is never
// rolled back on failure.
func (b *base) command(ctx context.Context, op string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		b.eng.commandFailed(b.id, op, err)
	}
}

// --- change-detecting property writes (engine lock held) ---

// setStatus is the reactive status write used by backend signals and
// combinator reactions. It honors the suppress flag, drops same-value
// writes and refuses to leave Ended; only explicit operations move a
// player out of Ended.
func (b *base) setStatus(s Status) {
	if b.suppress || b.status == s || b.status == StatusEnded {
		return
	}
	b.status = s
	b.emit(EventStatus)
}

// forceStatus is the operation-level status write; unlike setStatus it
// may leave Ended.
func (b *base) forceStatus(s Status) {
	if b.suppress || b.status == s {
		return
	}
	b.status = s
	b.emit(EventStatus)
}

func (b *base) setPosition(ms int64) {
	if ms < 0 {
		ms = 0
	}
	if b.position == ms {
		return
	}
	b.position = ms
	b.emit(EventTime)
}

func (b *base) setDuration(ms int64) {
	if ms < 0 {
		ms = 0
	}
	if b.duration == ms {
		return
	}
	b.duration = ms
	b.emit(EventDuration)
}

// setRateValue mirrors a rate value without touching any backend.
func (b *base) setRateValue(rate float64) {
	rate = NormalizeRate(rate)
	if rate <= 0 || b.rate == rate {
		return
	}
	b.rate = rate
	b.emit(EventRate)
}

func (b *base) setVisible(v bool) {
	if b.visible == v {
		return
	}
	b.visible = v
	b.emit(EventVisibility)
}

// --- operations (unexported variants run with the engine lock held) ---

func (b *base) ready(ctx context.Context) error {
	if b.status == StatusReady {
		return nil
	}
	if err := b.awaitInit(ctx); err != nil {
		return err
	}
	b.forceStatus(StatusReady)
	b.command(ctx, "ready", b.hooks.applyReady)
	return nil
}

func (b *base) play(ctx context.Context) error {
	if b.status == StatusPlaying || b.status == StatusEnded {
		return nil
	}
	if err := b.awaitInit(ctx); err != nil {
		return err
	}
	b.forceStatus(StatusPlaying)
	b.command(ctx, "play", b.hooks.applyPlay)
	return nil
}

func (b *base) pause(ctx context.Context) error {
	if b.status == StatusPause || b.status == StatusEnded {
		return nil
	}
	if err := b.awaitInit(ctx); err != nil {
		return err
	}
	b.forceStatus(StatusPause)
	b.command(ctx, "pause", b.hooks.applyPause)
	return nil
}

// stop drives the player to Ended. After the status write it replays
// the ready and stop hooks under suppression, so subclasses may assume
// they are stopped from a ready baseline without observers seeing the
// intermediate transition.
func (b *base) stop(ctx context.Context) error {
	if b.status == StatusEnded {
		return nil
	}
	if err := b.awaitInit(ctx); err != nil {
		return err
	}
	b.forceStatus(StatusEnded)
	if b.duration > 0 {
		b.setPosition(b.duration)
	}
	b.suppress = true
	b.command(ctx, "ready", b.hooks.applyReady)
	b.command(ctx, "stop", b.hooks.applyStop)
	b.suppress = false
	return nil
}

// seek clamps the target to ≥ 0, no-ops on the current position,
// delegates targets at/after a known duration to stop, and otherwise
// re-applies the pre-seek status through the corresponding public
// operation so the post-seek status reflects intent rather than a
// transient value.
func (b *base) seek(ctx context.Context, ms int64) error {
	if ms < 0 {
		ms = 0
	}
	if ms == b.position {
		return nil
	}
	// Capture intent before the init gate; its transient Buffering must
	// not become the re-applied status.
	prev := b.status
	if err := b.awaitInit(ctx); err != nil {
		return err
	}
	if b.duration > 0 && ms >= b.duration {
		return b.self.stop(ctx)
	}

	b.command(ctx, "seek", func(ctx context.Context) error {
		return b.hooks.applySeek(ctx, ms)
	})
	b.setPosition(ms)

	switch prev {
	case StatusReady, StatusEnded:
		return b.self.ready(ctx)
	case StatusPause:
		return b.self.pause(ctx)
	default:
		return b.self.play(ctx)
	}
}

func (b *base) setRate(ctx context.Context, rate float64) error {
	rate = NormalizeRate(rate)
	if rate <= 0 {
		log.Warn().Str("player", b.id).Float64("rate", rate).Msg("Ignoring non-positive playback rate")
		return nil
	}
	if rate == b.rate {
		return nil
	}
	if err := b.awaitInit(ctx); err != nil {
		return err
	}
	b.rate = rate
	b.emit(EventRate)
	b.command(ctx, "rate", func(ctx context.Context) error {
		return b.hooks.applyRate(ctx, rate)
	})
	return nil
}

func (b *base) isReadyNow() bool {
	return b.initStatus == InitReady
}

func (b *base) core() *base { return b }

// --- exported surface (acquires the engine lock) ---

// ID returns the player's unique identifier.
func (b *base) ID() string { return b.id }

// Ready drives the player to Ready, awaiting initialization first.
func (b *base) Ready(ctx context.Context) error {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.self.ready(ctx)
}

// Play drives the player toward Playing/Buffering.
func (b *base) Play(ctx context.Context) error {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.self.play(ctx)
}

// Pause drives the player to Pause.
func (b *base) Pause(ctx context.Context) error {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.self.pause(ctx)
}

// Stop drives the player to Ended.
func (b *base) Stop(ctx context.Context) error {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.self.stop(ctx)
}

// Seek moves the playback position to ms (clamped to ≥ 0).
func (b *base) Seek(ctx context.Context, ms int64) error {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.self.seek(ctx, ms)
}

// SetRate applies a new playback rate (normalized to 3 decimals).
func (b *base) SetRate(ctx context.Context, rate float64) error {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.self.setRate(ctx, rate)
}

// Status returns the externally visible status.
func (b *base) Status() Status {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.status
}

// Position returns the playback position in milliseconds.
func (b *base) Position() int64 {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.position
}

// Duration returns the duration in milliseconds (0 when unknown).
func (b *base) Duration() int64 {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.duration
}

// Rate returns the playback rate.
func (b *base) Rate() float64 {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.rate
}

// Visible reports whether the player currently represents visible
// content (false only while a sequential-offset delay is active).
func (b *base) Visible() bool {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.visible
}

// IsReady reports whether initialization has completed successfully.
func (b *base) IsReady() bool {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()
	return b.self.isReadyNow()
}

// addCleanup registers a teardown action run by Close. Callers either
// hold the engine lock or have not yet called bind.
func (b *base) addCleanup(fn func()) {
	b.cleanups = append(b.cleanups, fn)
}

// Close flushes the cleanup registry in reverse registration order and
// drops all subscribers. It is idempotent and safe to call regardless
// of which operations were in flight; cleanups run without the engine
// lock so pending timer callbacks can drain.
func (b *base) Close() error {
	b.eng.mu.Lock()
	if b.closed {
		b.eng.mu.Unlock()
		return nil
	}
	b.closed = true
	fns := b.cleanups
	b.cleanups = nil
	b.subs = nil
	b.eng.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
	return nil
}
