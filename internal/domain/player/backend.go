package player

import (
	"context"
	"time"
)

// SignalKind identifies a backend lifecycle signal.
type SignalKind int

const (
	SignalBuffering SignalKind = iota
	SignalCanPlay
	SignalPaused
	SignalPlaying
	SignalSeeking
	SignalSeeked
	SignalStalled
	SignalEnded
	SignalError
)

// String returns the signal kind name.
func (k SignalKind) String() string {
	switch k {
	case SignalBuffering:
		return "buffering"
	case SignalCanPlay:
		return "canplay"
	case SignalPaused:
		return "paused"
	case SignalPlaying:
		return "playing"
	case SignalSeeking:
		return "seeking"
	case SignalSeeked:
		return "seeked"
	case SignalStalled:
		return "stalled"
	case SignalEnded:
		return "ended"
	case SignalError:
		return "error"
	default:
		return "unknown"
	}
}

// Signal is a backend lifecycle notification. Err is set for
// SignalError only.
type Signal struct {
	Kind SignalKind
	Err  error
}

// Backend is the capability contract a media engine must provide to be
// driven as a leaf player. Commands may fail; the adapter swallows
// those failures per the best-effort operation semantics. Signals
// delivers lifecycle notifications until Close, which also closes the
// channel.
type Backend interface {
	Position(ctx context.Context) (int64, error)
	Duration(ctx context.Context) (int64, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	SeekMS(ctx context.Context, ms int64) error
	SetRate(ctx context.Context, rate float64) error
	Signals() <-chan Signal
	Close() error
}

const defaultBackendPoll = 500 * time.Millisecond

// BackendPlayer adapts a Backend into the player contract: the six
// hooks map onto backend commands, lifecycle signals translate into the
// five-state status model, and a poll loop refreshes position/duration
// while playing. The adapter exclusively owns its backend.
type BackendPlayer struct {
	*base

	backend   Backend
	pollEvery time.Duration
	stopPoll  chan struct{}
}

var _ Player = (*BackendPlayer)(nil)

// BackendOption configures a BackendPlayer.
type BackendOption func(*BackendPlayer)

// WithBackendPoll overrides the position poll interval (default 500 ms).
func WithBackendPoll(d time.Duration) BackendOption {
	return func(p *BackendPlayer) {
		if d > 0 {
			p.pollEvery = d
		}
	}
}

// NewBackendPlayer wraps a backend as a leaf player.
func NewBackendPlayer(eng *Engine, backend Backend, opts ...BackendOption) *BackendPlayer {
	p := &BackendPlayer{
		base:      newBase(eng, "backend"),
		backend:   backend,
		pollEvery: defaultBackendPoll,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.addCleanup(func() { _ = backend.Close() })
	p.addCleanup(func() {
		p.eng.mu.Lock()
		p.haltPoll()
		p.eng.mu.Unlock()
	})
	p.bind(p, p)
	return p
}

// init seeds position/duration from the backend and starts the signal
// pump; the pump runs until the backend closes its signal channel.
func (p *BackendPlayer) init(ctx context.Context) error {
	p.eng.mu.Lock()
	p.refreshTimes(ctx)
	p.eng.mu.Unlock()

	go func() {
		for sig := range p.backend.Signals() {
			p.eng.mu.Lock()
			if p.closed {
				p.eng.mu.Unlock()
				return
			}
			p.onSignal(sig)
			p.eng.mu.Unlock()
		}
	}()
	return nil
}

func (p *BackendPlayer) applyReady(ctx context.Context) error {
	p.haltPoll()
	return p.backend.Pause(ctx)
}

func (p *BackendPlayer) applyPlay(ctx context.Context) error {
	p.startPoll()
	return p.backend.Play(ctx)
}

func (p *BackendPlayer) applyPause(ctx context.Context) error {
	p.haltPoll()
	return p.backend.Pause(ctx)
}

func (p *BackendPlayer) applyStop(ctx context.Context) error {
	p.haltPoll()
	return p.backend.Stop(ctx)
}

func (p *BackendPlayer) applySeek(ctx context.Context, ms int64) error {
	return p.backend.SeekMS(ctx, ms)
}

func (p *BackendPlayer) applyRate(ctx context.Context, rate float64) error {
	return p.backend.SetRate(ctx, rate)
}

// onSignal translates a backend lifecycle signal into the five-state
// model. All status writes here are reactive: they honor suppression
// and never leave Ended on their own. Engine lock held.
func (p *BackendPlayer) onSignal(sig Signal) {
	ctx := context.Background()
	switch sig.Kind {
	case SignalBuffering, SignalSeeking, SignalStalled:
		p.setStatus(StatusBuffering)
	case SignalCanPlay:
		if p.status == StatusBuffering {
			p.setStatus(StatusReady)
		}
	case SignalPaused:
		p.haltPoll()
		p.setStatus(StatusPause)
	case SignalPlaying:
		p.setStatus(StatusPlaying)
		if p.status == StatusPlaying {
			p.startPoll()
		}
	case SignalSeeked:
		p.refreshTimes(ctx)
	case SignalEnded:
		p.haltPoll()
		_ = p.self.stop(ctx)
	case SignalError:
		p.eng.commandFailed(p.id, "signal", sig.Err)
	}
}

// refreshTimes pulls position and duration from the backend; query
// failures leave the last known values in place. Engine lock held.
func (p *BackendPlayer) refreshTimes(ctx context.Context) {
	if pos, err := p.backend.Position(ctx); err == nil {
		p.setPosition(pos)
	}
	if dur, err := p.backend.Duration(ctx); err == nil {
		p.setDuration(dur)
	}
}

// startPoll begins the periodic position refresh. Engine lock held.
func (p *BackendPlayer) startPoll() {
	if p.stopPoll != nil {
		return
	}
	stop := make(chan struct{})
	p.stopPoll = stop

	go func() {
		ticker := time.NewTicker(p.pollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.eng.mu.Lock()
				if p.stopPoll != stop {
					p.eng.mu.Unlock()
					return
				}
				p.refreshTimes(context.Background())
				p.eng.mu.Unlock()
			}
		}
	}()
}

// haltPoll cancels the position refresh if running. Engine lock held.
func (p *BackendPlayer) haltPoll() {
	if p.stopPoll != nil {
		close(p.stopPoll)
		p.stopPoll = nil
	}
}
