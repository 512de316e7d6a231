// Package mpd adapts an MPD server into a player backend via gompd.
package mpd

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/ensembleav/ensemble/internal/domain/player"
)

// Backend drives MPD playback through the player.Backend contract. The
// connection is established lazily and re-established on demand; a
// watcher on the "player" subsystem translates MPD state changes into
// backend lifecycle signals.
type Backend struct {
	mu       sync.RWMutex
	client   *mpd.Client
	host     string
	port     int
	password string

	sig       chan player.Signal
	sigClosed bool
	stopWatch chan struct{}
	watchWG   sync.WaitGroup
}

// New creates an MPD backend and starts its subsystem watcher. The
// command connection is dialed lazily on first use.
func New(host string, port int, password string) *Backend {
	b := &Backend{
		host:      host,
		port:      port,
		password:  password,
		sig:       make(chan player.Signal, 16),
		stopWatch: make(chan struct{}),
	}
	b.watchWG.Add(1)
	go b.watch()
	return b
}

func (b *Backend) addr() string {
	return fmt.Sprintf("%s:%d", b.host, b.port)
}

// connectLocked establishes the command connection (must hold lock).
func (b *Backend) connectLocked() error {
	log.Info().Str("addr", b.addr()).Msg("Connecting to MPD")

	client, err := mpd.Dial("tcp", b.addr())
	if err != nil {
		return fmt.Errorf("failed to connect to MPD: %w", err)
	}

	if b.password != "" {
		if err := client.Command("password %s", b.password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("MPD authentication failed: %w", err)
		}
	}

	b.client = client
	log.Info().Msg("Connected to MPD")
	return nil
}

// ensureConnected checks the connection and reconnects if needed.
func (b *Backend) ensureConnected() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return b.connectLocked()
	}

	if err := b.client.Ping(); err != nil {
		log.Warn().Err(err).Msg("MPD connection lost, reconnecting...")
		b.client.Close()
		b.client = nil
		return b.connectLocked()
	}

	return nil
}

// status fetches the current MPD status attributes.
func (b *Backend) status() (mpd.Attrs, error) {
	if err := b.ensureConnected(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.client.Status()
}

// Position returns the elapsed time of the current song in
// milliseconds.
func (b *Backend) Position(ctx context.Context) (int64, error) {
	attrs, err := b.status()
	if err != nil {
		return 0, err
	}
	return attrMS(attrs, "elapsed"), nil
}

// Duration returns the duration of the current song in milliseconds (0
// when unknown, e.g. streams).
func (b *Backend) Duration(ctx context.Context) (int64, error) {
	attrs, err := b.status()
	if err != nil {
		return 0, err
	}
	return attrMS(attrs, "duration"), nil
}

// Play starts or resumes playback of the current song.
func (b *Backend) Play(ctx context.Context) error {
	if err := b.ensureConnected(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.client.Play(-1)
}

// Pause pauses playback.
func (b *Backend) Pause(ctx context.Context) error {
	if err := b.ensureConnected(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.client.Pause(true)
}

// Stop stops playback.
func (b *Backend) Stop(ctx context.Context) error {
	if err := b.ensureConnected(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.client.Stop()
}

// SeekMS seeks within the current song. seekcur keeps sub-second
// precision, which drift correction relies on.
func (b *Backend) SeekMS(ctx context.Context, ms int64) error {
	if err := b.ensureConnected(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.client.SeekCur(time.Duration(ms)*time.Millisecond, false)
}

// SetRate is accepted but not supported by the MPD protocol; the engine
// keeps its own rate bookkeeping.
func (b *Backend) SetRate(ctx context.Context, rate float64) error {
	log.Debug().Float64("rate", rate).Msg("MPD does not support playback rate, ignoring")
	return nil
}

// Signals delivers lifecycle signals until Close.
func (b *Backend) Signals() <-chan player.Signal { return b.sig }

// Close shuts down the watcher and the command connection and closes
// the signal channel.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.sigClosed {
		b.mu.Unlock()
		return nil
	}
	b.sigClosed = true
	close(b.stopWatch)
	var err error
	if b.client != nil {
		err = b.client.Close()
		b.client = nil
	}
	b.mu.Unlock()

	b.watchWG.Wait()
	close(b.sig)
	return err
}

// emit delivers a signal unless the backend is closing.
func (b *Backend) emit(sig player.Signal) {
	select {
	case <-b.stopWatch:
	case b.sig <- sig:
	}
}

// watch maintains a watcher on the MPD "player" subsystem, diffing
// successive states into lifecycle signals. The watcher is recreated
// with a delay after errors.
func (b *Backend) watch() {
	defer b.watchWG.Done()

	prev := ""
	for {
		select {
		case <-b.stopWatch:
			return
		default:
		}

		watcher, err := mpd.NewWatcher("tcp", b.addr(), b.password, "player")
		if err != nil {
			log.Warn().Err(err).Msg("MPD watcher unavailable, retrying")
			select {
			case <-b.stopWatch:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		prev = b.watchEvents(watcher, prev)
		watcher.Close()

		select {
		case <-b.stopWatch:
			return
		case <-time.After(time.Second):
		}
	}
}

// watchEvents consumes one watcher until it fails or the backend
// closes; returns the last observed state for the next incarnation.
func (b *Backend) watchEvents(watcher *mpd.Watcher, prev string) string {
	for {
		select {
		case <-b.stopWatch:
			return prev
		case _, ok := <-watcher.Event:
			if !ok {
				return prev
			}
			attrs, err := b.status()
			if err != nil {
				log.Warn().Err(err).Msg("MPD status query failed during watch")
				continue
			}
			state := attrs["state"]
			for _, kind := range StateSignals(prev, state) {
				b.emit(player.Signal{Kind: kind})
			}
			prev = state
		case err := <-watcher.Error:
			log.Error().Err(err).Msg("MPD watcher error")
			b.emit(player.Signal{Kind: player.SignalError, Err: err})
			return prev
		}
	}
}

// StateSignals translates an MPD player-state transition into backend
// lifecycle signals. A repeated state means the position jumped within
// the same state (a seek).
func StateSignals(prev, cur string) []player.SignalKind {
	if prev == cur {
		if cur == "" {
			return nil
		}
		return []player.SignalKind{player.SignalSeeked}
	}
	switch cur {
	case "play":
		return []player.SignalKind{player.SignalPlaying}
	case "pause":
		return []player.SignalKind{player.SignalPaused}
	case "stop":
		return []player.SignalKind{player.SignalEnded}
	default:
		return nil
	}
}

// attrMS parses a seconds attribute into integer milliseconds.
func attrMS(attrs mpd.Attrs, key string) int64 {
	sec, err := strconv.ParseFloat(attrs[key], 64)
	if err != nil {
		return 0
	}
	return int64(sec * 1000)
}
