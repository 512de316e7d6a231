package player

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Engine serializes all operations on one composition tree and carries
// the diagnostic hook for swallowed backend command failures. Every
// player of a tree must be constructed with the same Engine; combining
// players from different engines panics at construction.
//
// The single mutex gives each tree the cooperative execution model the
// players assume: notifications dispatch synchronously under the lock,
// and operations interleave only at their explicit wait points (the
// initialization gate).
type Engine struct {
	mu sync.Mutex

	commandError func(playerID, op string, err error)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCommandError installs a diagnostic callback invoked whenever a
// backend command fails and is swallowed. The callback runs with the
// engine lock held and must not call back into any player of the tree.
func WithCommandError(fn func(playerID, op string, err error)) EngineOption {
	return func(e *Engine) { e.commandError = fn }
}

// NewEngine creates an engine for one composition tree.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// commandFailed records a swallowed backend command failure.
func (e *Engine) commandFailed(playerID, op string, err error) {
	log.Warn().Str("player", playerID).Str("op", op).Err(err).Msg("Backend command failed (swallowed)")
	if e.commandError != nil {
		e.commandError(playerID, op, err)
	}
}
