// Package player implements the synchronized-player engine: a shared
// player state machine, leaf players (wall-clock and backend-driven),
// and the combinators that compose any number of players into a single
// root exposing the same contract.
package player

// Status represents the externally visible playback status.
//
// From Ready every status is reachable. Pause and Playing/Buffering are
// mutually reachable. Ended is reachable from any status and holds
// position == duration (when duration > 0) until a subsequent Seek or
// Ready moves the player out of it; reactive status writes never leave
// Ended on their own.
type Status int

const (
	StatusReady Status = iota
	StatusPause
	StatusBuffering
	StatusPlaying
	StatusEnded
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusPause:
		return "pause"
	case StatusBuffering:
		return "buffering"
	case StatusPlaying:
		return "playing"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// IsActive returns true while the player is progressing or trying to
// progress through its timeline (Playing or Buffering).
func (s Status) IsActive() bool {
	return s == StatusPlaying || s == StatusBuffering
}

// InitStatus tracks the asynchronous initialization sequence every
// player runs after construction.
type InitStatus int

const (
	InitIdle InitStatus = iota
	InitInitializing
	InitReady
)

// String returns the init status name.
func (s InitStatus) String() string {
	switch s {
	case InitIdle:
		return "idle"
	case InitInitializing:
		return "initializing"
	case InitReady:
		return "ready"
	default:
		return "unknown"
	}
}
