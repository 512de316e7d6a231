package socketio

import (
	"sync"
	"time"

	"github.com/ensembleav/ensemble/internal/domain/player"
)

// BroadcastDebouncer collapses rapid player notifications into batched
// broadcasts. Multiple notifications within the debounce window result
// in a single broadcast for each affected payload (state and/or
// timeline), so a ticking clock does not flood every client.
type BroadcastDebouncer struct {
	window           time.Duration
	stateCallback    func()
	timelineCallback func()

	mu              sync.Mutex
	pendingState    bool
	pendingTimeline bool
	timer           *time.Timer
	stopped         bool
}

// NewBroadcastDebouncer creates a debouncer with the given window.
// stateCallback fires for status/rate/visibility/ready notifications,
// timelineCallback for time/duration notifications.
func NewBroadcastDebouncer(window time.Duration, stateCallback, timelineCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:           window,
		stateCallback:    stateCallback,
		timelineCallback: timelineCallback,
	}
}

// Trigger records a player notification. The broadcast callbacks are
// deferred until the debounce window elapses without further triggers.
func (d *BroadcastDebouncer) Trigger(kind player.EventKind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch kind {
	case player.EventStatus, player.EventRate, player.EventVisibility, player.EventReady:
		d.pendingState = true
	case player.EventTime, player.EventDuration:
		d.pendingTimeline = true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires callbacks for any pending flags and resets them.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	doState := d.pendingState
	doTimeline := d.pendingTimeline
	d.pendingState = false
	d.pendingTimeline = false
	d.mu.Unlock()

	if doState && d.stateCallback != nil {
		d.stateCallback()
	}
	if doTimeline && d.timelineCallback != nil {
		d.timelineCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingTimeline = false
}
