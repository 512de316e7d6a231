package player

// EventKind identifies a player notification.
type EventKind int

const (
	// EventStatus fires when the externally visible status changes.
	EventStatus EventKind = iota
	// EventTime fires when the playback position changes.
	EventTime
	// EventDuration fires when the duration changes.
	EventDuration
	// EventRate fires when the playback rate changes.
	EventRate
	// EventVisibility fires when visibility changes.
	EventVisibility
	// EventReady fires once, when initialization completes.
	EventReady
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventTime:
		return "timeupdate"
	case EventDuration:
		return "durationchange"
	case EventRate:
		return "ratechange"
	case EventVisibility:
		return "visibilitychange"
	case EventReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Event is a payloadless notification; observers read current property
// values off Player.
type Event struct {
	Kind   EventKind
	Player Player
}

type subscriber struct {
	id int
	fn func(Event)
}

// emit delivers an event to all subscribers synchronously, in
// registration order, as part of the property write that triggered it.
// Callers hold the engine lock; see Subscribe for the re-entrancy
// contract this imposes on callbacks.
func (b *base) emit(kind EventKind) {
	if b.closed || len(b.subs) == 0 {
		return
	}
	// Snapshot so callbacks may subscribe/unsubscribe mid-dispatch.
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	for _, s := range subs {
		s.fn(Event{Kind: kind, Player: b.self})
	}
}

// Subscribe registers fn for every notification this player emits and
// returns a disposer that removes the registration. Callbacks run
// synchronously while the engine lock is held: they may call the
// unexported reaction machinery of sibling players (combinators do),
// but external subscribers must not call exported Player methods from
// inside a callback — hand the event off to another goroutine instead.
func (b *base) Subscribe(fn func(Event)) func() {
	b.eng.mu.Lock()
	defer b.eng.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	return func() {
		b.eng.mu.Lock()
		defer b.eng.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}
