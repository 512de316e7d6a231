// Package socketio exposes the synchronized root player to remote
// clients over Socket.io.
package socketio

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/ensembleav/ensemble/internal/domain/player"
)

const defaultDebounceWindow = 150 * time.Millisecond

// State is the pushState payload: the root player's control-plane view
// plus a per-source breakdown.
type State struct {
	ID      string        `json:"id"`
	Status  string        `json:"status"`
	Rate    float64       `json:"rate"`
	Visible bool          `json:"visible"`
	Ready   bool          `json:"ready"`
	Sources []SourceState `json:"sources,omitempty"`
}

// SourceState is one leaf's slice of the pushState payload.
type SourceState struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Position int64  `json:"position"`
	Duration int64  `json:"duration"`
	Visible  bool   `json:"visible"`
}

// Timeline is the pushTime payload.
type Timeline struct {
	Position int64 `json:"position"`
	Duration int64 `json:"duration"`
}

// BuildState snapshots the root player and the named leaves.
func BuildState(root player.Player, leaves map[string]player.Player) State {
	names := lo.Keys(leaves)
	sort.Strings(names)

	return State{
		ID:      root.ID(),
		Status:  root.Status().String(),
		Rate:    root.Rate(),
		Visible: root.Visible(),
		Ready:   root.IsReady(),
		Sources: lo.Map(names, func(name string, _ int) SourceState {
			p := leaves[name]
			return SourceState{
				Name:     name,
				Status:   p.Status().String(),
				Position: p.Position(),
				Duration: p.Duration(),
				Visible:  p.Visible(),
			}
		}),
	}
}

// BuildTimeline snapshots the root player's position and duration.
func BuildTimeline(root player.Player) Timeline {
	return Timeline{
		Position: root.Position(),
		Duration: root.Duration(),
	}
}

// Server handles Socket.io connections and player control events.
type Server struct {
	io        *socket.Server
	root      player.Player
	leaves    map[string]player.Player
	limiter   *ConnectionLimiter
	debouncer *BroadcastDebouncer
	unsub     func()

	mu      sync.RWMutex
	clients map[string]*socket.Socket
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	debounceWindow time.Duration
}

// WithDebounceWindow overrides the broadcast debounce window (default
// 150 ms).
func WithDebounceWindow(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		if d > 0 {
			o.debounceWindow = d
		}
	}
}

// NewServer creates a Socket.io server driving the given root player.
// leaves maps display names to the composition's leaf players, used for
// the per-source state breakdown.
func NewServer(root player.Player, leaves map[string]player.Player, maxExternalClients int, opts ...ServerOption) (*Server, error) {
	sopts := &serverOptions{debounceWindow: defaultDebounceWindow}
	for _, opt := range opts {
		opt(sopts)
	}

	ioOpts := socket.DefaultServerOptions()
	ioOpts.SetPingTimeout(20 * time.Second)
	ioOpts.SetPingInterval(25 * time.Second)
	ioOpts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:      socket.NewServer(nil, ioOpts),
		root:    root,
		leaves:  leaves,
		limiter: NewConnectionLimiter(maxExternalClients),
		clients: make(map[string]*socket.Socket),
	}
	s.debouncer = NewBroadcastDebouncer(sopts.debounceWindow,
		s.BroadcastState,
		s.BroadcastTime,
	)

	// The subscription callback runs inside the engine; it only flags
	// the debouncer, which reads player state later from its own timer
	// goroutine.
	s.unsub = root.Subscribe(func(e player.Event) {
		s.debouncer.Trigger(e.Kind)
	})

	s.setupHandlers()

	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		remoteIP := ""
		if hs := client.Handshake(); hs != nil {
			remoteIP = hs.Address
		}
		_, evicted := s.limiter.TryAdd(clientID, remoteIP)
		if evicted != "" {
			log.Info().Str("id", evicted).Msg("Evicting oldest external client")
			s.mu.RLock()
			old := s.clients[evicted]
			s.mu.RUnlock()
			if old != nil {
				old.Disconnect(true)
			}
		}

		log.Info().Str("id", clientID).Str("ip", remoteIP).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			client.Emit("pushState", BuildState(s.root, s.leaves))
			client.Emit("pushTime", BuildTimeline(s.root))
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.limiter.Remove(clientID)
			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			client.Emit("pushState", BuildState(s.root, s.leaves))
			client.Emit("pushTime", BuildTimeline(s.root))
		})

		client.On("ready", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("ready")
			if err := s.root.Ready(context.Background()); err != nil {
				log.Error().Err(err).Msg("Ready failed")
			}
		})

		client.On("play", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("play")
			if err := s.root.Play(context.Background()); err != nil {
				log.Error().Err(err).Msg("Play failed")
			}
		})

		client.On("pause", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("pause")
			if err := s.root.Pause(context.Background()); err != nil {
				log.Error().Err(err).Msg("Pause failed")
			}
		})

		client.On("stop", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("stop")
			if err := s.root.Stop(context.Background()); err != nil {
				log.Error().Err(err).Msg("Stop failed")
			}
		})

		client.On("seek", func(args ...any) {
			if len(args) > 0 {
				if ms, ok := args[0].(float64); ok {
					log.Debug().Str("id", clientID).Float64("ms", ms).Msg("seek")
					if err := s.root.Seek(context.Background(), int64(ms)); err != nil {
						log.Error().Err(err).Msg("Seek failed")
					}
				}
			}
		})

		client.On("setRate", func(args ...any) {
			if len(args) > 0 {
				if rate, ok := args[0].(float64); ok {
					log.Debug().Str("id", clientID).Float64("rate", rate).Msg("setRate")
					if err := s.root.SetRate(context.Background(), rate); err != nil {
						log.Error().Err(err).Msg("SetRate failed")
					}
				}
			}
		})
	})
}

// BroadcastState sends the current state to all connected clients.
func (s *Server) BroadcastState() {
	state := BuildState(s.root, s.leaves)
	s.io.Emit("pushState", state)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Debug().RawJSON("state", data).Int("clients", clientCount).Msg("Broadcast state")
	}
}

// BroadcastTime sends the current timeline to all connected clients.
func (s *Server) BroadcastTime() {
	s.io.Emit("pushTime", BuildTimeline(s.root))
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close stops broadcasting and shuts the Socket.io server down.
func (s *Server) Close() error {
	s.unsub()
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
