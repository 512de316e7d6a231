package socketio

import (
	"net"
	"sync"
)

// ConnectionLimiter bounds the number of concurrent external
// (non-loopback) clients. Loopback connections are always allowed and
// never counted. When a new external connection exceeds the limit, the
// oldest external connection is evicted to make room.
type ConnectionLimiter struct {
	mu          sync.Mutex
	maxExternal int
	conns       []conn // insertion order, oldest first
}

type conn struct {
	id       string
	external bool
}

// NewConnectionLimiter creates a limiter allowing up to maxExternal
// concurrent non-loopback connections.
func NewConnectionLimiter(maxExternal int) *ConnectionLimiter {
	return &ConnectionLimiter{maxExternal: maxExternal}
}

// TryAdd registers a connection. It returns whether the connection is
// allowed and the ID of any evicted client (empty if none). Re-adding a
// tracked ID is a no-op.
func (cl *ConnectionLimiter) TryAdd(clientID, remoteIP string) (allowed bool, evictedID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for _, c := range cl.conns {
		if c.id == clientID {
			return true, ""
		}
	}

	external := !isLocalIP(remoteIP)
	cl.conns = append(cl.conns, conn{id: clientID, external: external})

	if !external {
		return true, ""
	}
	if cl.countExternal() <= cl.maxExternal {
		return true, ""
	}

	for i, c := range cl.conns {
		if c.external {
			evictedID = c.id
			cl.conns = append(cl.conns[:i], cl.conns[i+1:]...)
			break
		}
	}
	return true, evictedID
}

// Remove unregisters a connection when a client disconnects.
func (cl *ConnectionLimiter) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for i, c := range cl.conns {
		if c.id == clientID {
			cl.conns = append(cl.conns[:i], cl.conns[i+1:]...)
			return
		}
	}
}

func (cl *ConnectionLimiter) countExternal() int {
	n := 0
	for _, c := range cl.conns {
		if c.external {
			n++
		}
	}
	return n
}

// isLocalIP reports whether the address is a loopback address.
func isLocalIP(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
