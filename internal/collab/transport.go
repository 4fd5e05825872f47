package collab

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a closed connection
var ErrClosed = errors.New("collab: connection closed")

// Conn is a membership of one room
type Conn interface {
	// Send delivers env to the other members of the room
	Send(ctx context.Context, env Envelope) error
	// Receive blocks until an envelope from another member arrives
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}

// Transport joins rooms
type Transport interface {
	Join(ctx context.Context, room string) (Conn, error)
}

const inboxSize = 64

// MemoryHub is an in-process transport. Members of a room receive every
// envelope sent by the other members; a full inbox drops the envelope.
type MemoryHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*memoryConn]struct{}
}

// NewMemoryHub creates an empty hub
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{rooms: make(map[string]map[*memoryConn]struct{})}
}

// Join implements Transport.Join.
func (h *MemoryHub) Join(ctx context.Context, room string) (Conn, error) {
	c := &memoryConn{
		hub:    h,
		room:   room,
		inbox:  make(chan Envelope, inboxSize),
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*memoryConn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()

	return c, nil
}

// Members returns the number of connections in room
func (h *MemoryHub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *MemoryHub) leave(c *memoryConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[c.room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
}

type memoryConn struct {
	hub       *MemoryHub
	room      string
	inbox     chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *memoryConn) Send(ctx context.Context, env Envelope) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for member := range c.hub.rooms[c.room] {
		if member == c {
			continue
		}
		select {
		case member.inbox <- env:
		default:
		}
	}
	return nil
}

func (c *memoryConn) Receive(ctx context.Context) (Envelope, error) {
	select {
	case env := <-c.inbox:
		return env, nil
	case <-c.closed:
		return Envelope{}, ErrClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (c *memoryConn) Close() error {
	c.closeOnce.Do(func() {
		c.hub.leave(c)
		close(c.closed)
	})
	return nil
}
