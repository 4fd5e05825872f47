package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/Kerhoff/wishsync/internal/metrics"
)

// relayClient is one websocket connection in a room
type relayClient struct {
	conn *websocket.Conn
	room string

	mu     sync.Mutex
	origin string
}

func (c *relayClient) setOrigin(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.origin == "" {
		c.origin = origin
	}
}

func (c *relayClient) getOrigin() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.origin
}

type relayMessage struct {
	room string
	from *relayClient
	data []byte
}

// Relay is the websocket server behind WebsocketTransport. Clients join a
// room with the room query parameter; every message is fanned out to the
// other members of the room.
type Relay struct {
	addr     string
	listener net.Listener
	server   *http.Server

	roomsMu sync.RWMutex
	rooms   map[string]map[*relayClient]struct{}

	broadcast chan relayMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logrus.Logger
}

// NewRelay creates a relay listening on port once started. Port 0 picks a
// free port.
func NewRelay(port int, logger *logrus.Logger) *Relay {
	ctx, cancel := context.WithCancel(context.Background())

	return &Relay{
		addr:      fmt.Sprintf(":%d", port),
		rooms:     make(map[string]map[*relayClient]struct{}),
		broadcast: make(chan relayMessage, 256),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Handler returns the relay's routes and starts the broadcast loop. Use it
// directly when serving the relay from another server.
func (r *Relay) Handler() http.Handler {
	r.wg.Add(1)
	go r.broadcastLoop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", r.handleWebSocket)
	mux.HandleFunc("GET /health", r.handleHealth)
	return mux
}

// Start begins listening
func (r *Relay) Start() error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.addr, err)
	}
	r.listener = ln

	r.server = &http.Server{
		Handler:     r.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.WithField("addr", ln.Addr().String()).Info("Collaboration relay listening")
		if err := r.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.logger.WithError(err).Error("Relay server error")
		}
	}()

	return nil
}

// Stop closes every connection and shuts the server down
func (r *Relay) Stop() error {
	r.logger.Info("Stopping collaboration relay")
	r.cancel()

	r.roomsMu.Lock()
	for room, members := range r.rooms {
		for c := range members {
			_ = c.conn.Close(websocket.StatusGoingAway, "relay shutting down")
			metrics.RelayConnections.Dec()
		}
		delete(r.rooms, room)
	}
	r.roomsMu.Unlock()

	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("relay shutdown error: %w", err)
		}
	}

	r.wg.Wait()
	return nil
}

// Addr returns the listening address
func (r *Relay) Addr() string {
	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.addr
}

// Members returns the number of clients in room
func (r *Relay) Members(room string) int {
	r.roomsMu.RLock()
	defer r.roomsMu.RUnlock()
	return len(r.rooms[room])
}

func (r *Relay) publish(msg relayMessage) {
	select {
	case r.broadcast <- msg:
	case <-r.ctx.Done():
	default:
		r.logger.WithField("room", msg.room).Warn("Relay broadcast channel full, dropping message")
	}
}

func (r *Relay) broadcastLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-r.broadcast:
			r.roomsMu.RLock()
			members := make([]*relayClient, 0, len(r.rooms[msg.room]))
			for c := range r.rooms[msg.room] {
				if c != msg.from {
					members = append(members, c)
				}
			}
			r.roomsMu.RUnlock()

			for _, c := range members {
				ctx, cancel := context.WithTimeout(r.ctx, writeTimeout)
				err := c.conn.Write(ctx, websocket.MessageText, msg.data)
				cancel()

				if err != nil {
					r.logger.WithError(err).WithField("room", msg.room).Debug("Failed to write to relay client")
					r.removeClient(c)
				}
			}
		}
	}
}

func (r *Relay) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	room := req.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		r.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(readLimit)

	c := &relayClient{conn: conn, room: room}
	r.roomsMu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*relayClient]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
	count := len(members)
	r.roomsMu.Unlock()
	metrics.RelayConnections.Inc()

	r.logger.WithFields(logrus.Fields{"room": room, "members": count}).Info("Client joined room")

	r.readLoop(c)
}

// readLoop forwards every message of c to its room until c disconnects
func (r *Relay) readLoop(c *relayClient) {
	defer r.removeClient(c)

	for {
		_, data, err := c.conn.Read(r.ctx)
		if err != nil {
			return
		}
		if !gjson.ValidBytes(data) {
			continue
		}
		if origin := gjson.GetBytes(data, "origin").String(); origin != "" {
			c.setOrigin(origin)
		}
		r.publish(relayMessage{room: c.room, from: c, data: data})
	}
}

// removeClient drops c and tells the room it left
func (r *Relay) removeClient(c *relayClient) {
	r.roomsMu.Lock()
	members := r.rooms[c.room]
	if _, ok := members[c]; !ok {
		r.roomsMu.Unlock()
		return
	}
	delete(members, c)
	count := len(members)
	if count == 0 {
		delete(r.rooms, c.room)
	}
	r.roomsMu.Unlock()
	metrics.RelayConnections.Dec()

	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	r.logger.WithFields(logrus.Fields{"room": c.room, "members": count}).Info("Client left room")

	if origin := c.getOrigin(); origin != "" && count > 0 {
		data, err := json.Marshal(Envelope{Type: MessageLeave, Room: c.room, Origin: origin})
		if err == nil {
			r.publish(relayMessage{room: c.room, from: c, data: data})
		}
	}
}

func (r *Relay) handleHealth(w http.ResponseWriter, req *http.Request) {
	r.roomsMu.RLock()
	rooms := len(r.rooms)
	clients := 0
	for _, members := range r.rooms {
		clients += len(members)
	}
	r.roomsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"rooms":   rooms,
		"clients": clients,
	})
}
