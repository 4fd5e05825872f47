package collab

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/wishsync/internal/metrics"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/store"
)

const outboxSize = 128

// Stores are the caches a channel reads local changes from and applies
// remote patches to
type Stores struct {
	Lists  *store.Lists
	Wishes *store.Wishes
}

// PeerFunc observes collaborators joining (joined true) or leaving a room
type PeerFunc func(listID string, peer models.Collaborator, joined bool)

// Option configures a channel
type Option func(*Channel)

// WithPeerHook calls fn whenever a collaborator joins or leaves
func WithPeerHook(fn PeerFunc) Option {
	return func(c *Channel) { c.onPeer = fn }
}

// Channel is the realtime subscription of one open list
type Channel struct {
	listID string
	room   string
	origin string
	self   Presence

	conn   Conn
	doc    *Document
	stores Stores
	logger *logrus.Entry

	peersMu sync.RWMutex
	peers   map[string]models.Collaborator
	onPeer  PeerFunc

	outbox      chan Envelope
	stopChanges []func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
	closeErr    error
}

// RandomColor returns a random #rrggbb display color
func RandomColor() string {
	return fmt.Sprintf("#%06x", rand.IntN(0x1000000))
}

// Open joins the room of listID, announces user's presence and starts
// exchanging patches. Close must be called when the list view closes.
func Open(ctx context.Context, transport Transport, listID string, user *models.User, stores Stores, logger *logrus.Logger, opts ...Option) (*Channel, error) {
	if listID == "" || user == nil {
		return nil, errors.New("collab: list id and user are required")
	}

	room := RoomName(listID)
	conn, err := transport.Join(ctx, room)
	if err != nil {
		return nil, err
	}

	origin := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		listID: listID,
		room:   room,
		origin: origin,
		self:   Presence{UserID: user.ID, Name: user.DisplayName(), Color: RandomColor()},
		conn:   conn,
		doc:    NewDocument(origin),
		stores: stores,
		logger: logger.WithFields(logrus.Fields{"room": room, "origin": origin}),
		peers:  make(map[string]models.Collaborator),
		outbox: make(chan Envelope, outboxSize),
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.stopChanges = []func(){
		stores.Lists.OnChange(c.forward),
		stores.Wishes.OnChange(c.forward),
	}

	c.wg.Add(2)
	go c.sendLoop(runCtx)
	go c.receiveLoop(runCtx)

	c.announce()
	metrics.CollabOpenChannels.Inc()
	c.logger.WithField("list_id", listID).Info("Collaboration channel opened")
	return c, nil
}

// ListID returns the list the channel is scoped to
func (c *Channel) ListID() string {
	return c.listID
}

// Self returns the local presence
func (c *Channel) Self() Presence {
	return c.self
}

// Peers returns the other collaborators currently in the room
func (c *Channel) Peers() []models.Collaborator {
	c.peersMu.RLock()
	out := make([]models.Collaborator, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	c.peersMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Channel) announce() {
	c.enqueue(Envelope{Type: MessagePresence, Presence: &c.self})
}

func (c *Channel) enqueue(env Envelope) {
	env.Room = c.room
	env.Origin = c.origin
	select {
	case c.outbox <- env:
	default:
		c.logger.WithField("type", env.Type).Warn("Collaboration outbox full, dropping envelope")
	}
}

// forward turns a local store change of the open list into an outbound patch
func (c *Channel) forward(ch store.Change) {
	var patch Patch
	switch ch.Kind {
	case store.KindWish:
		if ch.ListID != c.listID {
			return
		}
		patch = Patch{Kind: EntityWish, ID: ch.ID, Deleted: ch.Op == store.OpDelete, Wish: ch.Wish}
	case store.KindList:
		if ch.ID != c.listID {
			return
		}
		patch = Patch{Kind: EntityList, ID: ch.ID, Deleted: ch.Op == store.OpDelete}
		if ch.List != nil {
			lp := listPatchOf(ch.List)
			patch.List = &lp
		}
	default:
		return
	}

	clock := c.doc.Local(entityKey(patch.Kind, patch.ID))
	metrics.CollabPatches.WithLabelValues("outbound").Inc()
	c.enqueue(Envelope{Type: MessagePatch, Clock: clock, Patch: &patch})
}

func (c *Channel) sendLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.outbox:
			if err := c.conn.Send(ctx, env); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.WithError(err).WithField("type", env.Type).Warn("Failed to send envelope")
			}
		}
	}
}

func (c *Channel) receiveLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		env, err := c.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrClosed) {
				c.logger.WithError(err).Warn("Collaboration connection lost")
			}
			return
		}
		if env.Origin == c.origin || (env.Room != "" && env.Room != c.room) {
			continue
		}
		c.handle(ctx, env)
	}
}

func (c *Channel) handle(ctx context.Context, env Envelope) {
	switch env.Type {
	case MessagePresence:
		if env.Presence == nil {
			return
		}
		peer := models.Collaborator{
			ID:       env.Presence.UserID,
			Name:     env.Presence.Name,
			Color:    env.Presence.Color,
			IsActive: true,
		}
		c.peersMu.Lock()
		_, known := c.peers[env.Origin]
		c.peers[env.Origin] = peer
		c.peersMu.Unlock()
		if !known {
			c.logger.WithField("peer", env.Presence.Name).Debug("Collaborator joined")
			// let the newcomer learn about us
			c.announce()
			c.peerChanged(peer, true)
		}

	case MessageLeave:
		c.peersMu.Lock()
		peer, known := c.peers[env.Origin]
		delete(c.peers, env.Origin)
		c.peersMu.Unlock()
		if known {
			peer.IsActive = false
			c.peerChanged(peer, false)
		}

	case MessagePatch:
		if env.Patch == nil {
			return
		}
		if !c.doc.Merge(entityKey(env.Patch.Kind, env.Patch.ID), env.Clock, env.Origin) {
			c.logger.WithField("id", env.Patch.ID).Debug("Dropping superseded patch")
			return
		}
		metrics.CollabPatches.WithLabelValues("inbound").Inc()
		c.apply(ctx, env.Patch)
	}
}

func (c *Channel) peerChanged(peer models.Collaborator, joined bool) {
	if c.onPeer != nil {
		c.onPeer(c.listID, peer, joined)
	}
}

// apply mutates the local caches only; the sending peer already persisted
// the change
func (c *Channel) apply(ctx context.Context, p *Patch) {
	switch p.Kind {
	case EntityWish:
		if p.Deleted {
			c.stores.Wishes.ApplyRemoteDelete(ctx, p.ID)
			return
		}
		if p.Wish != nil {
			w := p.Wish.Clone()
			w.ID = p.ID
			c.stores.Wishes.ApplyRemoteUpsert(ctx, w)
		}
	case EntityList:
		if p.ID != c.listID {
			return
		}
		if p.Deleted {
			c.stores.Lists.ApplyRemoteDelete(ctx, p.ID)
			return
		}
		if p.List != nil {
			c.stores.Lists.ApplyRemotePatch(ctx, p.ID, *p.List)
		}
	}
}

// Close leaves the room and releases the store listeners and the
// connection. It is safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		for _, stop := range c.stopChanges {
			stop()
		}

		var result *multierror.Error
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := c.conn.Send(ctx, Envelope{Type: MessageLeave, Room: c.room, Origin: c.origin}); err != nil && !errors.Is(err, ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("failed to announce leave: %w", err))
		}
		cancel()

		c.cancel()
		if err := c.conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close connection: %w", err))
		}
		c.wg.Wait()

		metrics.CollabOpenChannels.Dec()
		c.logger.Info("Collaboration channel closed")
		c.closeErr = result.ErrorOrNil()
	})
	return c.closeErr
}
