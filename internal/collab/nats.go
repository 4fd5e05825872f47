package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix namespaces room subjects on NATS
const SubjectPrefix = "wishsync."

// NATSTransport publishes room envelopes on the subject wishsync.<room>
type NATSTransport struct {
	nc *nats.Conn
}

// NewNATSTransport wraps an established NATS connection
func NewNATSTransport(nc *nats.Conn) *NATSTransport {
	return &NATSTransport{nc: nc}
}

// ConnectNATS connects to the NATS server at url
func ConnectNATS(url string) (*NATSTransport, error) {
	nc, err := nats.Connect(url, nats.Name("wishsync"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSTransport(nc), nil
}

// Close drains the NATS connection
func (t *NATSTransport) Close() error {
	if t.nc == nil || t.nc.IsClosed() {
		return nil
	}
	return t.nc.Drain()
}

// Join subscribes to the room subject. Envelopes published by the same
// connection are echoed back; the channel drops them by origin.
func (t *NATSTransport) Join(ctx context.Context, room string) (Conn, error) {
	if t.nc == nil || !t.nc.IsConnected() {
		return nil, nats.ErrConnectionClosed
	}

	msgs := make(chan *nats.Msg, inboxSize)
	sub, err := t.nc.ChanSubscribe(SubjectPrefix+room, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to room %s: %w", room, err)
	}

	return &natsConn{
		nc:      t.nc,
		subject: SubjectPrefix + room,
		sub:     sub,
		msgs:    msgs,
		closed:  make(chan struct{}),
	}, nil
}

type natsConn struct {
	nc        *nats.Conn
	subject   string
	sub       *nats.Subscription
	msgs      chan *nats.Msg
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *natsConn) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := c.nc.Publish(c.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.subject, err)
	}
	return nil
}

func (c *natsConn) Receive(ctx context.Context) (Envelope, error) {
	for {
		select {
		case msg := <-c.msgs:
			var env Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil {
				// not ours
				continue
			}
			return env, nil
		case <-c.closed:
			return Envelope{}, ErrClosed
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

func (c *natsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.sub.Unsubscribe()
		close(c.closed)
	})
	return err
}
