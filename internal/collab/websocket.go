package collab

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	writeTimeout = 5 * time.Second
	readLimit    = 1 << 20
)

// WebsocketTransport joins rooms on a relay over websocket
type WebsocketTransport struct {
	// URL is the relay's websocket endpoint, e.g. ws://localhost:8090/ws
	URL string
}

// Join dials the relay with the room as a query parameter
func (t *WebsocketTransport) Join(ctx context.Context, room string) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay URL: %w", err)
	}
	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to join room %s: %w", room, err)
	}
	conn.SetReadLimit(readLimit)

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, env Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		return fmt.Errorf("failed to send envelope: %w", err)
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) (Envelope, error) {
	var env Envelope
	if err := wsjson.Read(ctx, c.conn, &env); err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return Envelope{}, ErrClosed
		}
		return Envelope{}, err
	}
	return env, nil
}

func (c *wsConn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	var closeErr websocket.CloseError
	if err != nil && !errors.As(err, &closeErr) {
		return err
	}
	return nil
}
