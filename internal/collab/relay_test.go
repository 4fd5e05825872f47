package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/wishsync/internal/models"
)

func startRelay(t *testing.T) (*Relay, *httptest.Server, *WebsocketTransport) {
	t.Helper()
	relay := NewRelay(0, testLogger())
	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(func() {
		_ = relay.Stop()
		srv.Close()
	})
	return relay, srv, &WebsocketTransport{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func receive(t *testing.T, conn Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	env, err := conn.Receive(ctx)
	require.NoError(t, err)
	return env
}

func TestRelayFansOutWithinRoom(t *testing.T) {
	ctx := context.Background()
	relay, _, transport := startRelay(t)

	a, err := transport.Join(ctx, "list-L")
	require.NoError(t, err)
	defer a.Close()
	b, err := transport.Join(ctx, "list-L")
	require.NoError(t, err)
	defer b.Close()
	other, err := transport.Join(ctx, "list-M")
	require.NoError(t, err)
	defer other.Close()

	require.Eventually(t, func() bool { return relay.Members("list-L") == 2 }, waitFor, 10*time.Millisecond)

	sent := Envelope{Type: MessagePatch, Room: "list-L", Origin: "a", Clock: 3, Patch: &Patch{Kind: EntityWish, ID: "w1", Deleted: true}}
	require.NoError(t, a.Send(ctx, sent))

	got := receive(t, b)
	assert.Equal(t, MessagePatch, got.Type)
	assert.Equal(t, "a", got.Origin)
	assert.Equal(t, uint64(3), got.Clock)
	require.NotNil(t, got.Patch)
	assert.True(t, got.Patch.Deleted)

	// the other room never sees it
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = other.Receive(short)
	assert.Error(t, err)
}

func TestRelayAnnouncesLeave(t *testing.T) {
	ctx := context.Background()
	relay, _, transport := startRelay(t)

	a, err := transport.Join(ctx, "list-L")
	require.NoError(t, err)
	b, err := transport.Join(ctx, "list-L")
	require.NoError(t, err)
	defer b.Close()
	require.Eventually(t, func() bool { return relay.Members("list-L") == 2 }, waitFor, 10*time.Millisecond)

	require.NoError(t, a.Send(ctx, Envelope{Type: MessagePresence, Room: "list-L", Origin: "a", Presence: &Presence{UserID: "u1", Name: "Ann"}}))
	assert.Equal(t, MessagePresence, receive(t, b).Type)

	require.NoError(t, a.Close())

	got := receive(t, b)
	assert.Equal(t, MessageLeave, got.Type)
	assert.Equal(t, "a", got.Origin)
	assert.Equal(t, 1, relay.Members("list-L"))
}

func TestRelayChannelsSyncOverWebsocket(t *testing.T) {
	ctx := context.Background()
	_, _, transport := startRelay(t)
	alice, bob := newPeer(t, "guest-1", "Alice"), newPeer(t, "guest-2", "Bob")

	a := alice.open(t, transport, "L")
	bob.open(t, transport, "L")
	require.Eventually(t, func() bool { return len(a.Peers()) == 1 }, waitFor, 10*time.Millisecond)

	listID := "L"
	wish, err := alice.stores.Wishes.Add(ctx, models.Wish{Title: "Camera", ListID: &listID})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := bob.stores.Wishes.Get(wish.ID)
		return ok
	}, waitFor, 10*time.Millisecond)
}

func TestRelayRequiresRoom(t *testing.T) {
	_, srv, _ := startRelay(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRelayHealth(t *testing.T) {
	_, srv, _ := startRelay(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["clients"])
}
