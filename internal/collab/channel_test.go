package collab

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/wishsync/internal/localstore"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/repository/memory"
	"github.com/Kerhoff/wishsync/internal/session"
	"github.com/Kerhoff/wishsync/internal/store"
)

const waitFor = 2 * time.Second

type guestIdentity struct {
	user *models.User
}

func (g guestIdentity) Snapshot() session.Snapshot {
	return session.Snapshot{State: session.StateGuest, User: g.user}
}

func (g guestIdentity) IsRemoteBacked() bool { return false }

type memberIdentity struct {
	user *models.User
}

func (m memberIdentity) Snapshot() session.Snapshot {
	return session.Snapshot{State: session.StateAuthenticated, User: m.user}
}

func (m memberIdentity) IsRemoteBacked() bool { return true }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// peer is one agent with its own guest caches
type peer struct {
	user   *models.User
	stores Stores
}

func newPeer(t *testing.T, id, name string) *peer {
	t.Helper()
	durable, err := localstore.OpenSession()
	require.NoError(t, err)
	t.Cleanup(func() { _ = durable.Close() })

	user := &models.User{ID: id, Name: name}
	identity := guestIdentity{user: user}
	return &peer{
		user: user,
		stores: Stores{
			Lists:  store.NewLists(nil, identity, durable, testLogger()),
			Wishes: store.NewWishes(nil, identity, durable, testLogger()),
		},
	}
}

// newMember is an authenticated agent whose caches push to remote
func newMember(t *testing.T, remote *memory.Store, id, name string) *peer {
	t.Helper()
	durable, err := localstore.OpenSession()
	require.NoError(t, err)
	t.Cleanup(func() { _ = durable.Close() })

	user := &models.User{ID: id, Name: name}
	identity := memberIdentity{user: user}
	return &peer{
		user: user,
		stores: Stores{
			Lists:  store.NewLists(remote.Lists(), identity, durable, testLogger()),
			Wishes: store.NewWishes(remote.Wishes(), identity, durable, testLogger()),
		},
	}
}

func (p *peer) open(t *testing.T, transport Transport, listID string) *Channel {
	t.Helper()
	ch, err := Open(context.Background(), transport, listID, p.user, p.stores, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestChannelPresence(t *testing.T) {
	hub := NewMemoryHub()
	alice, bob := newPeer(t, "guest-1", "Alice"), newPeer(t, "guest-2", "Bob")

	a := alice.open(t, hub, "L")
	b := bob.open(t, hub, "L")
	assert.Equal(t, 2, hub.Members(RoomName("L")))

	require.Eventually(t, func() bool { return len(a.Peers()) == 1 && len(b.Peers()) == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, "Bob", a.Peers()[0].Name)
	assert.Equal(t, "Alice", b.Peers()[0].Name)
	assert.True(t, b.Peers()[0].IsActive)
	assert.Regexp(t, `^#[0-9a-f]{6}$`, a.Peers()[0].Color)

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return len(a.Peers()) == 0 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, 1, hub.Members(RoomName("L")))
}

func TestChannelForwardsWishChanges(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	alice, bob := newPeer(t, "guest-1", "Alice"), newPeer(t, "guest-2", "Bob")
	alice.open(t, hub, "L")
	bob.open(t, hub, "L")

	listID := "L"
	wish, err := alice.stores.Wishes.Add(ctx, models.Wish{Title: "Headphones", Price: "99.99", ListID: &listID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := bob.stores.Wishes.Get(wish.ID)
		return ok
	}, waitFor, 10*time.Millisecond)
	got, _ := bob.stores.Wishes.Get(wish.ID)
	assert.Equal(t, "Headphones", got.Title)
	assert.True(t, got.InList("L"))

	require.NoError(t, alice.stores.Wishes.Delete(ctx, wish.ID))
	require.Eventually(t, func() bool {
		_, ok := bob.stores.Wishes.Get(wish.ID)
		return !ok
	}, waitFor, 10*time.Millisecond)
}

func TestChannelRemoteBackedEditsConverge(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	remote := memory.New()
	alice := newMember(t, remote, "u-alice", "Alice")
	bob := newMember(t, remote, "u-bob", "Bob")
	alice.open(t, hub, "L")
	bob.open(t, hub, "L")

	listID := "L"
	wish, err := alice.stores.Wishes.Add(ctx, models.Wish{Title: "Lamp", ListID: &listID})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := bob.stores.Wishes.Get(wish.ID)
		return ok
	}, waitFor, 10*time.Millisecond)

	titleOf := func(p *peer) string {
		w, ok := p.stores.Wishes.Get(wish.ID)
		if !ok {
			return ""
		}
		return w.Title
	}

	_, err = alice.stores.Wishes.Update(ctx, wish.ID, models.WishPatch{Title: models.Ptr("A1")})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return titleOf(bob) == "A1" }, waitFor, 10*time.Millisecond)

	_, err = bob.stores.Wishes.Update(ctx, wish.ID, models.WishPatch{Title: models.Ptr("B1")})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return titleOf(alice) == "B1" }, waitFor, 10*time.Millisecond)

	a, _ := alice.stores.Wishes.Get(wish.ID)
	b, _ := bob.stores.Wishes.Get(wish.ID)
	assert.Equal(t, int64(3), a.Revision)
	assert.Equal(t, a.Revision, b.Revision)
}

func TestChannelIgnoresOtherLists(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	alice, bob := newPeer(t, "guest-1", "Alice"), newPeer(t, "guest-2", "Bob")
	alice.open(t, hub, "L")
	bob.open(t, hub, "L")

	other := "M"
	_, err := alice.stores.Wishes.Add(ctx, models.Wish{Title: "Elsewhere", ListID: &other})
	require.NoError(t, err)
	onList := "L"
	marker, err := alice.stores.Wishes.Add(ctx, models.Wish{Title: "Here", ListID: &onList})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := bob.stores.Wishes.Get(marker.ID)
		return ok
	}, waitFor, 10*time.Millisecond)
	assert.Len(t, bob.stores.Wishes.All(), 1)
}

func TestChannelAppliesInboundPatches(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	bob := newPeer(t, "guest-2", "Bob")

	list, err := bob.stores.Lists.Add(ctx, models.WishList{Name: "Birthday"})
	require.NoError(t, err)
	listID := list.ID
	w1, err := bob.stores.Wishes.Add(ctx, models.Wish{Title: "Lamp", ListID: &listID})
	require.NoError(t, err)

	bob.open(t, hub, listID)
	remote, err := hub.Join(ctx, RoomName(listID))
	require.NoError(t, err)
	defer remote.Close()

	require.NoError(t, remote.Send(ctx, Envelope{
		Type: MessagePatch, Room: RoomName(listID), Origin: "remote", Clock: 100,
		Patch: &Patch{Kind: EntityWish, ID: w1.ID, Deleted: true},
	}))
	require.Eventually(t, func() bool {
		_, ok := bob.stores.Wishes.Get(w1.ID)
		return !ok
	}, waitFor, 10*time.Millisecond)

	renamed := "Party"
	require.NoError(t, remote.Send(ctx, Envelope{
		Type: MessagePatch, Room: RoomName(listID), Origin: "remote", Clock: 101,
		Patch: &Patch{Kind: EntityList, ID: listID, List: &models.ListPatch{Name: &renamed}},
	}))
	require.Eventually(t, func() bool {
		l, ok := bob.stores.Lists.Get(listID)
		return ok && l.Name == "Party"
	}, waitFor, 10*time.Millisecond)
}

func TestChannelDropsSupersededPatch(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	bob := newPeer(t, "guest-2", "Bob")
	bob.open(t, hub, "L")

	remote, err := hub.Join(ctx, RoomName("L"))
	require.NoError(t, err)
	defer remote.Close()

	listID := "L"
	send := func(clock uint64, title string) {
		require.NoError(t, remote.Send(ctx, Envelope{
			Type: MessagePatch, Room: RoomName("L"), Origin: "remote", Clock: clock,
			Patch: &Patch{Kind: EntityWish, ID: "w", Wish: &models.Wish{Title: title, ListID: &listID}},
		}))
	}
	send(10, "new")
	send(5, "stale")
	send(11, "marker")

	require.Eventually(t, func() bool {
		w, ok := bob.stores.Wishes.Get("w")
		return ok && w.Title == "marker"
	}, waitFor, 10*time.Millisecond)
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	hub := NewMemoryHub()
	alice := newPeer(t, "guest-1", "Alice")

	ch, err := Open(context.Background(), hub, "L", alice.user, alice.stores, testLogger())
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.Zero(t, hub.Members(RoomName("L")))

	// listeners are released: local changes no longer reach the outbox
	queued := len(ch.outbox)
	listID := "L"
	_, err = alice.stores.Wishes.Add(context.Background(), models.Wish{Title: "After", ListID: &listID})
	require.NoError(t, err)
	assert.Equal(t, queued, len(ch.outbox))
}

func TestOpenRequiresUser(t *testing.T) {
	_, err := Open(context.Background(), NewMemoryHub(), "L", nil, Stores{}, testLogger())
	assert.Error(t, err)
}

func TestChannelPeerHook(t *testing.T) {
	hub := NewMemoryHub()
	alice, bob := newPeer(t, "guest-1", "Alice"), newPeer(t, "guest-2", "Bob")

	type seen struct {
		name   string
		joined bool
	}
	events := make(chan seen, 4)
	hook := WithPeerHook(func(listID string, peer models.Collaborator, joined bool) {
		assert.Equal(t, "L", listID)
		events <- seen{peer.Name, joined}
	})

	a, err := Open(context.Background(), hub, "L", alice.user, alice.stores, testLogger(), hook)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := Open(context.Background(), hub, "L", bob.user, bob.stores, testLogger())
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, seen{"Bob", true}, ev)
	case <-time.After(waitFor):
		t.Fatal("join not observed")
	}

	require.NoError(t, b.Close())
	select {
	case ev := <-events:
		assert.Equal(t, seen{"Bob", false}, ev)
	case <-time.After(waitFor):
		t.Fatal("leave not observed")
	}
}
