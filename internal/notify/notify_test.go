package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/wishsync/internal/localstore"
	"github.com/Kerhoff/wishsync/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func openPreferences(t *testing.T) (*Preferences, *localstore.SQLite) {
	t.Helper()
	durable, err := localstore.OpenSession()
	require.NoError(t, err)
	t.Cleanup(func() { _ = durable.Close() })

	prefs, err := LoadPreferences(context.Background(), durable)
	require.NoError(t, err)
	return prefs, durable
}

func TestPreferencesDefaultsAndPersistence(t *testing.T) {
	ctx := context.Background()
	prefs, durable := openPreferences(t)
	assert.Equal(t, models.DefaultNotificationPreferences(), prefs.Get())

	push := true
	wishes := false
	got, err := prefs.Update(ctx, models.NotificationPreferencesPatch{Push: &push, WishUpdates: &wishes})
	require.NoError(t, err)
	assert.True(t, got.Push)
	assert.False(t, got.WishUpdates)
	assert.True(t, got.ListChanges)

	reloaded, err := LoadPreferences(ctx, durable)
	require.NoError(t, err)
	assert.Equal(t, got, reloaded.Get())
}

func TestDispatcherGatesByKind(t *testing.T) {
	ctx := context.Background()
	prefs, _ := openPreferences(t)
	logger, hook := test.NewNullLogger()
	d := NewDispatcher(prefs, logger)

	require.NoError(t, d.Notify(ctx, Event{Kind: KindWishUpdate, Title: "Wish added", Body: "Camera"}))
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "Camera", hook.LastEntry().Message)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	off := false
	_, err := prefs.Update(ctx, models.NotificationPreferencesPatch{WishUpdates: &off})
	require.NoError(t, err)
	hook.Reset()

	require.NoError(t, d.Notify(ctx, Event{Kind: KindWishUpdate, Title: "Wish added", Body: "Lamp"}))
	assert.Empty(t, hook.AllEntries())
}

func TestDispatcherPushSinkFollowsPushPreference(t *testing.T) {
	ctx := context.Background()
	prefs, _ := openPreferences(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d := NewDispatcher(prefs, logger)
	sink := &recordingSink{}
	d.AddPushSink(sink)

	require.NoError(t, d.Notify(ctx, Event{Kind: KindListChange, Title: "List renamed"}))
	assert.Empty(t, sink.events, "push is off by default")

	on := true
	_, err := prefs.Update(ctx, models.NotificationPreferencesPatch{Push: &on})
	require.NoError(t, err)

	require.NoError(t, d.Notify(ctx, Event{Kind: KindListChange, Title: "List renamed"}))
	require.Len(t, sink.events, 1)
	assert.False(t, sink.events[0].At.IsZero())
}

func TestDispatcherCollectsSinkErrors(t *testing.T) {
	ctx := context.Background()
	prefs, _ := openPreferences(t)
	on := true
	_, err := prefs.Update(ctx, models.NotificationPreferencesPatch{Push: &on})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d := NewDispatcher(prefs, logger)
	failing := &recordingSink{err: errors.New("chat not found")}
	healthy := &recordingSink{}
	d.AddPushSink(failing)
	d.AddPushSink(healthy)

	err = d.Notify(ctx, Event{Kind: KindCollaboratorActivity, Title: "Bob joined"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Len(t, healthy.events, 1)
}
