package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/auth"
	"github.com/Kerhoff/wishsync/internal/collab"
	"github.com/Kerhoff/wishsync/internal/discovery"
	"github.com/Kerhoff/wishsync/internal/localstore"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/notify"
	"github.com/Kerhoff/wishsync/internal/repository"
	"github.com/Kerhoff/wishsync/internal/session"
	"github.com/Kerhoff/wishsync/internal/store"
)

// Deps are the collaborators the application context is built from
type Deps struct {
	Provider     auth.Provider
	Profiles     repository.ProfileRepository
	Lists        repository.ListRepository
	Wishes       repository.WishRepository
	Durable      localstore.Store
	SessionStore localstore.Store
	Transport    collab.Transport
	Policy       session.LoginPolicy
	Catalog      *discovery.Catalog
	Scraper      *discovery.Scraper
	PushSinks    []notify.Sink
}

// confirmationSource is a Provider that hands out sign-up confirmation tokens
type confirmationSource interface {
	OnConfirmationIssued(fn func(auth.Confirmation)) func()
}

// Service is the application context: it owns the session, the entity
// caches, the collaboration channel and the notification pipeline, and is
// handed to every surface instead of process-wide singletons.
type Service struct {
	logger *logrus.Logger

	Session     *session.Manager
	Lists       *store.Lists
	Wishes      *store.Wishes
	Collab      *collab.Manager
	Catalog     *discovery.Catalog
	Scraper     *discovery.Scraper
	Preferences *notify.Preferences
	Notifier    *notify.Dispatcher

	events chan notify.Event
	stop   []func()

	mu          sync.Mutex
	collabOwner string
}

// New builds the application context and loads the cached entities
func New(ctx context.Context, deps Deps, logger *logrus.Logger) (*Service, error) {
	mgr := session.NewManager(deps.Provider, deps.Profiles, deps.Durable, deps.SessionStore, deps.Policy, logger)

	lists := store.NewLists(deps.Lists, mgr, deps.Durable, logger)
	if err := lists.Load(ctx); err != nil {
		mgr.Close()
		return nil, fmt.Errorf("failed to load lists: %w", err)
	}
	wishes := store.NewWishes(deps.Wishes, mgr, deps.Durable, logger)
	if err := wishes.Load(ctx); err != nil {
		mgr.Close()
		return nil, fmt.Errorf("failed to load wishes: %w", err)
	}

	prefs, err := notify.LoadPreferences(ctx, deps.Durable)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	dispatcher := notify.NewDispatcher(prefs, logger)
	for _, sink := range deps.PushSinks {
		dispatcher.AddPushSink(sink)
	}

	catalog := deps.Catalog
	if catalog == nil {
		catalog = discovery.NewCatalog(0)
	}

	s := &Service{
		logger:      logger,
		Session:     mgr,
		Lists:       lists,
		Wishes:      wishes,
		Catalog:     catalog,
		Scraper:     deps.Scraper,
		Preferences: prefs,
		Notifier:    dispatcher,
		events:      make(chan notify.Event, eventQueueSize),
	}

	transport := deps.Transport
	if transport == nil {
		transport = collab.NewMemoryHub()
	}
	s.Collab = collab.NewManager(transport, collab.Stores{Lists: lists, Wishes: wishes}, logger,
		collab.WithPeerHook(s.peerActivity))

	s.stop = []func(){
		mgr.Subscribe(s.sessionChanged),
		lists.OnChange(s.listChanged),
		wishes.OnChange(s.wishChanged),
	}
	if src, ok := deps.Provider.(confirmationSource); ok {
		s.stop = append(s.stop, src.OnConfirmationIssued(s.confirmationIssued))
	}
	return s, nil
}

// Restore rebuilds the persisted session
func (s *Service) Restore(ctx context.Context) (session.Snapshot, error) {
	return s.Session.Restore(ctx)
}

// OpenCollaboration joins the realtime room of a list the current user can
// see. Any other open list is closed first.
func (s *Service) OpenCollaboration(ctx context.Context, listID string) (*collab.Channel, error) {
	snap := s.Session.Snapshot()
	if snap.User == nil {
		return nil, apperr.Permission("open collaboration", "log in or continue as a guest to collaborate")
	}
	// lists shared by other users are loaded on first open
	if _, err := s.Lists.Fetch(ctx, listID); err != nil {
		return nil, err
	}

	ch, err := s.Collab.Open(ctx, listID, snap.User)
	if err != nil {
		return nil, apperr.Network("open collaboration", err)
	}
	s.mu.Lock()
	s.collabOwner = snap.User.ID
	s.mu.Unlock()
	return ch, nil
}

// CloseCollaboration leaves the room of listID
func (s *Service) CloseCollaboration(listID string) error {
	return s.Collab.Close(listID)
}

// Collaborators returns the peers on listID's open channel
func (s *Service) Collaborators(listID string) ([]models.Collaborator, error) {
	ch, ok := s.Collab.Get(listID)
	if !ok {
		return nil, apperr.NotFound("list collaborators", "open collaboration")
	}
	return ch.Peers(), nil
}

// sessionChanged closes the open channel once its owner is gone
func (s *Service) sessionChanged(snap session.Snapshot) {
	s.mu.Lock()
	owner := s.collabOwner
	if owner == "" || snap.UserID() == owner {
		s.mu.Unlock()
		return
	}
	s.collabOwner = ""
	s.mu.Unlock()

	if err := s.Collab.CloseAll(); err != nil {
		s.logger.WithError(err).Warn("Failed to close collaboration after session change")
	}
}

// Close releases the channel, the listeners and the session
func (s *Service) Close() error {
	for _, stop := range s.stop {
		stop()
	}

	var result *multierror.Error
	if err := s.Collab.CloseAll(); err != nil {
		result = multierror.Append(result, err)
	}
	s.Session.Close()
	return result.ErrorOrNil()
}
