package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/localstore"
	"github.com/Kerhoff/wishsync/internal/metrics"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/repository"
)

type listState struct {
	Lists []*models.WishList `json:"lists"`
}

// Lists is the wish list cache
type Lists struct {
	repo     repository.ListRepository
	identity Identity
	durable  localstore.Store
	logger   *logrus.Logger

	mu    sync.RWMutex
	lists []*models.WishList

	changes listeners
}

// NewLists creates an empty list cache. Call Load to restore persisted lists.
func NewLists(repo repository.ListRepository, identity Identity, durable localstore.Store, logger *logrus.Logger) *Lists {
	return &Lists{
		repo:     repo,
		identity: identity,
		durable:  durable,
		logger:   logger,
	}
}

// Load restores the cache from durable storage
func (s *Lists) Load(ctx context.Context) error {
	var st listState
	if _, err := s.durable.Get(ctx, localstore.KeyListStorage, &st); err != nil {
		return err
	}

	s.mu.Lock()
	s.lists = st.Lists
	s.mu.Unlock()
	return nil
}

// OnChange registers fn for local mutations and returns a function that
// removes it
func (s *Lists) OnChange(fn func(Change)) func() {
	return s.changes.add(fn)
}

// persist writes the cache; the caller must not hold s.mu
func (s *Lists) persist(ctx context.Context) {
	s.mu.RLock()
	st := listState{Lists: make([]*models.WishList, len(s.lists))}
	copy(st.Lists, s.lists)
	err := s.durable.Put(ctx, localstore.KeyListStorage, st)
	s.mu.RUnlock()

	if err != nil {
		s.logger.WithError(err).Warn("Failed to persist lists")
	}
}

func (s *Lists) indexOf(id string) int {
	return slices.IndexFunc(s.lists, func(l *models.WishList) bool { return l.ID == id })
}

// Get returns a copy of the cached list
func (s *Lists) Get(id string) (*models.WishList, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.lists[i].Clone(), true
	}
	return nil, false
}

// All returns copies of every cached list
func (s *Lists) All() []*models.WishList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WishList, len(s.lists))
	for i, l := range s.lists {
		out[i] = l.Clone()
	}
	return out
}

// Add creates a list. Guest and placeholder sessions get a local id and never
// reach the remote store; remote-backed sessions insert remotely first and
// cache the remote row.
func (s *Lists) Add(ctx context.Context, in models.WishList) (*models.WishList, error) {
	snap := s.identity.Snapshot()
	if !hasSession(snap) {
		return nil, apperr.Permission("add list", "log in or continue as a guest to create a list")
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, apperr.Validation("add list", "list name is required")
	}

	list := in.Clone()
	list.ApplyDefaults()
	list.UserID = snap.UserID()
	list.Revision = 0
	log := s.logger.WithField("user_id", list.UserID)

	if s.identity.IsRemoteBacked() {
		created, err := s.repo.Create(ctx, list)
		metrics.ObserveRemote("lists", "insert", err)
		if err != nil {
			log.WithError(err).Error("Failed to create list remotely")
			return nil, err
		}
		list = created
	} else {
		s.mu.RLock()
		list.ID = localID(snap, KindList, func(id string) bool { return s.indexOf(id) >= 0 })
		s.mu.RUnlock()
		list.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.lists = append(s.lists, list.Clone())
	s.mu.Unlock()
	s.persist(ctx)

	log.WithField("list_id", list.ID).Info("List created")
	s.changes.emit(Change{Kind: KindList, Op: OpUpsert, ID: list.ID, ListID: list.ID, List: list.Clone()})
	return list, nil
}

// Update applies patch locally, then pushes it remotely when the session is
// remote-backed. A remote failure is logged and the local edit kept.
func (s *Lists) Update(ctx context.Context, id string, patch models.ListPatch) (*models.WishList, error) {
	if !hasSession(s.identity.Snapshot()) {
		return nil, apperr.Permission("update list", "no active session")
	}
	if patch.Visibility != nil && !patch.Visibility.Valid() {
		return nil, apperr.Validation("update list", "unknown visibility")
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return nil, apperr.Validation("update list", "unknown list type")
	}

	now := time.Now().UTC()
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, apperr.NotFound("update list", "list")
	}
	if !patch.IsEmpty() {
		patch.Apply(s.lists[i])
		s.lists[i].LastModified = &now
	}
	updated := s.lists[i].Clone()
	s.mu.Unlock()

	if patch.IsEmpty() {
		return updated, nil
	}
	s.persist(ctx)

	if syncsRemotely(s.identity, id) {
		revision, err := s.repo.Update(ctx, id, patch)
		metrics.ObserveRemote("lists", "update", err)
		if err != nil {
			s.logger.WithError(err).WithField("list_id", id).Warn("Failed to push list update, keeping local change")
		} else {
			updated = s.setRevision(ctx, id, revision, updated)
		}
	}

	// emitted after the push so collaborators receive the remote revision
	s.changes.emit(Change{Kind: KindList, Op: OpUpsert, ID: id, ListID: id, List: updated.Clone()})
	return updated, nil
}

// setRevision records the revision the remote store assigned to id
func (s *Lists) setRevision(ctx context.Context, id string, revision int64, fallback *models.WishList) *models.WishList {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return fallback
	}
	s.lists[i].Revision = revision
	out := s.lists[i].Clone()
	s.mu.Unlock()
	s.persist(ctx)
	return out
}

// Fetch returns the list from the cache, loading and caching it from the
// remote store when it is missing. A list owned by someone else is returned
// only when it is not private or names the current user as a collaborator.
func (s *Lists) Fetch(ctx context.Context, id string) (*models.WishList, error) {
	if list, ok := s.Get(id); ok {
		return list, nil
	}

	snap := s.identity.Snapshot()
	if !hasSession(snap) {
		return nil, apperr.Permission("fetch list", "no active session")
	}
	if !s.identity.IsRemoteBacked() || IsLocalID(id) {
		return nil, apperr.NotFound("fetch list", "list")
	}

	list, err := s.repo.GetByID(ctx, id)
	metrics.ObserveRemote("lists", "select", err)
	if err != nil {
		s.logger.WithError(err).WithField("list_id", id).Warn("Failed to fetch list")
		return nil, err
	}
	if list == nil {
		return nil, apperr.NotFound("fetch list", "list")
	}
	if !canOpen(list, snap.UserID()) {
		return nil, apperr.Permission("fetch list", "this list is private")
	}

	s.ApplyRemoteUpsert(ctx, list)
	s.logger.WithFields(logrus.Fields{"list_id": id, "owner_id": list.UserID}).Debug("Cached list fetched by id")
	return list.Clone(), nil
}

func canOpen(list *models.WishList, userID string) bool {
	return list.UserID == userID ||
		list.Visibility != models.VisibilityPrivate ||
		slices.Contains(list.Collaborators, userID)
}

// Delete removes the list locally, then remotely when remote-backed. Wishes
// that referenced it keep their now dangling list id.
func (s *Lists) Delete(ctx context.Context, id string) error {
	if !hasSession(s.identity.Snapshot()) {
		return apperr.Permission("delete list", "no active session")
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return apperr.NotFound("delete list", "list")
	}
	s.lists = slices.Delete(s.lists, i, i+1)
	s.mu.Unlock()
	s.persist(ctx)
	s.changes.emit(Change{Kind: KindList, Op: OpDelete, ID: id, ListID: id})

	if syncsRemotely(s.identity, id) {
		err := s.repo.Delete(ctx, id)
		metrics.ObserveRemote("lists", "delete", err)
		if err != nil {
			s.logger.WithError(err).WithField("list_id", id).Warn("Failed to delete list remotely, keeping local removal")
		}
	}

	s.logger.WithField("list_id", id).Info("List deleted")
	return nil
}

// SetVisibility changes who can open the list. Public and shared lists get a
// fresh share token; private lists lose theirs.
func (s *Lists) SetVisibility(ctx context.Context, id string, v models.Visibility) (*models.WishList, error) {
	if !v.Valid() {
		return nil, apperr.Validation("set visibility", "unknown visibility")
	}

	token := ""
	if v != models.VisibilityPrivate {
		token = uuid.NewString()
	}
	return s.Update(ctx, id, models.ListPatch{Visibility: &v, ShareID: &token})
}

// QueryByUser returns the lists owned by userID. Guest and placeholder
// sessions read the cache only. Remote-backed sessions fetch from the remote
// store and replace the cached lists of that user, leaving every other
// cached list untouched. When the fetch fails the cached lists are returned
// with the error.
func (s *Lists) QueryByUser(ctx context.Context, userID string) ([]*models.WishList, error) {
	if !s.identity.IsRemoteBacked() {
		return s.cachedByUser(userID), nil
	}

	fetched, err := s.repo.GetByUser(ctx, userID)
	metrics.ObserveRemote("lists", "select", err)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to fetch lists, serving cached copy")
		return s.cachedByUser(userID), err
	}

	s.mu.Lock()
	stale := 0
	kept := make([]*models.WishList, 0, len(s.lists)+len(fetched))
	for _, l := range s.lists {
		if l.UserID != userID || IsLocalID(l.ID) {
			kept = append(kept, l)
			continue
		}
		if !slices.ContainsFunc(fetched, func(f *models.WishList) bool { return f.ID == l.ID }) {
			stale++
		}
	}
	out := make([]*models.WishList, 0, len(fetched))
	for _, f := range fetched {
		kept = append(kept, f.Clone())
		out = append(out, f.Clone())
	}
	s.lists = kept
	s.mu.Unlock()
	s.persist(ctx)

	if stale > 0 {
		s.logger.WithFields(logrus.Fields{"user_id": userID, "stale": stale}).Debug("Dropped lists deleted remotely")
	}
	return out, nil
}

func (s *Lists) cachedByUser(userID string) []*models.WishList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WishList
	for _, l := range s.lists {
		if l.UserID == userID {
			out = append(out, l.Clone())
		}
	}
	return out
}

// ApplyRemotePatch applies a list patch received from a collaborator. It is
// local only; the peer already persisted the change.
func (s *Lists) ApplyRemotePatch(ctx context.Context, id string, patch models.ListPatch) bool {
	if patch.IsEmpty() {
		return false
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	patch.Apply(s.lists[i])
	s.mu.Unlock()
	s.persist(ctx)
	return true
}

// ApplyRemoteUpsert caches a list received from a collaborator unless the
// cached copy carries a newer revision
func (s *Lists) ApplyRemoteUpsert(ctx context.Context, list *models.WishList) bool {
	s.mu.Lock()
	if i := s.indexOf(list.ID); i >= 0 {
		if s.lists[i].Revision > list.Revision {
			s.mu.Unlock()
			return false
		}
		s.lists[i] = list.Clone()
	} else {
		s.lists = append(s.lists, list.Clone())
	}
	s.mu.Unlock()
	s.persist(ctx)
	return true
}

// ApplyRemoteDelete drops a list deleted by a collaborator
func (s *Lists) ApplyRemoteDelete(ctx context.Context, id string) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.lists = slices.Delete(s.lists, i, i+1)
	s.mu.Unlock()
	s.persist(ctx)
	return true
}
