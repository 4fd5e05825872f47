package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/localstore"
	"github.com/Kerhoff/wishsync/internal/metrics"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/repository"
)

type wishState struct {
	Wishes []*models.Wish `json:"wishes"`
}

// Wishes is the wish cache
type Wishes struct {
	repo     repository.WishRepository
	identity Identity
	durable  localstore.Store
	logger   *logrus.Logger

	mu     sync.RWMutex
	wishes []*models.Wish

	changes listeners
}

// NewWishes creates an empty wish cache. Call Load to restore persisted wishes.
func NewWishes(repo repository.WishRepository, identity Identity, durable localstore.Store, logger *logrus.Logger) *Wishes {
	return &Wishes{
		repo:     repo,
		identity: identity,
		durable:  durable,
		logger:   logger,
	}
}

// Load restores the cache from durable storage
func (s *Wishes) Load(ctx context.Context) error {
	var st wishState
	if _, err := s.durable.Get(ctx, localstore.KeyWishStorage, &st); err != nil {
		return err
	}

	s.mu.Lock()
	s.wishes = st.Wishes
	s.mu.Unlock()
	return nil
}

// OnChange registers fn for local mutations and returns a function that
// removes it
func (s *Wishes) OnChange(fn func(Change)) func() {
	return s.changes.add(fn)
}

func (s *Wishes) persist(ctx context.Context) {
	s.mu.RLock()
	st := wishState{Wishes: make([]*models.Wish, len(s.wishes))}
	copy(st.Wishes, s.wishes)
	err := s.durable.Put(ctx, localstore.KeyWishStorage, st)
	s.mu.RUnlock()

	if err != nil {
		s.logger.WithError(err).Warn("Failed to persist wishes")
	}
}

func (s *Wishes) indexOf(id string) int {
	return slices.IndexFunc(s.wishes, func(w *models.Wish) bool { return w.ID == id })
}

func listIDOf(w *models.Wish) string {
	if w == nil || w.ListID == nil {
		return ""
	}
	return *w.ListID
}

// Get returns a copy of the cached wish
func (s *Wishes) Get(id string) (*models.Wish, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.wishes[i].Clone(), true
	}
	return nil, false
}

// All returns copies of every cached wish
func (s *Wishes) All() []*models.Wish {
	return s.filter(func(*models.Wish) bool { return true })
}

// Favorites returns the cached wishes marked favorite
func (s *Wishes) Favorites() []*models.Wish {
	return s.filter(func(w *models.Wish) bool { return w.IsFavorite })
}

// InList returns the cached wishes assigned to listID
func (s *Wishes) InList(listID string) []*models.Wish {
	return s.filter(func(w *models.Wish) bool { return w.InList(listID) })
}

func (s *Wishes) filter(keep func(*models.Wish) bool) []*models.Wish {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Wish
	for _, w := range s.wishes {
		if keep(w) {
			out = append(out, w.Clone())
		}
	}
	return out
}

// Add creates a wish. Guest and placeholder sessions get a local id and never
// reach the remote store; remote-backed sessions insert remotely first and
// cache the remote row.
func (s *Wishes) Add(ctx context.Context, in models.Wish) (*models.Wish, error) {
	snap := s.identity.Snapshot()
	if !hasSession(snap) {
		return nil, apperr.Permission("add wish", "log in or continue as a guest to create a wish")
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, apperr.Validation("add wish", "wish title is required")
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return nil, apperr.Validation("add wish", "unknown priority")
	}
	if in.Status != "" && !in.Status.Valid() {
		return nil, apperr.Validation("add wish", "unknown status")
	}

	wish := in.Clone()
	wish.ApplyDefaults()
	wish.UserID = snap.UserID()
	wish.Revision = 0
	log := s.logger.WithFields(logrus.Fields{"user_id": wish.UserID, "list_id": listIDOf(wish)})

	if s.identity.IsRemoteBacked() {
		created, err := s.repo.Create(ctx, wish)
		metrics.ObserveRemote("wishes", "insert", err)
		if err != nil {
			log.WithError(err).Error("Failed to create wish remotely")
			return nil, err
		}
		wish = created
	} else {
		s.mu.RLock()
		wish.ID = localID(snap, KindWish, func(id string) bool { return s.indexOf(id) >= 0 })
		s.mu.RUnlock()
		wish.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.wishes = append(s.wishes, wish.Clone())
	s.mu.Unlock()
	s.persist(ctx)

	log.WithField("wish_id", wish.ID).Info("Wish created")
	s.changes.emit(Change{Kind: KindWish, Op: OpUpsert, ID: wish.ID, ListID: listIDOf(wish), Wish: wish.Clone()})
	return wish, nil
}

// Update applies patch locally, then pushes it remotely when the session is
// remote-backed. A remote failure is logged and the local edit kept.
func (s *Wishes) Update(ctx context.Context, id string, patch models.WishPatch) (*models.Wish, error) {
	if !hasSession(s.identity.Snapshot()) {
		return nil, apperr.Permission("update wish", "no active session")
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, apperr.Validation("update wish", "unknown priority")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperr.Validation("update wish", "unknown status")
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, apperr.Validation("update wish", "wish title is required")
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, apperr.NotFound("update wish", "wish")
	}
	previousList := listIDOf(s.wishes[i])
	patch.Apply(s.wishes[i])
	updated := s.wishes[i].Clone()
	s.mu.Unlock()

	if patch.IsEmpty() {
		return updated, nil
	}
	s.persist(ctx)

	if syncsRemotely(s.identity, id) {
		revision, err := s.repo.Update(ctx, id, patch)
		metrics.ObserveRemote("wishes", "update", err)
		if err != nil {
			s.logger.WithError(err).WithField("wish_id", id).Warn("Failed to push wish update, keeping local change")
		} else {
			updated = s.setRevision(ctx, id, revision, updated)
		}
	}

	// emitted after the push so collaborators receive the remote revision
	s.changes.emit(Change{Kind: KindWish, Op: OpUpsert, ID: id, ListID: listIDOf(updated), Wish: updated.Clone()})
	if previousList != "" && previousList != listIDOf(updated) {
		// peers on the old list see the wish leave
		s.changes.emit(Change{Kind: KindWish, Op: OpDelete, ID: id, ListID: previousList})
	}
	return updated, nil
}

// setRevision records the revision the remote store assigned to id
func (s *Wishes) setRevision(ctx context.Context, id string, revision int64, fallback *models.Wish) *models.Wish {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return fallback
	}
	s.wishes[i].Revision = revision
	out := s.wishes[i].Clone()
	s.mu.Unlock()
	s.persist(ctx)
	return out
}

// Delete removes the wish locally, then remotely when remote-backed
func (s *Wishes) Delete(ctx context.Context, id string) error {
	if !hasSession(s.identity.Snapshot()) {
		return apperr.Permission("delete wish", "no active session")
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return apperr.NotFound("delete wish", "wish")
	}
	listID := listIDOf(s.wishes[i])
	s.wishes = slices.Delete(s.wishes, i, i+1)
	s.mu.Unlock()
	s.persist(ctx)
	s.changes.emit(Change{Kind: KindWish, Op: OpDelete, ID: id, ListID: listID})

	if syncsRemotely(s.identity, id) {
		err := s.repo.Delete(ctx, id)
		metrics.ObserveRemote("wishes", "delete", err)
		if err != nil {
			s.logger.WithError(err).WithField("wish_id", id).Warn("Failed to delete wish remotely, keeping local removal")
		}
	}

	s.logger.WithField("wish_id", id).Info("Wish deleted")
	return nil
}

// Move reassigns the wish to targetListID; an empty target unassigns it.
// It follows the same sync policy as Update.
func (s *Wishes) Move(ctx context.Context, id, targetListID string) (*models.Wish, error) {
	if targetListID == "" {
		return s.Update(ctx, id, models.WishPatch{ClearListID: true})
	}
	return s.Update(ctx, id, models.WishPatch{ListID: &targetListID})
}

// ToggleFavorite flips the favorite flag. It follows the same sync policy as
// Update.
func (s *Wishes) ToggleFavorite(ctx context.Context, id string) (*models.Wish, error) {
	current, ok := s.Get(id)
	if !ok {
		return nil, apperr.NotFound("toggle favorite", "wish")
	}
	return s.Update(ctx, id, models.WishPatch{IsFavorite: models.Ptr(!current.IsFavorite)})
}

// Query returns the wishes of listID. Guest and placeholder sessions read the
// cache only. Remote-backed sessions fetch from the remote store and replace
// the cached wishes of that list, leaving wishes of other lists untouched.
// When the fetch fails the cached wishes are returned with the error.
func (s *Wishes) Query(ctx context.Context, listID string) ([]*models.Wish, error) {
	if !s.identity.IsRemoteBacked() || IsLocalID(listID) {
		return s.InList(listID), nil
	}

	fetched, err := s.repo.GetByList(ctx, listID)
	metrics.ObserveRemote("wishes", "select", err)
	if err != nil {
		s.logger.WithError(err).WithField("list_id", listID).Warn("Failed to fetch wishes, serving cached copy")
		return s.InList(listID), err
	}

	s.mu.Lock()
	kept := make([]*models.Wish, 0, len(s.wishes)+len(fetched))
	for _, w := range s.wishes {
		if !w.InList(listID) || IsLocalID(w.ID) {
			kept = append(kept, w)
		}
	}
	// a fetched wish replaces any cached copy, whatever list it was in
	kept = slices.DeleteFunc(kept, func(w *models.Wish) bool {
		return slices.ContainsFunc(fetched, func(f *models.Wish) bool { return f.ID == w.ID })
	})
	out := make([]*models.Wish, 0, len(fetched))
	for _, f := range fetched {
		kept = append(kept, f.Clone())
		out = append(out, f.Clone())
	}
	s.wishes = kept
	s.mu.Unlock()
	s.persist(ctx)

	return out, nil
}

// ApplyRemoteUpsert caches a wish received from a collaborator unless the
// cached copy carries a newer revision. It is local only.
func (s *Wishes) ApplyRemoteUpsert(ctx context.Context, wish *models.Wish) bool {
	s.mu.Lock()
	if i := s.indexOf(wish.ID); i >= 0 {
		if s.wishes[i].Revision > wish.Revision {
			s.mu.Unlock()
			return false
		}
		s.wishes[i] = wish.Clone()
	} else {
		s.wishes = append(s.wishes, wish.Clone())
	}
	s.mu.Unlock()
	s.persist(ctx)
	return true
}

// ApplyRemoteDelete drops a wish deleted by a collaborator. It is local only.
func (s *Wishes) ApplyRemoteDelete(ctx context.Context, id string) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.wishes = slices.Delete(s.wishes, i, i+1)
	s.mu.Unlock()
	s.persist(ctx)
	return true
}
