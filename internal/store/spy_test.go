package store

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/wishsync/internal/localstore"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/session"
)

type stubIdentity struct {
	snap   session.Snapshot
	remote bool
}

func (s *stubIdentity) Snapshot() session.Snapshot { return s.snap }
func (s *stubIdentity) IsRemoteBacked() bool       { return s.remote }

func anonymous() *stubIdentity {
	return &stubIdentity{snap: session.Snapshot{State: session.StateAnonymous}}
}

func guest() *stubIdentity {
	return &stubIdentity{snap: session.Snapshot{
		State: session.StateGuest,
		User:  &models.User{ID: "guest-1700000000000", Name: "Guest"},
	}}
}

func placeholder() *stubIdentity {
	return &stubIdentity{snap: session.Snapshot{
		State:       session.StateAuthenticated,
		User:        &models.User{ID: "dummy-ann-example-com-1", Name: "ann"},
		Placeholder: true,
	}}
}

func authenticated(userID string) *stubIdentity {
	return &stubIdentity{
		snap:   session.Snapshot{State: session.StateAuthenticated, User: &models.User{ID: userID, Name: "Ann"}},
		remote: true,
	}
}

type spyUpdate[P any] struct {
	ID    string
	Patch P
}

// spyLists records every remote list call
type spyLists struct {
	mu      sync.Mutex
	seq     int
	creates []models.WishList
	updates []spyUpdate[models.ListPatch]
	deletes []string
	queries []string
	rows    []*models.WishList
	// revisions holds the remote revision of each row Update touched
	revisions map[string]int64

	createErr error
	updateErr error
	deleteErr error
	queryErr  error
}

func (s *spyLists) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creates) + len(s.updates) + len(s.deletes) + len(s.queries)
}

func (s *spyLists) Create(ctx context.Context, list *models.WishList) (*models.WishList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates = append(s.creates, *list.Clone())
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.seq++
	out := list.Clone()
	out.ID = fmt.Sprintf("remote-list-%d", s.seq)
	out.CreatedAt = time.Now().UTC()
	out.Revision = 1
	return out, nil
}

func (s *spyLists) Update(ctx context.Context, id string, patch models.ListPatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, spyUpdate[models.ListPatch]{ID: id, Patch: patch})
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	return nextRevision(&s.revisions, id), nil
}

func (s *spyLists) GetByID(ctx context.Context, id string) (*models.WishList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, id)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	for _, l := range s.rows {
		if l.ID == id {
			return l.Clone(), nil
		}
	}
	return nil, nil
}

// nextRevision bumps the recorded revision of id; rows start at revision 1
func nextRevision(revisions *map[string]int64, id string) int64 {
	if *revisions == nil {
		*revisions = make(map[string]int64)
	}
	if _, ok := (*revisions)[id]; !ok {
		(*revisions)[id] = 1
	}
	(*revisions)[id]++
	return (*revisions)[id]
}

func (s *spyLists) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	return s.deleteErr
}

func (s *spyLists) GetByUser(ctx context.Context, userID string) ([]*models.WishList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, userID)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []*models.WishList
	for _, l := range s.rows {
		if l.UserID == userID {
			out = append(out, l.Clone())
		}
	}
	return out, nil
}

// spyWishes records every remote wish call
type spyWishes struct {
	mu      sync.Mutex
	seq     int
	creates []models.Wish
	updates []spyUpdate[models.WishPatch]
	deletes []string
	queries []string
	rows    []*models.Wish
	// revisions holds the remote revision of each row Update touched
	revisions map[string]int64

	createErr error
	updateErr error
	deleteErr error
	queryErr  error
}

func (s *spyWishes) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creates) + len(s.updates) + len(s.deletes) + len(s.queries)
}

func (s *spyWishes) Create(ctx context.Context, wish *models.Wish) (*models.Wish, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates = append(s.creates, *wish.Clone())
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.seq++
	out := wish.Clone()
	out.ID = fmt.Sprintf("remote-wish-%d", s.seq)
	out.CreatedAt = time.Now().UTC()
	out.Revision = 1
	return out, nil
}

func (s *spyWishes) Update(ctx context.Context, id string, patch models.WishPatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, spyUpdate[models.WishPatch]{ID: id, Patch: patch})
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	return nextRevision(&s.revisions, id), nil
}

func (s *spyWishes) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	return s.deleteErr
}

func (s *spyWishes) GetByList(ctx context.Context, listID string) ([]*models.Wish, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, listID)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []*models.Wish
	for _, w := range s.rows {
		if w.InList(listID) {
			out = append(out, w.Clone())
		}
	}
	return out, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func openDurable(t *testing.T) *localstore.SQLite {
	t.Helper()
	db, err := localstore.OpenSession()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
