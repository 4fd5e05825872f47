// Package memory implements the remote repositories in process. It backs
// `serve --in-memory` and tests that need a working remote store without
// Postgres.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/repository"
)

// Store holds every table
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	profiles map[string]*models.Profile
	lists    map[string]*models.WishList
	wishes   map[string]*models.Wish
}

// New creates an empty store
func New() *Store {
	return &Store{
		accounts: make(map[string]*models.Account),
		profiles: make(map[string]*models.Profile),
		lists:    make(map[string]*models.WishList),
		wishes:   make(map[string]*models.Wish),
	}
}

// Accounts returns the account table
func (s *Store) Accounts() repository.AccountRepository { return accounts{s} }

// Profiles returns the profile table
func (s *Store) Profiles() repository.ProfileRepository { return profiles{s} }

// Lists returns the list table
func (s *Store) Lists() repository.ListRepository { return lists{s} }

// Wishes returns the wish table
func (s *Store) Wishes() repository.WishRepository { return wishes{s} }

func notWritable(op string) error {
	return apperr.RemoteWrite(op, fmt.Errorf("row not found or not writable"))
}

type accounts struct{ *Store }

func (r accounts) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(account.Email)
	for _, a := range r.accounts {
		if a.Email == email {
			return nil, apperr.Auth("create account",
				"this email is already registered, please try logging in instead", nil)
		}
	}
	created := *account
	created.ID = uuid.NewString()
	created.Email = email
	created.CreatedAt = time.Now().UTC()
	r.accounts[created.ID] = &created
	out := created
	return &out, nil
}

func (r accounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = strings.ToLower(email)
	for _, a := range r.accounts {
		if a.Email == email {
			out := *a
			return &out, nil
		}
	}
	return nil, nil
}

func (r accounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	out := *a
	return &out, nil
}

func (r accounts) ConfirmEmail(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, apperr.NotFound("confirm email", "account")
	}
	if a.EmailConfirmedAt == nil {
		now := time.Now().UTC()
		a.EmailConfirmedAt = &now
	}
	out := *a
	return &out, nil
}

type profiles struct{ *Store }

func (r profiles) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (r profiles) Create(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profile.ID]; ok {
		return nil, fmt.Errorf("failed to create profile: %s already exists", profile.ID)
	}
	created := *profile
	created.UpdatedAt = time.Now().UTC()
	r.profiles[created.ID] = &created
	out := created
	return &out, nil
}

func (r profiles) Update(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profile.ID]; !ok {
		return nil, notWritable("update profile")
	}
	updated := *profile
	updated.UpdatedAt = time.Now().UTC()
	r.profiles[updated.ID] = &updated
	out := updated
	return &out, nil
}

type lists struct{ *Store }

func (r lists) Create(ctx context.Context, list *models.WishList) (*models.WishList, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := list.Clone()
	created.ID = uuid.NewString()
	created.CreatedAt = time.Now().UTC()
	created.Revision = 1
	r.lists[created.ID] = created
	return created.Clone(), nil
}

func (r lists) Update(ctx context.Context, id string, patch models.ListPatch) (int64, error) {
	if patch.IsEmpty() {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lists[id]
	if !ok {
		return 0, notWritable("update wish list")
	}
	patch.Apply(l)
	now := time.Now().UTC()
	l.LastModified = &now
	l.Revision++
	return l.Revision, nil
}

func (r lists) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lists[id]; !ok {
		return notWritable("delete wish list")
	}
	delete(r.lists, id)
	return nil
}

func (r lists) GetByID(ctx context.Context, id string) (*models.WishList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lists[id]
	if !ok {
		return nil, nil
	}
	return l.Clone(), nil
}

func (r lists) GetByUser(ctx context.Context, userID string) ([]*models.WishList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.WishList
	for _, l := range r.lists {
		if l.UserID == userID {
			out = append(out, l.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.WishList) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

type wishes struct{ *Store }

func (r wishes) Create(ctx context.Context, wish *models.Wish) (*models.Wish, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := wish.Clone()
	created.ID = uuid.NewString()
	created.CreatedAt = time.Now().UTC()
	created.Revision = 1
	r.wishes[created.ID] = created
	return created.Clone(), nil
}

func (r wishes) Update(ctx context.Context, id string, patch models.WishPatch) (int64, error) {
	if patch.IsEmpty() {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wishes[id]
	if !ok {
		return 0, notWritable("update wish")
	}
	patch.Apply(w)
	w.Revision++
	return w.Revision, nil
}

func (r wishes) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wishes[id]; !ok {
		return notWritable("delete wish")
	}
	delete(r.wishes, id)
	return nil
}

func (r wishes) GetByList(ctx context.Context, listID string) ([]*models.Wish, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Wish
	for _, w := range r.wishes {
		if w.InList(listID) {
			out = append(out, w.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Wish) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}
