// Package store is the entity cache for wish lists and wishes. It is the
// source of truth the presentation layer renders from: every mutation is
// applied locally first, persisted to durable storage, and pushed to the
// remote store when the session is remote-backed. Remote failures are logged
// and never roll back a local mutation.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/session"
)

// Identity is the session view the store consults before every operation
type Identity interface {
	Snapshot() session.Snapshot
	IsRemoteBacked() bool
}

// EntityKind names the entity a change refers to
type EntityKind string

const (
	KindList EntityKind = "list"
	KindWish EntityKind = "wish"
)

// ChangeOp is the kind of local mutation
type ChangeOp string

const (
	OpUpsert ChangeOp = "upsert"
	OpDelete ChangeOp = "delete"
)

// Change describes a local mutation. List or Wish holds the entity after the
// change; both are nil for deletes.
type Change struct {
	Kind   EntityKind
	Op     ChangeOp
	ID     string
	ListID string
	List   *models.WishList
	Wish   *models.Wish
}

// listeners is a set of change callbacks
type listeners struct {
	mu   sync.Mutex
	fns  map[int]func(Change)
	next int
}

func (l *listeners) add(fn func(Change)) func() {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[int]func(Change))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(c Change) {
	l.mu.Lock()
	fns := make([]func(Change), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Local id prefixes. Entities carrying them never reach the remote store.
const (
	guestPrefix = "guest-"
	dummyPrefix = "dummy-"
)

// IsLocalID reports whether id was synthesized locally
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, guestPrefix) || strings.HasPrefix(id, dummyPrefix)
}

// localID builds "<guest|dummy>-<kind>-<ms>", bumping the timestamp until
// taken reports the id free
func localID(snap session.Snapshot, kind EntityKind, taken func(string) bool) string {
	prefix := "dummy"
	if snap.IsGuestMode() {
		prefix = "guest"
	}

	ms := time.Now().UnixMilli()
	for {
		id := fmt.Sprintf("%s-%s-%d", prefix, kind, ms)
		if !taken(id) {
			return id
		}
		ms++
	}
}

// hasSession reports whether the snapshot may create or mutate entities
func hasSession(snap session.Snapshot) bool {
	return snap.User != nil && (snap.IsGuestMode() || snap.IsAuthenticated())
}

// syncsRemotely reports whether a mutation of id should be pushed
func syncsRemotely(identity Identity, id string) bool {
	return identity.IsRemoteBacked() && !IsLocalID(id)
}
