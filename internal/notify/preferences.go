// Package notify delivers user-facing notifications about list, wish and
// collaborator activity, gated by the user's stored preferences.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kerhoff/wishsync/internal/localstore"
	"github.com/Kerhoff/wishsync/internal/models"
)

// Preferences holds the notification preferences persisted under
// notification-storage
type Preferences struct {
	durable localstore.Store

	mu    sync.RWMutex
	prefs models.NotificationPreferences
}

// LoadPreferences reads the stored preferences, falling back to the defaults
func LoadPreferences(ctx context.Context, durable localstore.Store) (*Preferences, error) {
	p := &Preferences{durable: durable, prefs: models.DefaultNotificationPreferences()}

	var stored models.NotificationPreferences
	ok, err := durable.Get(ctx, localstore.KeyNotifications, &stored)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification preferences: %w", err)
	}
	if ok {
		p.prefs = stored
	}
	return p, nil
}

// Get returns the current preferences
func (p *Preferences) Get() models.NotificationPreferences {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.prefs
}

// Update applies patch and persists the result
func (p *Preferences) Update(ctx context.Context, patch models.NotificationPreferencesPatch) (models.NotificationPreferences, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.prefs
	patch.Apply(&next)
	if err := p.durable.Put(ctx, localstore.KeyNotifications, next); err != nil {
		return p.prefs, fmt.Errorf("failed to save notification preferences: %w", err)
	}
	p.prefs = next
	return next, nil
}

// allows reports whether events of kind may be shown at all
func allows(prefs models.NotificationPreferences, kind Kind) bool {
	switch kind {
	case KindListChange:
		return prefs.ListChanges
	case KindWishUpdate:
		return prefs.WishUpdates
	case KindCollaboratorActivity:
		return prefs.CollaboratorActivity
	default:
		return true
	}
}
