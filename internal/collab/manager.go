package collab

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/wishsync/internal/models"
)

// Manager keeps at most one open channel, the one of the list currently on
// screen. Opening another list closes the previous channel first.
type Manager struct {
	transport Transport
	stores    Stores
	logger    *logrus.Logger
	opts      []Option

	mu      sync.Mutex
	current *Channel
}

// NewManager creates a manager joining rooms through transport
func NewManager(transport Transport, stores Stores, logger *logrus.Logger, opts ...Option) *Manager {
	return &Manager{transport: transport, stores: stores, logger: logger, opts: opts}
}

// Open returns the channel of listID, opening it if needed
func (m *Manager) Open(ctx context.Context, listID string, user *models.User) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if m.current.ListID() == listID {
			return m.current, nil
		}
		if err := m.current.Close(); err != nil {
			m.logger.WithError(err).Warn("Failed to close previous collaboration channel")
		}
		m.current = nil
	}

	ch, err := Open(ctx, m.transport, listID, user, m.stores, m.logger, m.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open collaboration for list %s: %w", listID, err)
	}
	m.current = ch
	return ch, nil
}

// Get returns the open channel of listID
func (m *Manager) Get(listID string) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ListID() != listID {
		return nil, false
	}
	return m.current, true
}

// Close closes the channel of listID if it is open
func (m *Manager) Close(listID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ListID() != listID {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}

// CloseAll closes whatever channel is open
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result *multierror.Error
	if m.current != nil {
		if err := m.current.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		m.current = nil
	}
	return result.ErrorOrNil()
}
