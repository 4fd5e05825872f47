package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/auth"
	"github.com/Kerhoff/wishsync/internal/localstore"
	"github.com/Kerhoff/wishsync/internal/models"
)

type fakeAccount struct {
	user     models.AuthUser
	password string
}

// fakeProvider is an in-memory identity provider
type fakeProvider struct {
	mu        sync.Mutex
	accounts  map[string]*fakeAccount
	tokens    map[string]string
	seq       int
	listeners map[int]func(auth.Event)

	getUserErr error
	signUpErr  error
	// gate, when set, blocks SignIn until it is closed
	gate        chan struct{}
	signInCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		accounts:  make(map[string]*fakeAccount),
		tokens:    make(map[string]string),
		listeners: make(map[int]func(auth.Event)),
	}
}

func (p *fakeProvider) addAccount(email, password, name string, verified bool) *models.AuthUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	u := models.AuthUser{
		ID:       fmt.Sprintf("user-%d", p.seq),
		Email:    email,
		Metadata: models.UserMetadata{Name: name},
	}
	if verified {
		now := time.Now()
		u.EmailConfirmedAt = &now
	}
	p.accounts[email] = &fakeAccount{user: u, password: password}
	out := u
	return &out
}

func (p *fakeProvider) SignUp(ctx context.Context, in auth.SignUpInput) (*models.AuthUser, error) {
	if p.signUpErr != nil {
		return nil, p.signUpErr
	}
	p.mu.Lock()
	_, exists := p.accounts[in.Email]
	p.mu.Unlock()
	if exists {
		return nil, apperr.Auth("sign up", "user already registered", nil)
	}
	return p.addAccount(in.Email, in.Password, in.Name, false), nil
}

func (p *fakeProvider) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	p.mu.Lock()
	p.signInCalls++
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[email]
	if !ok || acc.password != password {
		return nil, apperr.Auth("sign in", "invalid login credentials", nil)
	}
	p.seq++
	token := fmt.Sprintf("token-%d", p.seq)
	p.tokens[token] = email
	u := acc.user
	return &auth.Session{AccessToken: token, ExpiresAt: time.Now().Add(time.Hour), User: &u}, nil
}

func (p *fakeProvider) GetUser(ctx context.Context, token string) (*models.AuthUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getUserErr != nil {
		return nil, p.getUserErr
	}
	email, ok := p.tokens[token]
	if !ok {
		return nil, auth.ErrSessionMissing
	}
	u := p.accounts[email].user
	return &u, nil
}

func (p *fakeProvider) SignOut(ctx context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, token)
	return nil
}

// VerifyEmail accepts tokens of the form "confirm:<email>"
func (p *fakeProvider) VerifyEmail(ctx context.Context, token string) (*models.AuthUser, error) {
	email, ok := strings.CutPrefix(token, "confirm:")
	p.mu.Lock()
	_, known := p.accounts[email]
	p.mu.Unlock()
	if !ok || !known {
		return nil, apperr.Auth("verify email", "invalid confirmation token", nil)
	}

	p.confirm(email)
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.accounts[email].user
	return &u, nil
}

func (p *fakeProvider) OnAuthStateChange(fn func(auth.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := len(p.listeners) + 1
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) confirm(email string) {
	p.mu.Lock()
	acc := p.accounts[email]
	now := time.Now()
	acc.user.EmailConfirmedAt = &now
	id := acc.user.ID
	fns := make([]func(auth.Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(auth.Event{Type: auth.EventUserUpdated, UserID: id})
	}
}

// fakeProfiles records profile rows and can fail writes
type fakeProfiles struct {
	mu        sync.Mutex
	rows      map[string]models.Profile
	getErr    error
	createErr error
	updateErr error
	creates   int
	updates   int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{rows: make(map[string]models.Profile)}
}

func (f *fakeProfiles) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeProfiles) Create(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	p := *profile
	p.UpdatedAt = time.Now()
	f.rows[p.ID] = p
	return &p, nil
}

func (f *fakeProfiles) Update(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	p := *profile
	p.UpdatedAt = time.Now()
	f.rows[p.ID] = p
	return &p, nil
}

type harness struct {
	provider *fakeProvider
	profiles *fakeProfiles
	durable  *localstore.SQLite
	sess     *localstore.SQLite
	manager  *Manager
}

func newHarness(t *testing.T, policy LoginPolicy) *harness {
	t.Helper()

	durable, err := localstore.OpenSession()
	require.NoError(t, err)
	sess, err := localstore.OpenSession()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		provider: newFakeProvider(),
		profiles: newFakeProfiles(),
		durable:  durable,
		sess:     sess,
	}
	h.manager = NewManager(h.provider, h.profiles, durable, sess, policy, logger)

	t.Cleanup(func() {
		h.manager.Close()
		_ = durable.Close()
		_ = sess.Close()
	})
	return h
}
