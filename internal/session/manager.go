package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/auth"
	"github.com/Kerhoff/wishsync/internal/localstore"
	"github.com/Kerhoff/wishsync/internal/metrics"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/repository"
)

const (
	guestName  = "Guest"
	guestEmail = "guest@example.com"
)

// Manager owns the current identity
type Manager struct {
	provider     auth.Provider
	profiles     repository.ProfileRepository
	durable      localstore.Store
	sessionStore localstore.Store
	policy       LoginPolicy
	logger       *logrus.Logger

	mu  sync.RWMutex
	st  state
	gen uint64

	subsMu  sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	wg          sync.WaitGroup
	stopAuthSub func()
}

// NewManager creates a session manager in the anonymous state and subscribes
// it to the provider's auth state changes
func NewManager(
	provider auth.Provider,
	profiles repository.ProfileRepository,
	durable localstore.Store,
	sessionStore localstore.Store,
	policy LoginPolicy,
	logger *logrus.Logger,
) *Manager {
	if policy == "" {
		policy = LoginStrict
	}

	m := &Manager{
		provider:     provider,
		profiles:     profiles,
		durable:      durable,
		sessionStore: sessionStore,
		policy:       policy,
		logger:       logger,
		subs:         make(map[int]func(Snapshot)),
	}
	m.stopAuthSub = provider.OnAuthStateChange(func(ev auth.Event) {
		m.HandleAuthEvent(context.Background(), ev)
	})
	return m
}

// Policy returns the configured login policy
func (m *Manager) Policy() LoginPolicy {
	return m.policy
}

// Snapshot returns the current session
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.snapshot()
}

// IsRemoteBacked reports whether entity operations should reach the remote
// store: an authenticated session that is neither guest nor placeholder
func (m *Manager) IsRemoteBacked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.remoteBacked()
}

// Subscribe registers fn for every transition and returns a function that
// removes it
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

// Wait blocks until background reconciliations have finished
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close detaches from the provider and waits for background work
func (m *Manager) Close() {
	if m.stopAuthSub != nil {
		m.stopAuthSub()
	}
	m.wg.Wait()
}

// transition replaces the state, persists it and notifies subscribers
func (m *Manager) transition(ctx context.Context, next state) Snapshot {
	_, snap, _ := m.transitionAt(ctx, 0, false, next)
	return snap
}

// swap is transition that also returns the state it replaced
func (m *Manager) swap(ctx context.Context, next state) (state, Snapshot) {
	prev, snap, _ := m.transitionAt(ctx, 0, false, next)
	return prev, snap
}

// transitionIf applies next only if no other transition happened since gen
// was observed. It reports whether next was applied.
func (m *Manager) transitionIf(ctx context.Context, gen uint64, next state) (Snapshot, bool) {
	_, snap, ok := m.transitionAt(ctx, gen, true, next)
	return snap, ok
}

func (m *Manager) transitionAt(ctx context.Context, gen uint64, conditional bool, next state) (state, Snapshot, bool) {
	next.check()

	m.mu.Lock()
	prev := m.st
	if conditional && m.gen != gen {
		snap := m.st.snapshot()
		m.mu.Unlock()
		m.logger.WithField("state", snap.State).Debug("Discarding superseded session reconciliation")
		return prev, snap, false
	}
	m.st = next
	m.gen++
	snap := m.st.snapshot()
	m.mu.Unlock()

	metrics.SessionTransitions.WithLabelValues(string(snap.State)).Inc()
	m.persist(ctx, next)
	m.notify(snap)
	return prev, snap, true
}

func (m *Manager) current() (state, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st, m.gen
}

func (m *Manager) notify(snap Snapshot) {
	m.subsMu.Lock()
	fns := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (m *Manager) persist(ctx context.Context, s state) {
	record := persisted{
		User:            s.user,
		IsAuthenticated: s.authenticated,
		IsGuestMode:     s.guest,
		Placeholder:     s.placeholder,
	}
	if err := m.durable.Put(ctx, localstore.KeyAuthStorage, record); err != nil {
		m.logger.WithError(err).Warn("Failed to persist session")
	}

	if s.token != "" {
		if err := m.durable.Put(ctx, localstore.KeyAuthSession, s.token); err != nil {
			m.logger.WithError(err).Warn("Failed to persist session token")
		}
	} else if err := m.durable.Delete(ctx, localstore.KeyAuthSession); err != nil {
		m.logger.WithError(err).Warn("Failed to delete session token")
	}

	if s.user != nil && !s.guest {
		if err := m.durable.Put(ctx, localstore.KeyUserData, s.user); err != nil {
			m.logger.WithError(err).Warn("Failed to persist user data")
		}
	}
}

// EnableGuestMode starts an ephemeral guest session. A signed-in session it
// replaces is signed out remotely.
func (m *Manager) EnableGuestMode(ctx context.Context) Snapshot {
	guest := &models.User{
		ID:       fmt.Sprintf("guest-%d", time.Now().UnixMilli()),
		Name:     guestName,
		Email:    guestEmail,
		Currency: models.DefaultCurrency,
	}

	prev, snap := m.swap(ctx, state{user: guest, guest: true})
	if !prev.guest && (prev.token != "" || prev.user != nil) {
		m.revoke(ctx, prev)
	}
	if err := m.sessionStore.Put(ctx, localstore.KeyGuestSession, "true"); err != nil {
		m.logger.WithError(err).Warn("Failed to record guest session marker")
	}

	m.logger.WithField("user_id", guest.ID).Info("Guest mode enabled")
	return snap
}

// DisableGuestMode ends the guest session and returns to anonymous. Any
// other session is left untouched.
func (m *Manager) DisableGuestMode(ctx context.Context) Snapshot {
	cur, gen := m.current()
	if !cur.guest {
		return cur.snapshot()
	}
	snap, ok := m.transitionIf(ctx, gen, state{})
	if !ok {
		return snap
	}
	for _, key := range []string{localstore.KeyGuestSession, localstore.KeyFromLanding} {
		if err := m.sessionStore.Delete(ctx, key); err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("Failed to clear session marker")
		}
	}

	m.logger.Info("Guest mode disabled")
	return snap
}

// MarkFromLanding records that the user arrived from the landing page
func (m *Manager) MarkFromLanding(ctx context.Context) error {
	return m.sessionStore.Put(ctx, localstore.KeyFromLanding, "true")
}

// Login signs the user in according to the configured policy
func (m *Manager) Login(ctx context.Context, email, password string) (Snapshot, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return m.Snapshot(), apperr.Validation("login", "email and password are required")
	}

	if m.policy == LoginOptimistic {
		return m.loginOptimistic(ctx, email, password), nil
	}
	return m.loginStrict(ctx, email, password)
}

func (m *Manager) loginStrict(ctx context.Context, email, password string) (Snapshot, error) {
	session, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		m.logger.WithError(err).Warn("Sign-in failed")
		return m.Snapshot(), authError("login", err)
	}

	m.setToken(ctx, session.AccessToken)
	m.recordLastLogin(ctx)

	snap, err := m.FetchUser(ctx)
	if err != nil {
		return snap, err
	}
	if !snap.IsAuthenticated() {
		return snap, apperr.Auth("login", "please verify your email address before signing in", nil)
	}

	m.logger.WithField("user_id", snap.UserID()).Info("User signed in")
	return snap, nil
}

func (m *Manager) loginOptimistic(ctx context.Context, email, password string) Snapshot {
	placeholder := &models.User{
		ID:       PlaceholderID(email, time.Now()),
		Name:     localPart(email, "User"),
		Email:    email,
		Currency: models.DefaultCurrency,
	}

	snap := m.transition(ctx, state{user: placeholder, authenticated: true, placeholder: true})
	_, gen := m.current()
	m.recordLastLogin(ctx)

	m.logger.WithField("user_id", placeholder.ID).Info("Placeholder session started, signing in in the background")

	bg := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reconcileLogin(bg, gen, email, password)
	}()

	return snap
}

func (m *Manager) reconcileLogin(ctx context.Context, gen uint64, email, password string) {
	session, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		// the placeholder session stays authenticated
		m.logger.WithError(err).Warn("Background sign-in failed, keeping placeholder session")
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.logger.Debug("Discarding background sign-in superseded by a later transition")
		return
	}
	m.st.token = session.AccessToken
	m.mu.Unlock()

	if err := m.durable.Put(ctx, localstore.KeyAuthSession, session.AccessToken); err != nil {
		m.logger.WithError(err).Warn("Failed to persist session token")
	}

	if _, err := m.FetchUser(ctx); err != nil {
		m.logger.WithError(err).Warn("Background user reconciliation failed")
	}
}

func (m *Manager) setToken(ctx context.Context, token string) {
	m.mu.Lock()
	m.st.token = token
	m.mu.Unlock()

	if err := m.durable.Put(ctx, localstore.KeyAuthSession, token); err != nil {
		m.logger.WithError(err).Warn("Failed to persist session token")
	}
}

func (m *Manager) recordLastLogin(ctx context.Context) {
	if err := m.durable.Put(ctx, localstore.KeyLastLogin, time.Now().UTC()); err != nil {
		m.logger.WithError(err).Warn("Failed to record last login")
	}
}

// Register creates a remote account. The session is not authenticated until
// the email is verified and the user logs in.
func (m *Manager) Register(ctx context.Context, email, password, name string) (Snapshot, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return m.Snapshot(), apperr.Validation("register", "email and password are required")
	}

	user, err := m.provider.SignUp(ctx, auth.SignUpInput{Email: email, Password: password, Name: name})
	if err != nil {
		m.logger.WithError(err).Warn("Registration failed")
		cur, _ := m.current()
		if !cur.guest {
			m.transition(ctx, state{})
		}
		return m.Snapshot(), registrationError(err)
	}
	if user == nil {
		m.transition(ctx, state{})
		return m.Snapshot(), apperr.Auth("register", "registration failed, please try again", nil)
	}

	m.logger.WithField("user_id", user.ID).Info("User registered, pending email verification")
	return m.transition(ctx, state{pendingEmail: user.Email}), nil
}

// Logout clears the identity and the persisted session
func (m *Manager) Logout(ctx context.Context) Snapshot {
	cur, snap := m.swap(ctx, state{})

	for _, key := range []string{localstore.KeyAuthSession, localstore.KeyAuthStorage} {
		if err := m.durable.Delete(ctx, key); err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("Failed to clear auth storage")
		}
	}
	if err := m.sessionStore.Clear(ctx); err != nil {
		m.logger.WithError(err).Warn("Failed to clear session storage")
	}
	m.revoke(ctx, cur)

	m.logger.WithField("user_id", userID(cur.user)).Info("User logged out")
	return snap
}

// revoke drops the cached identity of a replaced session and signs its token
// out remotely
func (m *Manager) revoke(ctx context.Context, prev state) {
	for _, key := range []string{localstore.KeyUserData, localstore.KeyLastLogin} {
		if err := m.durable.Delete(ctx, key); err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("Failed to clear auth storage")
		}
	}
	if prev.token == "" {
		return
	}
	if err := m.provider.SignOut(ctx, prev.token); err != nil {
		m.logger.WithError(err).Warn("Remote sign-out failed")
	}
}

// VerifyEmail confirms the address behind a sign-up confirmation token. A
// registration pending for that address is cleared so the user can log in,
// and a signed-in unverified session is reconciled.
func (m *Manager) VerifyEmail(ctx context.Context, token string) (Snapshot, error) {
	verified, err := m.provider.VerifyEmail(ctx, token)
	if err != nil {
		return m.Snapshot(), authError("verify email", err)
	}
	m.logger.WithField("user_id", verified.ID).Info("Email verified")

	cur, gen := m.current()
	switch {
	case cur.token != "" && !cur.authenticated:
		return m.FetchUser(ctx)
	case cur.pendingEmail != "" && strings.EqualFold(cur.pendingEmail, verified.Email):
		snap, _ := m.transitionIf(ctx, gen, state{})
		return snap, nil
	}
	return cur.snapshot(), nil
}

// FetchUser reconciles the session with the identity provider and the remote
// profile. A missing profile is created. The session is authenticated only
// when the identity's email is verified.
func (m *Manager) FetchUser(ctx context.Context) (Snapshot, error) {
	cur, gen := m.current()

	authUser, err := m.provider.GetUser(ctx, cur.token)
	if err != nil {
		if errors.Is(err, auth.ErrSessionMissing) || apperr.Is(err, apperr.KindAuth) {
			return m.noRemoteSession(ctx, gen, cur), nil
		}

		m.logger.WithError(err).Error("Unexpected error getting auth user")
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Network("fetch user", err)
		}
		return cur.snapshot(), err
	}

	user, err := m.syncProfile(ctx, authUser)
	if err != nil {
		m.logger.WithError(err).WithField("user_id", authUser.ID).Error("Failed to fetch user profile")
		next := state{}
		if cur.guest {
			next = state{user: cur.user, guest: true}
		}
		snap, _ := m.transitionIf(ctx, gen, next)
		return snap, err
	}

	next := state{
		user:          user,
		token:         cur.token,
		authenticated: authUser.Verified(),
	}
	if !next.authenticated {
		next.pendingEmail = authUser.Email
	}

	snap, applied := m.transitionIf(ctx, gen, next)
	if applied {
		m.logger.WithFields(logrus.Fields{
			"user_id":       user.ID,
			"authenticated": next.authenticated,
		}).Debug("User reconciled with remote profile")
	}
	return snap, nil
}

// noRemoteSession handles the expected case of no usable remote session.
// Guest and placeholder sessions are kept; anything else becomes anonymous.
func (m *Manager) noRemoteSession(ctx context.Context, gen uint64, cur state) Snapshot {
	if cur.guest || cur.placeholder {
		return cur.snapshot()
	}
	if cur.user == nil && cur.token == "" && cur.pendingEmail == "" {
		return cur.snapshot()
	}
	snap, _ := m.transitionIf(ctx, gen, state{})
	return snap
}

// syncProfile creates or refreshes the remote profile for authUser and
// returns the user to cache. Profile write failures fall back to the
// identity provider's data.
func (m *Manager) syncProfile(ctx context.Context, authUser *models.AuthUser) (*models.User, error) {
	profile, err := m.profiles.GetByID(ctx, authUser.ID)
	metrics.ObserveRemote("profiles", "select", err)
	if err != nil {
		return nil, err
	}

	if profile == nil {
		created, err := m.profiles.Create(ctx, &models.Profile{
			ID:        authUser.ID,
			Email:     authUser.Email,
			Name:      firstNonEmpty(authUser.Metadata.Name, localPart(authUser.Email, ""), "New User"),
			AvatarURL: authUser.Metadata.AvatarURL,
			Currency:  firstNonEmpty(authUser.Metadata.Currency, models.DefaultCurrency),
		})
		metrics.ObserveRemote("profiles", "insert", err)
		if err != nil {
			m.logger.WithError(err).WithField("user_id", authUser.ID).Warn("Failed to create profile, using auth data")
			return &models.User{
				ID:        authUser.ID,
				Name:      firstNonEmpty(authUser.Metadata.Name, localPart(authUser.Email, "")),
				Email:     authUser.Email,
				AvatarURL: authUser.Metadata.AvatarURL,
				Currency:  firstNonEmpty(authUser.Metadata.Currency, models.DefaultCurrency),
			}, nil
		}
		m.logger.WithField("user_id", authUser.ID).Info("Profile created")
		return created.User(), nil
	}

	refreshed := *profile
	refreshed.Name = firstNonEmpty(authUser.Metadata.Name, profile.Name)
	refreshed.AvatarURL = firstNonEmpty(authUser.Metadata.AvatarURL, profile.AvatarURL)
	refreshed.Email = firstNonEmpty(authUser.Email, profile.Email)

	updated, err := m.profiles.Update(ctx, &refreshed)
	metrics.ObserveRemote("profiles", "update", err)
	if err != nil {
		m.logger.WithError(err).WithField("user_id", authUser.ID).Warn("Failed to refresh profile, using combined data")
		return &models.User{
			ID:        profile.ID,
			Name:      firstNonEmpty(profile.Name, authUser.Metadata.Name, localPart(authUser.Email, "")),
			Email:     firstNonEmpty(authUser.Email, profile.Email),
			AvatarURL: firstNonEmpty(profile.AvatarURL, authUser.Metadata.AvatarURL),
			Currency:  profile.Currency,
		}, nil
	}

	return updated.User(), nil
}

// UpdateUser edits the cached profile. Remote-backed sessions also push the
// edit to the remote profile; a remote failure keeps the local edit.
func (m *Manager) UpdateUser(ctx context.Context, patch models.UserPatch) (Snapshot, error) {
	cur, _ := m.current()
	if cur.user == nil {
		return cur.snapshot(), apperr.Permission("update user", "no active session")
	}

	next := cur
	user := *cur.user
	patch.Apply(&user)
	next.user = &user
	snap := m.transition(ctx, next)

	if next.remoteBacked() {
		_, err := m.profiles.Update(ctx, &models.Profile{
			ID:        user.ID,
			Email:     user.Email,
			Name:      user.Name,
			AvatarURL: user.AvatarURL,
			Currency:  user.Currency,
		})
		metrics.ObserveRemote("profiles", "update", err)
		if err != nil {
			m.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to push profile edit, keeping local copy")
		}
	}

	return snap, nil
}

// Restore rebuilds the session at startup. A persisted token is reconciled
// through FetchUser; without one the agent starts in guest mode.
func (m *Manager) Restore(ctx context.Context) (Snapshot, error) {
	var token string
	ok, err := m.durable.Get(ctx, localstore.KeyAuthSession, &token)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to read persisted session token")
	}

	if !ok || token == "" {
		m.logger.Info("No persisted session, starting in guest mode")
		return m.EnableGuestMode(ctx), nil
	}

	next := state{token: token}
	var record persisted
	if found, err := m.durable.Get(ctx, localstore.KeyAuthStorage, &record); err == nil && found &&
		record.User != nil && !record.IsGuestMode && !record.Placeholder {
		next.user = record.User
		next.authenticated = record.IsAuthenticated
	}
	m.transition(ctx, next)

	return m.FetchUser(ctx)
}

// HandleAuthEvent reacts to identity provider notifications for the current
// user. Sign-in and initial session events are reconciled by Login and
// Restore themselves.
func (m *Manager) HandleAuthEvent(ctx context.Context, ev auth.Event) {
	cur, _ := m.current()
	if cur.user == nil || cur.user.ID != ev.UserID {
		return
	}

	switch ev.Type {
	case auth.EventUserUpdated:
		if _, err := m.FetchUser(ctx); err != nil {
			m.logger.WithError(err).Warn("Failed to refresh user after update")
		}
	case auth.EventSignedOut:
		m.Logout(ctx)
	}
}

// PlaceholderID derives the locally synthesized id used by optimistic login
func PlaceholderID(email string, at time.Time) string {
	r := strings.NewReplacer("@", "-", ".", "-")
	return fmt.Sprintf("dummy-%s-%d", r.Replace(email), at.UnixMilli())
}

func authError(op string, err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindAuth, apperr.KindValidation, apperr.KindNetwork:
		return err
	default:
		return apperr.Auth(op, "login failed, please try again later", err)
	}
}

func registrationError(err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindAuth, apperr.KindValidation:
		return err
	case apperr.KindNetwork:
		return apperr.Network("register", err)
	default:
		return apperr.Auth("register", "registration failed, please try again later", err)
	}
}

func userID(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func localPart(email, fallback string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	if email != "" && !strings.Contains(email, "@") {
		return email
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
