package auth

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/models"
)

type memoryAccounts struct {
	mu   sync.Mutex
	byID map[string]*models.Account
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{byID: make(map[string]*models.Account)}
}

func (m *memoryAccounts) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == account.Email {
			return nil, apperr.Auth("create account", "user already registered", nil)
		}
	}
	c := *account
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	m.byID[c.ID] = &c
	out := c
	return &out, nil
}

func (m *memoryAccounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == email {
			out := *a
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memoryAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	out := *a
	return &out, nil
}

func (m *memoryAccounts) ConfirmEmail(ctx context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("confirm email", "account")
	}
	now := time.Now()
	a.EmailConfirmedAt = &now
	out := *a
	return &out, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	opts := DefaultOptions([]byte("test-secret"))
	opts.BcryptCost = bcrypt.MinCost
	s, err := NewService(newMemoryAccounts(), opts, logger)
	require.NoError(t, err)
	return s
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(newMemoryAccounts(), Options{}, logrus.New())
	assert.Error(t, err)
}

func TestSignUpValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.SignUp(ctx, SignUpInput{Email: "", Password: "longenough"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = s.SignUp(ctx, SignUpInput{Email: "not-an-email", Password: "longenough"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = s.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "short"})
	assert.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestSignUpDuplicateEmail(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	user, err := s.SignUp(ctx, SignUpInput{Email: "Ann@Example.com", Password: "password1", Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", user.Email)
	assert.False(t, user.Verified())
	assert.Equal(t, "Ann", user.Metadata.Name)

	_, err = s.SignUp(ctx, SignUpInput{Email: "ann@example.com", Password: "password2"})
	assert.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestSignInAndGetUser(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	created, err := s.SignUp(ctx, SignUpInput{Email: "ann@example.com", Password: "password1"})
	require.NoError(t, err)

	_, err = s.SignIn(ctx, "ann@example.com", "wrong-password")
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	_, err = s.SignIn(ctx, "nobody@example.com", "password1")
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	session, err := s.SignIn(ctx, "ann@example.com", "password1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.Equal(t, created.ID, session.User.ID)
	assert.True(t, session.ExpiresAt.After(time.Now()))

	user, err := s.GetUser(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)
}

func TestGetUserWithoutSession(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, "")
	assert.ErrorIs(t, err, ErrSessionMissing)

	_, err = s.GetUser(ctx, "garbage")
	assert.True(t, apperr.Is(err, apperr.KindAuth))
}

func TestSignOutRevokesToken(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.SignUp(ctx, SignUpInput{Email: "ann@example.com", Password: "password1"})
	require.NoError(t, err)
	session, err := s.SignIn(ctx, "ann@example.com", "password1")
	require.NoError(t, err)

	require.NoError(t, s.SignOut(ctx, session.AccessToken))
	_, err = s.GetUser(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrSessionMissing)

	// signing out twice is harmless
	assert.NoError(t, s.SignOut(ctx, session.AccessToken))
}

func TestSignInRateLimited(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.SignIn(ctx, "ann@example.com", "password1")
		assert.True(t, apperr.Is(err, apperr.KindAuth))
	}

	_, err := s.SignIn(ctx, "ann@example.com", "password1")
	require.Error(t, err)
	assert.Contains(t, apperr.Message(err), "too many")
}

func TestAuthStateEvents(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	var events []EventType
	unsubscribe := s.OnAuthStateChange(func(ev Event) {
		events = append(events, ev.Type)
	})

	user, err := s.SignUp(ctx, SignUpInput{Email: "ann@example.com", Password: "password1"})
	require.NoError(t, err)
	session, err := s.SignIn(ctx, "ann@example.com", "password1")
	require.NoError(t, err)

	confirmed, err := s.ConfirmEmail(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.Verified())

	require.NoError(t, s.SignOut(ctx, session.AccessToken))
	assert.Equal(t, []EventType{EventSignedIn, EventUserUpdated, EventSignedOut}, events)

	unsubscribe()
	_, err = s.SignIn(ctx, "ann@example.com", "password1")
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestVerifyEmailWithIssuedToken(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	var issued []Confirmation
	stop := s.OnConfirmationIssued(func(c Confirmation) { issued = append(issued, c) })
	defer stop()

	user, err := s.SignUp(ctx, SignUpInput{Email: "ann@example.com", Password: "password1"})
	require.NoError(t, err)
	require.Len(t, issued, 1)
	assert.Equal(t, user.ID, issued[0].UserID)
	assert.Equal(t, "ann@example.com", issued[0].Email)
	assert.True(t, issued[0].ExpiresAt.After(time.Now().Add(47*time.Hour)))

	// a confirmation token is not a session
	_, err = s.GetUser(ctx, issued[0].Token)
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	// and a session token does not confirm an address
	session, err := s.SignIn(ctx, "ann@example.com", "password1")
	require.NoError(t, err)
	_, err = s.VerifyEmail(ctx, session.AccessToken)
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	verified, err := s.VerifyEmail(ctx, issued[0].Token)
	require.NoError(t, err)
	assert.True(t, verified.Verified())

	again, err := s.VerifyEmail(ctx, issued[0].Token)
	require.NoError(t, err, "verifying twice is harmless")
	assert.True(t, again.Verified())
}

func TestVerifyEmailRejectsBadTokens(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.VerifyEmail(ctx, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = s.VerifyEmail(ctx, "garbage")
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	s.opts.ConfirmationTTL = -time.Minute
	var token string
	s.OnConfirmationIssued(func(c Confirmation) { token = c.Token })
	_, err = s.SignUp(ctx, SignUpInput{Email: "ann@example.com", Password: "password1"})
	require.NoError(t, err)

	_, err = s.VerifyEmail(ctx, token)
	require.Error(t, err)
	assert.Contains(t, apperr.Message(err), "expired")
}

func TestIdleLimitersAreDropped(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	clock := time.Now()
	s.now = func() time.Time { return clock }

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, _ = s.SignIn(ctx, email, "password1")
	}
	assert.Len(t, s.limiters, 3)

	// five attempts a minute refill a burst of five in a minute
	clock = clock.Add(30 * time.Second)
	_, _ = s.SignIn(ctx, "a@example.com", "password1")
	clock = clock.Add(45 * time.Second)
	_, _ = s.SignIn(ctx, "d@example.com", "password1")

	assert.Len(t, s.limiters, 2)
	assert.Contains(t, s.limiters, "a@example.com")
	assert.Contains(t, s.limiters, "d@example.com")
}
