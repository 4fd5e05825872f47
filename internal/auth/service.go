package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/repository"
)

// MinPasswordLength is the shortest password SignUp accepts
const MinPasswordLength = 8

// token audiences keep session and confirmation tokens apart
const (
	sessionAudience      = "authenticated"
	confirmationAudience = "email-confirmation"
)

// Options configures the identity service
type Options struct {
	Secret     []byte
	SessionTTL time.Duration
	// ConfirmationTTL bounds how long a sign-up confirmation token is valid
	ConfirmationTTL time.Duration
	// LoginRate and LoginBurst throttle sign-in attempts per email
	LoginRate  rate.Limit
	LoginBurst int
	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int
}

// DefaultOptions returns options with a 24h session and 5 attempts a minute
func DefaultOptions(secret []byte) Options {
	return Options{
		Secret:     secret,
		SessionTTL:      24 * time.Hour,
		ConfirmationTTL: 48 * time.Hour,
		LoginRate:       rate.Every(time.Minute / 5),
		LoginBurst:      5,
		BcryptCost:      bcrypt.DefaultCost,
	}
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service is the database-backed Provider
type Service struct {
	accounts repository.AccountRepository
	opts     Options
	logger   *logrus.Logger

	limitersMu sync.Mutex
	limiters   map[string]*loginLimiter
	lastSweep  time.Time
	now        func() time.Time

	revokedMu sync.Mutex
	revoked   map[string]time.Time

	listenersMu sync.Mutex
	listeners   map[int]func(Event)
	confirmers  map[int]func(Confirmation)
	nextID      int
}

// NewService creates a new identity service
func NewService(accounts repository.AccountRepository, opts Options, logger *logrus.Logger) (*Service, error) {
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("auth secret is required")
	}
	defaults := DefaultOptions(opts.Secret)
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaults.SessionTTL
	}
	if opts.ConfirmationTTL <= 0 {
		opts.ConfirmationTTL = defaults.ConfirmationTTL
	}
	if opts.LoginRate == 0 {
		opts.LoginRate = defaults.LoginRate
	}
	if opts.LoginBurst <= 0 {
		opts.LoginBurst = defaults.LoginBurst
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = defaults.BcryptCost
	}

	return &Service{
		accounts:   accounts,
		opts:       opts,
		logger:     logger,
		limiters:   make(map[string]*loginLimiter),
		now:        time.Now,
		revoked:    make(map[string]time.Time),
		listeners:  make(map[int]func(Event)),
		confirmers: make(map[int]func(Confirmation)),
	}, nil
}

// SignUp creates an unverified account
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*models.AuthUser, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || in.Password == "" {
		return nil, apperr.Validation("sign up", "email and password are required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperr.Validation("sign up", "email address is invalid")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperr.Auth("sign up", "password is too weak, please use a stronger password", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account, err := s.accounts.Create(ctx, &models.Account{
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(in.Name),
		Currency:     models.DefaultCurrency,
	})
	if err != nil {
		return nil, err
	}

	confirmation, err := s.issueConfirmation(account)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", account.ID).Info("Account registered, awaiting email verification")
	s.emitConfirmation(*confirmation)
	return account.AuthUser(), nil
}

// SignIn verifies the password and issues a session token
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, apperr.Validation("sign in", "email and password are required")
	}
	if !s.limiter(email).Allow() {
		return nil, apperr.Auth("sign in", "too many login attempts, please wait and try again", nil)
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperr.Auth("sign in", "invalid login credentials", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Auth("sign in", "invalid login credentials", nil)
	}

	session, err := s.issue(account)
	if err != nil {
		return nil, err
	}

	s.emit(Event{Type: EventSignedIn, UserID: account.ID})
	return session, nil
}

func (s *Service) issue(account *models.Account) (*Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.opts.SessionTTL)
	claims := tokenClaims{
		Email: account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   account.ID,
			Audience:  jwt.ClaimStrings{sessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &Session{AccessToken: token, ExpiresAt: expiresAt, User: account.AuthUser()}, nil
}

// parseClaims verifies the signature, expiry and audience of token
func (s *Service) parseClaims(token, audience string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.opts.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
	)
	return claims, err
}

func (s *Service) parse(token string) (*tokenClaims, error) {
	if token == "" {
		return nil, ErrSessionMissing
	}

	claims, err := s.parseClaims(token, sessionAudience)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionMissing
		}
		return nil, apperr.Auth("get user", "invalid session token", err)
	}

	s.revokedMu.Lock()
	_, revoked := s.revoked[claims.ID]
	s.revokedMu.Unlock()
	if revoked {
		return nil, ErrSessionMissing
	}

	return claims, nil
}

// GetUser implements Provider.GetUser.
func (s *Service) GetUser(ctx context.Context, token string) (*models.AuthUser, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrSessionMissing
	}

	return account.AuthUser(), nil
}

// SignOut revokes the token. Signing out an unusable token is a no-op.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		if errors.Is(err, ErrSessionMissing) {
			return nil
		}
		return err
	}

	s.revokedMu.Lock()
	now := time.Now()
	s.revoked[claims.ID] = claims.ExpiresAt.Time
	for id, exp := range s.revoked {
		if exp.Before(now) {
			delete(s.revoked, id)
		}
	}
	s.revokedMu.Unlock()

	s.emit(Event{Type: EventSignedOut, UserID: claims.Subject})
	return nil
}

// ConfirmEmail marks the account's email as verified
func (s *Service) ConfirmEmail(ctx context.Context, userID string) (*models.AuthUser, error) {
	account, err := s.accounts.ConfirmEmail(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.emit(Event{Type: EventUserUpdated, UserID: userID})
	return account.AuthUser(), nil
}

// OnAuthStateChange implements Provider.OnAuthStateChange.
func (s *Service) OnAuthStateChange(fn func(Event)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// emit calls listeners outside the lock so they may unsubscribe
func (s *Service) emit(ev Event) {
	s.listenersMu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"event":   ev.Type,
		"user_id": ev.UserID,
	}).Debug("Auth state changed")

	for _, fn := range fns {
		fn(ev)
	}
}

type loginLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiter returns the sign-in limiter of email. Limiters idle long enough to
// have refilled completely are dropped, at most once per refill window.
func (s *Service) limiter(email string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	now := s.now()
	idle := s.refillWindow()
	if now.Sub(s.lastSweep) >= idle {
		for key, l := range s.limiters {
			if now.Sub(l.seen) >= idle {
				delete(s.limiters, key)
			}
		}
		s.lastSweep = now
	}

	l, ok := s.limiters[email]
	if !ok {
		l = &loginLimiter{lim: rate.NewLimiter(s.opts.LoginRate, s.opts.LoginBurst)}
		s.limiters[email] = l
	}
	l.seen = now
	return l.lim
}

// refillWindow is how long an unused limiter takes to regain its full burst
func (s *Service) refillWindow() time.Duration {
	if s.opts.LoginRate <= 0 || s.opts.LoginRate == rate.Inf {
		return time.Minute
	}
	return time.Duration(float64(s.opts.LoginBurst) / float64(s.opts.LoginRate) * float64(time.Second))
}
