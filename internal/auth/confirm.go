package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/models"
)

// Confirmation is the email verification token issued at sign-up. Whoever
// delivers it to the user registers with OnConfirmationIssued.
type Confirmation struct {
	UserID    string
	Email     string
	Token     string
	ExpiresAt time.Time
}

func (s *Service) issueConfirmation(account *models.Account) (*Confirmation, error) {
	now := time.Now()
	expiresAt := now.Add(s.opts.ConfirmationTTL)
	claims := tokenClaims{
		Email: account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   account.ID,
			Audience:  jwt.ClaimStrings{confirmationAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign confirmation token: %w", err)
	}

	return &Confirmation{UserID: account.ID, Email: account.Email, Token: token, ExpiresAt: expiresAt}, nil
}

// VerifyEmail implements Provider.VerifyEmail.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*models.AuthUser, error) {
	if token == "" {
		return nil, apperr.Validation("verify email", "confirmation token is required")
	}

	claims, err := s.parseClaims(token, confirmationAudience)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Auth("verify email", "confirmation link has expired", err)
		}
		return nil, apperr.Auth("verify email", "invalid confirmation token", err)
	}

	account, err := s.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	// the address may have changed since the token was issued
	if account == nil || account.Email != claims.Email {
		return nil, apperr.Auth("verify email", "invalid confirmation token", nil)
	}
	if account.EmailConfirmedAt != nil {
		return account.AuthUser(), nil
	}

	return s.ConfirmEmail(ctx, account.ID)
}

// OnConfirmationIssued registers fn for every confirmation token issued and
// returns a function that removes it
func (s *Service) OnConfirmationIssued(fn func(Confirmation)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.confirmers[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.confirmers, id)
		s.listenersMu.Unlock()
	}
}

func (s *Service) emitConfirmation(c Confirmation) {
	s.listenersMu.Lock()
	fns := make([]func(Confirmation), 0, len(s.confirmers))
	for _, fn := range s.confirmers {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	if len(fns) == 0 {
		s.logger.WithField("user_id", c.UserID).Warn("No confirmation delivery registered")
	}
	for _, fn := range fns {
		fn(c)
	}
}
