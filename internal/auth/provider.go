// Package auth is the identity service. It covers account sign-up with email
// confirmation tokens, password sign-in and session tokens, sign-out, and
// auth state change notifications.
package auth

import (
	"context"
	"time"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/models"
)

// EventType names an auth state change
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventUserUpdated    EventType = "USER_UPDATED"
	EventInitialSession EventType = "INITIAL_SESSION"
)

// Event is delivered to OnAuthStateChange listeners
type Event struct {
	Type   EventType
	UserID string
}

// Session is an issued sign-in session
type Session struct {
	AccessToken string           `json:"access_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
	User        *models.AuthUser `json:"user"`
}

// SignUpInput holds registration data
type SignUpInput struct {
	Email    string
	Password string
	Name     string
}

// Provider is the identity service as seen by the session manager
type Provider interface {
	SignUp(ctx context.Context, in SignUpInput) (*models.AuthUser, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// GetUser resolves the identity behind token. An empty or revoked token
	// yields ErrSessionMissing.
	GetUser(ctx context.Context, token string) (*models.AuthUser, error)
	SignOut(ctx context.Context, token string) error
	// VerifyEmail confirms the address behind a sign-up confirmation token
	VerifyEmail(ctx context.Context, token string) (*models.AuthUser, error)
	// OnAuthStateChange registers fn and returns a function that removes it
	OnAuthStateChange(fn func(Event)) (unsubscribe func())
}

// ErrSessionMissing is returned when there is no usable session token. It is
// the expected outcome for signed-out users.
var ErrSessionMissing = &apperr.Error{Kind: apperr.KindAuth, Op: "get user", Msg: "auth session missing"}
