// Package session tracks the current identity of the agent: anonymous, guest
// or an authenticated user, and broadcasts every transition.
package session

import (
	"fmt"

	"github.com/Kerhoff/wishsync/internal/models"
)

// State is the externally visible session state
type State string

const (
	StateAnonymous     State = "anonymous"
	StateGuest         State = "guest"
	StateAuthenticated State = "authenticated"
	// StateUnverified means a remote identity exists but its email is not
	// confirmed yet
	StateUnverified State = "unverified"
)

// LoginPolicy selects how Login treats the time before the remote sign-in
// resolves
type LoginPolicy string

const (
	// LoginStrict waits for the remote sign-in and fails closed
	LoginStrict LoginPolicy = "strict"
	// LoginOptimistic marks the session authenticated under a placeholder
	// identity at once and reconciles in the background. A failed sign-in
	// leaves the placeholder session in place.
	LoginOptimistic LoginPolicy = "optimistic"
)

// ParseLoginPolicy parses a policy name, defaulting to strict
func ParseLoginPolicy(s string) (LoginPolicy, error) {
	switch LoginPolicy(s) {
	case "", LoginStrict:
		return LoginStrict, nil
	case LoginOptimistic:
		return LoginOptimistic, nil
	default:
		return "", fmt.Errorf("unknown login policy %q", s)
	}
}

// Snapshot is an immutable view of the session
type Snapshot struct {
	State State        `json:"state"`
	User  *models.User `json:"user"`
	// Placeholder is set while the user is a locally synthesized identity
	Placeholder bool `json:"placeholder,omitempty"`
	// PendingVerification holds the email awaiting confirmation after
	// registration or an unverified sign-in
	PendingVerification string `json:"pendingVerification,omitempty"`
}

func (s Snapshot) IsGuestMode() bool {
	return s.State == StateGuest
}

func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated
}

// UserID returns the current user's id or ""
func (s Snapshot) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// state is the mutable record behind a Snapshot
type state struct {
	user          *models.User
	token         string
	guest         bool
	authenticated bool
	placeholder   bool
	pendingEmail  string
}

func (s state) check() {
	if s.guest && s.authenticated {
		panic("session: guest mode and authenticated at the same time")
	}
	if s.placeholder && !s.authenticated {
		panic("session: placeholder identity outside an authenticated session")
	}
}

func (s state) snapshot() Snapshot {
	snap := Snapshot{
		Placeholder:         s.placeholder,
		PendingVerification: s.pendingEmail,
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}

	switch {
	case s.guest:
		snap.State = StateGuest
	case s.authenticated:
		snap.State = StateAuthenticated
	case s.user != nil:
		snap.State = StateUnverified
	default:
		snap.State = StateAnonymous
	}
	return snap
}

func (s state) remoteBacked() bool {
	return s.authenticated && !s.guest && !s.placeholder && s.user != nil
}

// persisted is the auth-storage record
type persisted struct {
	User            *models.User `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	IsGuestMode     bool         `json:"isGuestMode"`
	Placeholder     bool         `json:"placeholder,omitempty"`
}
