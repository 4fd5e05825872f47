package models

import "time"

// DefaultCurrency is used until the user picks one
const DefaultCurrency = "USD"

// User is the identity the rest of the application renders from. For
// authenticated users it is a denormalized copy of the remote profile.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// DisplayName returns the best display name for the user
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Profile is the authoritative remote copy of a user's profile
type Profile struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	AvatarURL string    `json:"avatarUrl" db:"avatar_url"`
	Currency  string    `json:"currency" db:"currency"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// User converts the profile into the cached user shape
func (p *Profile) User() *User {
	return &User{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		AvatarURL: p.AvatarURL,
		Currency:  p.Currency,
	}
}

// UserMetadata holds the attributes the identity provider stores with an account
type UserMetadata struct {
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// AuthUser is the identity as reported by the identity provider
type AuthUser struct {
	ID               string       `json:"id"`
	Email            string       `json:"email"`
	EmailConfirmedAt *time.Time   `json:"email_confirmed_at,omitempty"`
	Metadata         UserMetadata `json:"user_metadata"`
}

// Verified reports whether the account's email has been confirmed
func (u *AuthUser) Verified() bool {
	return u.EmailConfirmedAt != nil
}

// Account is the identity provider's credential row
type Account struct {
	ID               string     `db:"id"`
	Email            string     `db:"email"`
	PasswordHash     string     `db:"password_hash"`
	Name             string     `db:"name"`
	AvatarURL        string     `db:"avatar_url"`
	Currency         string     `db:"currency"`
	EmailConfirmedAt *time.Time `db:"email_confirmed_at"`
	CreatedAt        time.Time  `db:"created_at"`
}

// AuthUser converts the account into the provider's public identity shape
func (a *Account) AuthUser() *AuthUser {
	return &AuthUser{
		ID:               a.ID,
		Email:            a.Email,
		EmailConfirmedAt: a.EmailConfirmedAt,
		Metadata: UserMetadata{
			Name:      a.Name,
			AvatarURL: a.AvatarURL,
			Currency:  a.Currency,
		},
	}
}

// UserPatch is a partial profile edit
type UserPatch struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Currency  *string `json:"currency,omitempty"`
}

// Apply copies the set fields onto u
func (p UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	if p.Currency != nil {
		u.Currency = *p.Currency
	}
}
