package models

// ProductMetadata carries optional catalog details
type ProductMetadata struct {
	Brand          string            `json:"brand,omitempty"`
	Availability   string            `json:"availability,omitempty"`
	OriginalPrice  string            `json:"originalPrice,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
}

// Product is a discovered product that can be turned into a wish
type Product struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Price       string           `json:"price"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	URL         string           `json:"url,omitempty"`
	Source      string           `json:"source"`
	Rating      float64          `json:"rating,omitempty"`
	Reviews     int              `json:"reviews,omitempty"`
	Metadata    *ProductMetadata `json:"metadata,omitempty"`
}

// ScrapedProduct is the best-effort result of scraping a product page.
// Blocked is set when the scraper hit a CAPTCHA.
type ScrapedProduct struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Blocked     bool   `json:"blocked,omitempty"`
}

// Collaborator is a peer connected to the same list
type Collaborator struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	IsActive bool   `json:"isActive"`
}

// NotificationPreferences controls which events reach the user and where
type NotificationPreferences struct {
	Browser              bool `json:"browser"`
	Email                bool `json:"email"`
	Push                 bool `json:"push"`
	ListChanges          bool `json:"listChanges"`
	WishUpdates          bool `json:"wishUpdates"`
	CollaboratorActivity bool `json:"collaboratorActivity"`
}

// DefaultNotificationPreferences returns the preferences of a fresh install
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		Browser:              true,
		Email:                true,
		Push:                 false,
		ListChanges:          true,
		WishUpdates:          true,
		CollaboratorActivity: true,
	}
}

// NotificationPreferencesPatch is a partial preference update
type NotificationPreferencesPatch struct {
	Browser              *bool `json:"browser,omitempty"`
	Email                *bool `json:"email,omitempty"`
	Push                 *bool `json:"push,omitempty"`
	ListChanges          *bool `json:"listChanges,omitempty"`
	WishUpdates          *bool `json:"wishUpdates,omitempty"`
	CollaboratorActivity *bool `json:"collaboratorActivity,omitempty"`
}

// Apply copies the set fields onto p
func (patch NotificationPreferencesPatch) Apply(p *NotificationPreferences) {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.Browser, patch.Browser)
	set(&p.Email, patch.Email)
	set(&p.Push, patch.Push)
	set(&p.ListChanges, patch.ListChanges)
	set(&p.WishUpdates, patch.WishUpdates)
	set(&p.CollaboratorActivity, patch.CollaboratorActivity)
}
