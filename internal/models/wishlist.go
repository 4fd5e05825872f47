package models

import (
	"slices"
	"time"
)

// ListType describes who a wish list is for
type ListType string

const (
	ListTypePersonal ListType = "personal"
	ListTypeGroup    ListType = "group"
	ListTypeEvent    ListType = "event"
)

// Valid reports whether t is a known list type
func (t ListType) Valid() bool {
	switch t {
	case ListTypePersonal, ListTypeGroup, ListTypeEvent:
		return true
	}
	return false
}

// Visibility controls who can open a wish list
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilityShared  Visibility = "shared"
)

// Valid reports whether v is a known visibility
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityPublic, VisibilityShared:
		return true
	}
	return false
}

// DefaultListCategory is assigned to lists created without a category
const DefaultListCategory = "general"

// WishList represents a named collection of wishes owned by one user
type WishList struct {
	ID            string     `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	Description   string     `json:"description" db:"description"`
	Type          ListType   `json:"type" db:"type"`
	Visibility    Visibility `json:"visibility" db:"visibility"`
	UserID        string     `json:"userId" db:"user_id"`
	ShareID       string     `json:"shareId,omitempty" db:"share_id"`
	Collaborators []string   `json:"collaborators" db:"collaborators"`
	Tags          []string   `json:"tags" db:"tags"`
	Category      string     `json:"category" db:"category"`
	ImageURL      string     `json:"imageUrl" db:"image_url"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	LastModified  *time.Time `json:"lastModified,omitempty" db:"last_modified"`
	ModifiedBy    string     `json:"modifiedBy,omitempty" db:"modified_by"`
	Revision      int64      `json:"revision" db:"revision"`
}

// ApplyDefaults fills the optional fields a caller left empty
func (l *WishList) ApplyDefaults() {
	if l.Type == "" {
		l.Type = ListTypePersonal
	}
	if l.Visibility == "" {
		l.Visibility = VisibilityPrivate
	}
	if l.Category == "" {
		l.Category = DefaultListCategory
	}
	if l.Collaborators == nil {
		l.Collaborators = []string{}
	}
	if l.Tags == nil {
		l.Tags = []string{}
	}
}

// Clone returns a deep copy of the list
func (l *WishList) Clone() *WishList {
	c := *l
	c.Collaborators = slices.Clone(l.Collaborators)
	c.Tags = slices.Clone(l.Tags)
	if l.LastModified != nil {
		t := *l.LastModified
		c.LastModified = &t
	}
	return &c
}

// ListPatch is a partial update of a WishList. Nil fields are left unchanged.
type ListPatch struct {
	Name          *string     `json:"name,omitempty"`
	Description   *string     `json:"description,omitempty"`
	Type          *ListType   `json:"type,omitempty"`
	Visibility    *Visibility `json:"visibility,omitempty"`
	ShareID       *string     `json:"shareId,omitempty"`
	Collaborators *[]string   `json:"collaborators,omitempty"`
	Tags          *[]string   `json:"tags,omitempty"`
	Category      *string     `json:"category,omitempty"`
	ImageURL      *string     `json:"imageUrl,omitempty"`
	ModifiedBy    *string     `json:"modifiedBy,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p ListPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Type == nil &&
		p.Visibility == nil && p.ShareID == nil && p.Collaborators == nil &&
		p.Tags == nil && p.Category == nil && p.ImageURL == nil && p.ModifiedBy == nil
}

// Apply copies the set fields of the patch onto l
func (p ListPatch) Apply(l *WishList) {
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Type != nil {
		l.Type = *p.Type
	}
	if p.Visibility != nil {
		l.Visibility = *p.Visibility
	}
	if p.ShareID != nil {
		l.ShareID = *p.ShareID
	}
	if p.Collaborators != nil {
		l.Collaborators = slices.Clone(*p.Collaborators)
	}
	if p.Tags != nil {
		l.Tags = slices.Clone(*p.Tags)
	}
	if p.Category != nil {
		l.Category = *p.Category
	}
	if p.ImageURL != nil {
		l.ImageURL = *p.ImageURL
	}
	if p.ModifiedBy != nil {
		l.ModifiedBy = *p.ModifiedBy
	}
}

// Priority of a wish
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// WishStatus tracks whether a wish is still wanted
type WishStatus string

const (
	WishStatusActive    WishStatus = "active"
	WishStatusReserved  WishStatus = "reserved"
	WishStatusPurchased WishStatus = "purchased"
)

// Valid reports whether s is a known status
func (s WishStatus) Valid() bool {
	switch s {
	case WishStatusActive, WishStatusReserved, WishStatusPurchased:
		return true
	}
	return false
}

// WishSource records where a wish was discovered
type WishSource string

const (
	WishSourceManual WishSource = "manual"
	WishSourceAmazon WishSource = "amazon"
	WishSourceEtsy   WishSource = "etsy"
	WishSourceOther  WishSource = "other"
)

// WishMetadata carries optional product details
type WishMetadata struct {
	Brand         string   `json:"brand,omitempty"`
	Rating        *float64 `json:"rating,omitempty"`
	Reviews       *int     `json:"reviews,omitempty"`
	Availability  string   `json:"availability,omitempty"`
	OriginalPrice string   `json:"originalPrice,omitempty"`
}

// DefaultWishPrice is used when a wish is created without a price
const DefaultWishPrice = "0"

// Wish represents a single product a user wants. ListID may be nil (an
// unassigned wish) or may reference a list that no longer exists; both are
// treated as unassigned.
type Wish struct {
	ID          string        `json:"id" db:"id"`
	Title       string        `json:"title" db:"title"`
	Description string        `json:"description" db:"description"`
	Price       string        `json:"price" db:"price"`
	Priority    Priority      `json:"priority" db:"priority"`
	Status      WishStatus    `json:"status" db:"status"`
	IsFavorite  bool          `json:"isFavorite" db:"is_favorite"`
	ListID      *string       `json:"listId,omitempty" db:"list_id"`
	Link        string        `json:"link,omitempty" db:"link"`
	ImageURL    string        `json:"imageUrl,omitempty" db:"image_url"`
	Source      WishSource    `json:"source,omitempty" db:"source"`
	Tags        []string      `json:"tags,omitempty" db:"tags"`
	Category    string        `json:"category,omitempty" db:"category"`
	Metadata    *WishMetadata `json:"metadata,omitempty" db:"metadata"`
	UserID      string        `json:"userId" db:"user_id"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
	Revision    int64         `json:"revision" db:"revision"`
}

// ApplyDefaults fills the optional fields a caller left empty
func (w *Wish) ApplyDefaults() {
	if w.Price == "" {
		w.Price = DefaultWishPrice
	}
	if w.Priority == "" {
		w.Priority = PriorityMedium
	}
	if w.Status == "" {
		w.Status = WishStatusActive
	}
}

// InList reports whether the wish is assigned to listID
func (w *Wish) InList(listID string) bool {
	return w.ListID != nil && *w.ListID == listID
}

// Clone returns a deep copy of the wish
func (w *Wish) Clone() *Wish {
	c := *w
	c.Tags = slices.Clone(w.Tags)
	if w.ListID != nil {
		id := *w.ListID
		c.ListID = &id
	}
	if w.Metadata != nil {
		m := *w.Metadata
		c.Metadata = &m
	}
	return &c
}

// WishPatch is a partial update of a Wish. Nil fields are left unchanged;
// ClearListID moves the wish out of its list.
type WishPatch struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Price       *string       `json:"price,omitempty"`
	Priority    *Priority     `json:"priority,omitempty"`
	Status      *WishStatus   `json:"status,omitempty"`
	IsFavorite  *bool         `json:"isFavorite,omitempty"`
	ListID      *string       `json:"listId,omitempty"`
	ClearListID bool          `json:"clearListId,omitempty"`
	Link        *string       `json:"link,omitempty"`
	ImageURL    *string       `json:"imageUrl,omitempty"`
	Tags        *[]string     `json:"tags,omitempty"`
	Category    *string       `json:"category,omitempty"`
	Metadata    *WishMetadata `json:"metadata,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p WishPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Price == nil &&
		p.Priority == nil && p.Status == nil && p.IsFavorite == nil &&
		p.ListID == nil && !p.ClearListID && p.Link == nil && p.ImageURL == nil &&
		p.Tags == nil && p.Category == nil && p.Metadata == nil
}

// Apply copies the set fields of the patch onto w
func (p WishPatch) Apply(w *Wish) {
	if p.Title != nil {
		w.Title = *p.Title
	}
	if p.Description != nil {
		w.Description = *p.Description
	}
	if p.Price != nil {
		w.Price = *p.Price
	}
	if p.Priority != nil {
		w.Priority = *p.Priority
	}
	if p.Status != nil {
		w.Status = *p.Status
	}
	if p.IsFavorite != nil {
		w.IsFavorite = *p.IsFavorite
	}
	if p.ClearListID {
		w.ListID = nil
	} else if p.ListID != nil {
		id := *p.ListID
		w.ListID = &id
	}
	if p.Link != nil {
		w.Link = *p.Link
	}
	if p.ImageURL != nil {
		w.ImageURL = *p.ImageURL
	}
	if p.Tags != nil {
		w.Tags = slices.Clone(*p.Tags)
	}
	if p.Category != nil {
		w.Category = *p.Category
	}
	if p.Metadata != nil {
		m := *p.Metadata
		w.Metadata = &m
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
