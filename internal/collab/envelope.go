package collab

import (
	"github.com/Kerhoff/wishsync/internal/models"
)

// MessageType identifies an envelope
type MessageType string

const (
	MessagePresence MessageType = "presence"
	MessagePatch    MessageType = "patch"
	MessageLeave    MessageType = "leave"
)

// EntityKind is the entity a patch refers to
type EntityKind string

const (
	EntityWish EntityKind = "wish"
	EntityList EntityKind = "list"
)

// Patch is a change to one entity of the room's list
type Patch struct {
	Kind    EntityKind        `json:"kind"`
	ID      string            `json:"id"`
	Deleted bool              `json:"_deleted,omitempty"`
	Wish    *models.Wish      `json:"wish,omitempty"`
	List    *models.ListPatch `json:"list,omitempty"`
}

// Presence announces a connected peer
type Presence struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// Envelope is the unit every transport carries
type Envelope struct {
	Type     MessageType `json:"type"`
	Room     string      `json:"room"`
	Origin   string      `json:"origin"`
	Clock    uint64      `json:"clock,omitempty"`
	Patch    *Patch      `json:"patch,omitempty"`
	Presence *Presence   `json:"presence,omitempty"`
}

// RoomName returns the room of a list
func RoomName(listID string) string {
	return "list-" + listID
}

// listPatchOf returns a patch that sets every editable field of l
func listPatchOf(l *models.WishList) models.ListPatch {
	c := l.Clone()
	return models.ListPatch{
		Name:          &c.Name,
		Description:   &c.Description,
		Type:          &c.Type,
		Visibility:    &c.Visibility,
		ShareID:       &c.ShareID,
		Collaborators: &c.Collaborators,
		Tags:          &c.Tags,
		Category:      &c.Category,
		ImageURL:      &c.ImageURL,
		ModifiedBy:    &c.ModifiedBy,
	}
}
