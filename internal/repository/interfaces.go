package repository

import (
	"context"

	"github.com/Kerhoff/wishsync/internal/models"
)

// ProfileRepository defines the interface for remote profile rows
type ProfileRepository interface {
	// GetByID returns nil, nil when no profile exists for id
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	Create(ctx context.Context, profile *models.Profile) (*models.Profile, error)
	Update(ctx context.Context, profile *models.Profile) (*models.Profile, error)
}

// AccountRepository defines the interface for identity provider credentials
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	// GetByEmail returns nil, nil when no account uses email
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	// GetByID returns nil, nil when the account does not exist
	GetByID(ctx context.Context, id string) (*models.Account, error)
	ConfirmEmail(ctx context.Context, id string) (*models.Account, error)
}

// ListRepository defines the remote operations on wish lists
type ListRepository interface {
	// Create inserts the list and returns it with the remote-assigned id,
	// creation time and revision
	Create(ctx context.Context, list *models.WishList) (*models.WishList, error)
	// Update applies patch and returns the row's new revision
	Update(ctx context.Context, id string, patch models.ListPatch) (int64, error)
	Delete(ctx context.Context, id string) error
	// GetByID returns nil, nil when the list does not exist
	GetByID(ctx context.Context, id string) (*models.WishList, error)
	GetByUser(ctx context.Context, userID string) ([]*models.WishList, error)
}

// WishRepository defines the remote operations on wishes
type WishRepository interface {
	// Create inserts the wish and returns it with the remote-assigned id,
	// creation time and revision
	Create(ctx context.Context, wish *models.Wish) (*models.Wish, error)
	// Update applies patch and returns the row's new revision
	Update(ctx context.Context, id string, patch models.WishPatch) (int64, error)
	Delete(ctx context.Context, id string) error
	GetByList(ctx context.Context, listID string) ([]*models.Wish, error)
}
