package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/repository"
)

type wishRepository struct {
	db *sql.DB
}

// NewWishRepository creates a new wish repository
func NewWishRepository(db *sql.DB) repository.WishRepository {
	return &wishRepository{db: db}
}

const wishColumns = `id, title, description, price, priority, status, is_favorite, list_id,
	link, image_url, source, tags, category, metadata, user_id, created_at, revision`

func scanWish(row interface{ Scan(...any) error }) (*models.Wish, error) {
	wish := &models.Wish{}
	var listID sql.NullString
	var metadata []byte
	err := row.Scan(
		&wish.ID,
		&wish.Title,
		&wish.Description,
		&wish.Price,
		&wish.Priority,
		&wish.Status,
		&wish.IsFavorite,
		&listID,
		&wish.Link,
		&wish.ImageURL,
		&wish.Source,
		pq.Array(&wish.Tags),
		&wish.Category,
		&metadata,
		&wish.UserID,
		&wish.CreatedAt,
		&wish.Revision,
	)
	if err != nil {
		return nil, err
	}
	if listID.Valid {
		id := listID.String
		wish.ListID = &id
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		wish.Metadata = &models.WishMetadata{}
		if err := json.Unmarshal(metadata, wish.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode wish metadata: %w", err)
		}
	}
	return wish, nil
}

func encodeMetadata(m *models.WishMetadata) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wish metadata: %w", err)
	}
	return data, nil
}

func nullableID(id *string) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *id, Valid: true}
}

func (r *wishRepository) Create(ctx context.Context, wish *models.Wish) (*models.Wish, error) {
	query := `
		INSERT INTO wishes (title, description, price, priority, status, is_favorite, list_id,
			link, image_url, source, tags, category, metadata, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + wishColumns

	metadata, err := encodeMetadata(wish.Metadata)
	if err != nil {
		return nil, err
	}

	created, err := scanWish(r.db.QueryRowContext(ctx, query,
		wish.Title,
		wish.Description,
		wish.Price,
		wish.Priority,
		wish.Status,
		wish.IsFavorite,
		nullableID(wish.ListID),
		wish.Link,
		wish.ImageURL,
		wish.Source,
		pq.Array(wish.Tags),
		wish.Category,
		metadata,
		wish.UserID,
	))
	if err != nil {
		return nil, classify("create wish", err)
	}

	return created, nil
}

func (r *wishRepository) Update(ctx context.Context, id string, patch models.WishPatch) (int64, error) {
	var b updateBuilder
	if patch.Title != nil {
		b.set("title", *patch.Title)
	}
	if patch.Description != nil {
		b.set("description", *patch.Description)
	}
	if patch.Price != nil {
		b.set("price", *patch.Price)
	}
	if patch.Priority != nil {
		b.set("priority", *patch.Priority)
	}
	if patch.Status != nil {
		b.set("status", *patch.Status)
	}
	if patch.IsFavorite != nil {
		b.set("is_favorite", *patch.IsFavorite)
	}
	if patch.ClearListID {
		b.raw("list_id = NULL")
	} else if patch.ListID != nil {
		b.set("list_id", *patch.ListID)
	}
	if patch.Link != nil {
		b.set("link", *patch.Link)
	}
	if patch.ImageURL != nil {
		b.set("image_url", *patch.ImageURL)
	}
	if patch.Tags != nil {
		b.set("tags", pq.Array(*patch.Tags))
	}
	if patch.Category != nil {
		b.set("category", *patch.Category)
	}
	if patch.Metadata != nil {
		metadata, err := encodeMetadata(patch.Metadata)
		if err != nil {
			return 0, err
		}
		b.set("metadata", metadata)
	}
	if b.empty() {
		return 0, nil
	}
	b.raw("revision = revision + 1")

	query, args := b.build("wishes", id)
	return updateRevision(ctx, r.db, "update wish", query, args...)
}

func (r *wishRepository) Delete(ctx context.Context, id string) error {
	return execAffectingOne(ctx, r.db, "delete wish", `DELETE FROM wishes WHERE id = $1`, id)
}

func (r *wishRepository) GetByList(ctx context.Context, listID string) ([]*models.Wish, error) {
	query := `
		SELECT ` + wishColumns + `
		FROM wishes
		WHERE list_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, classify("query wishes by list", err)
	}
	defer rows.Close()

	wishes := []*models.Wish{}
	for rows.Next() {
		wish, err := scanWish(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wish: %w", err)
		}
		wishes = append(wishes, wish)
	}

	return wishes, rows.Err()
}
