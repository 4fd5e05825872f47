package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/repository"
)

type listRepository struct {
	db *sql.DB
}

// NewListRepository creates a new wish list repository
func NewListRepository(db *sql.DB) repository.ListRepository {
	return &listRepository{db: db}
}

const listColumns = `id, name, description, type, visibility, user_id, share_id,
	collaborators, tags, category, image_url, created_at, last_modified, modified_by, revision`

func scanList(row interface{ Scan(...any) error }) (*models.WishList, error) {
	list := &models.WishList{}
	var shareID, modifiedBy sql.NullString
	var lastModified sql.NullTime
	err := row.Scan(
		&list.ID,
		&list.Name,
		&list.Description,
		&list.Type,
		&list.Visibility,
		&list.UserID,
		&shareID,
		pq.Array(&list.Collaborators),
		pq.Array(&list.Tags),
		&list.Category,
		&list.ImageURL,
		&list.CreatedAt,
		&lastModified,
		&modifiedBy,
		&list.Revision,
	)
	if err != nil {
		return nil, err
	}
	list.ShareID = shareID.String
	list.ModifiedBy = modifiedBy.String
	if lastModified.Valid {
		t := lastModified.Time
		list.LastModified = &t
	}
	if list.Collaborators == nil {
		list.Collaborators = []string{}
	}
	if list.Tags == nil {
		list.Tags = []string{}
	}
	return list, nil
}

func (r *listRepository) Create(ctx context.Context, list *models.WishList) (*models.WishList, error) {
	query := `
		INSERT INTO lists (name, description, type, visibility, user_id, share_id,
			collaborators, tags, category, image_url)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)
		RETURNING ` + listColumns

	created, err := scanList(r.db.QueryRowContext(ctx, query,
		list.Name,
		list.Description,
		list.Type,
		list.Visibility,
		list.UserID,
		list.ShareID,
		pq.Array(list.Collaborators),
		pq.Array(list.Tags),
		list.Category,
		list.ImageURL,
	))
	if err != nil {
		return nil, classify("create wish list", err)
	}

	return created, nil
}

func (r *listRepository) Update(ctx context.Context, id string, patch models.ListPatch) (int64, error) {
	var b updateBuilder
	if patch.Name != nil {
		b.set("name", *patch.Name)
	}
	if patch.Description != nil {
		b.set("description", *patch.Description)
	}
	if patch.Type != nil {
		b.set("type", *patch.Type)
	}
	if patch.Visibility != nil {
		b.set("visibility", *patch.Visibility)
	}
	if patch.ShareID != nil {
		b.set("share_id", sql.NullString{String: *patch.ShareID, Valid: *patch.ShareID != ""})
	}
	if patch.Collaborators != nil {
		b.set("collaborators", pq.Array(*patch.Collaborators))
	}
	if patch.Tags != nil {
		b.set("tags", pq.Array(*patch.Tags))
	}
	if patch.Category != nil {
		b.set("category", *patch.Category)
	}
	if patch.ImageURL != nil {
		b.set("image_url", *patch.ImageURL)
	}
	if patch.ModifiedBy != nil {
		b.set("modified_by", *patch.ModifiedBy)
	}
	if b.empty() {
		return 0, nil
	}
	b.raw("last_modified = now()")
	b.raw("revision = revision + 1")

	query, args := b.build("lists", id)
	return updateRevision(ctx, r.db, "update wish list", query, args...)
}

func (r *listRepository) Delete(ctx context.Context, id string) error {
	return execAffectingOne(ctx, r.db, "delete wish list", `DELETE FROM lists WHERE id = $1`, id)
}

func (r *listRepository) GetByID(ctx context.Context, id string) (*models.WishList, error) {
	query := `SELECT ` + listColumns + ` FROM lists WHERE id = $1`

	list, err := scanList(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get wish list", err)
	}

	return list, nil
}

func (r *listRepository) GetByUser(ctx context.Context, userID string) ([]*models.WishList, error) {
	query := `
		SELECT ` + listColumns + `
		FROM lists
		WHERE user_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, classify("query wish lists by user", err)
	}
	defer rows.Close()

	lists := []*models.WishList{}
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wish list: %w", err)
		}
		lists = append(lists, list)
	}

	return lists, rows.Err()
}

// updateRevision runs an UPDATE built by updateBuilder and returns the new
// revision. No returned row means the row is gone or an access policy
// filtered it out.
func updateRevision(ctx context.Context, db *sql.DB, op, query string, args ...any) (int64, error) {
	var revision int64
	err := db.QueryRowContext(ctx, query+" RETURNING revision", args...).Scan(&revision)
	if err == sql.ErrNoRows {
		return 0, apperr.RemoteWrite(op, fmt.Errorf("row not found or not writable"))
	}
	if err != nil {
		return 0, classify(op, err)
	}
	return revision, nil
}

// execAffectingOne runs a write that must touch a row. Zero affected rows
// means the row is gone or an access policy filtered it out.
func execAffectingOne(ctx context.Context, db *sql.DB, op, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperr.RemoteWrite(op, fmt.Errorf("row not found or not writable"))
	}

	return nil
}
