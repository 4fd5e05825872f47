package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Kerhoff/wishsync/internal/apperr"
	"github.com/Kerhoff/wishsync/internal/models"
	"github.com/Kerhoff/wishsync/internal/repository"
)

type profileRepository struct {
	db *sql.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *sql.DB) repository.ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `
		SELECT id, email, name, avatar_url, currency, updated_at
		FROM profiles
		WHERE id = $1`

	profile := &models.Profile{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&profile.ID,
		&profile.Email,
		&profile.Name,
		&profile.AvatarURL,
		&profile.Currency,
		&profile.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("get profile by ID", err)
	}

	return profile, nil
}

func (r *profileRepository) Create(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	query := `
		INSERT INTO profiles (id, email, name, avatar_url, currency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING updated_at`

	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now()
	}
	if profile.Currency == "" {
		profile.Currency = models.DefaultCurrency
	}

	err := r.db.QueryRowContext(ctx, query,
		profile.ID,
		profile.Email,
		profile.Name,
		profile.AvatarURL,
		profile.Currency,
		profile.UpdatedAt,
	).Scan(&profile.UpdatedAt)

	if err != nil {
		return nil, classify("create profile", err)
	}

	return profile, nil
}

func (r *profileRepository) Update(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	query := `
		UPDATE profiles
		SET email = $2, name = $3, avatar_url = $4, currency = $5, updated_at = $6
		WHERE id = $1
		RETURNING updated_at`

	profile.UpdatedAt = time.Now()

	err := r.db.QueryRowContext(ctx, query,
		profile.ID,
		profile.Email,
		profile.Name,
		profile.AvatarURL,
		profile.Currency,
		profile.UpdatedAt,
	).Scan(&profile.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.RemoteWrite("update profile", fmt.Errorf("profile %s not found", profile.ID))
		}
		return nil, classify("update profile", err)
	}

	return profile, nil
}

type accountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *sql.DB) repository.AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, email, password_hash, name, avatar_url, currency, email_confirmed_at, created_at`

func scanAccount(row *sql.Row) (*models.Account, error) {
	account := &models.Account{}
	var confirmedAt sql.NullTime
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Name,
		&account.AvatarURL,
		&account.Currency,
		&confirmedAt,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		account.EmailConfirmedAt = &t
	}
	return account, nil
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query := `
		INSERT INTO accounts (email, password_hash, name, avatar_url, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + accountColumns

	created, err := scanAccount(r.db.QueryRowContext(ctx, query,
		strings.ToLower(account.Email),
		account.PasswordHash,
		account.Name,
		account.AvatarURL,
		account.Currency,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Auth("create account",
				"this email is already registered, please try logging in instead", err)
		}
		return nil, classify("create account", err)
	}

	return created, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("get account by email", err)
	}

	return account, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("get account by ID", err)
	}

	return account, nil
}

func (r *accountRepository) ConfirmEmail(ctx context.Context, id string) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET email_confirmed_at = COALESCE(email_confirmed_at, now())
		WHERE id = $1
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("confirm email", "account")
		}
		return nil, classify("confirm email", err)
	}

	return account, nil
}
