package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	Create(ctx context.Context, user *User) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByOIDCSubject(ctx context.Context, subject string) (*User, error)
	LinkOIDCSubject(ctx context.Context, id uuid.UUID, subject string) error

	GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)
	UpdateProfile(ctx context.Context, profile *Profile) error

	ListAddresses(ctx context.Context, userID uuid.UUID) ([]Address, error)
	CreateAddress(ctx context.Context, address *Address) error
	DeleteAddress(ctx context.Context, userID, id uuid.UUID) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

const userColumns = `id, email, COALESCE(password_hash, ''), COALESCE(oidc_subject, ''), role, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.OIDCSubject, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to scan user: %w", err)
	}
	return &u, nil
}

// Create inserts the user together with an empty profile.
func (r *postgresRepository) Create(ctx context.Context, user *User) (id uuid.UUID, err error) {
	id, err = uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to generate user ID: %w", err)
	}
	if user.Role == "" {
		user.Role = RoleCustomer
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("email", user.Email).Msg("Failed to rollback user transaction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit user: %w", commitErr)
		}
	}()

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, oidc_subject, role, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)`,
		id, user.Email, user.PasswordHash, user.OIDCSubject, string(user.Role), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, ErrEmailExists
		}
		return uuid.Nil, fmt.Errorf("repository: failed to insert user: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO user_profiles (user_id, updated_at) VALUES ($1, $2)`, id, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to insert profile: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return id, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *postgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (r *postgresRepository) GetByOIDCSubject(ctx context.Context, subject string) (*User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE oidc_subject = $1`, subject))
}

func (r *postgresRepository) LinkOIDCSubject(ctx context.Context, id uuid.UUID, subject string) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE users SET oidc_subject = $1, updated_at = NOW() WHERE id = $2`, subject, id)
	if err != nil {
		return fmt.Errorf("repository: failed to link identity to user %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var p Profile
	err := r.db.QueryRow(ctx, `
		SELECT user_id, first_name, last_name, phone, updated_at
		FROM user_profiles
		WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.FirstName, &p.LastName, &p.Phone, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select profile for %s: %w", userID, err)
	}
	return &p, nil
}

func (r *postgresRepository) UpdateProfile(ctx context.Context, profile *Profile) error {
	profile.UpdatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_profiles (user_id, first_name, last_name, phone, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone, updated_at = EXCLUDED.updated_at`,
		profile.UserID, profile.FirstName, profile.LastName, profile.Phone, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to update profile for %s: %w", profile.UserID, err)
	}
	return nil
}

func (r *postgresRepository) ListAddresses(ctx context.Context, userID uuid.UUID) ([]Address, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, line1, line2, city, region, postal_code, country, is_default, created_at
		FROM addresses
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query addresses for %s: %w", userID, err)
	}
	defer rows.Close()

	addresses := make([]Address, 0)
	for rows.Next() {
		var a Address
		if err := rows.Scan(&a.ID, &a.UserID, &a.Line1, &a.Line2, &a.City, &a.Region, &a.PostalCode, &a.Country, &a.IsDefault, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan address: %w", err)
		}
		addresses = append(addresses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating addresses: %w", err)
	}
	return addresses, nil
}

// CreateAddress stores the address; a default address clears the flag on
// the user's other addresses in the same transaction.
func (r *postgresRepository) CreateAddress(ctx context.Context, address *Address) (err error) {
	if address.ID, err = uuid.NewV4(); err != nil {
		return fmt.Errorf("repository: failed to generate address ID: %w", err)
	}
	address.CreatedAt = time.Now().UTC()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("user_id", address.UserID).Msg("Failed to rollback address transaction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit address: %w", commitErr)
		}
	}()

	if address.IsDefault {
		if _, err = tx.Exec(ctx, `UPDATE addresses SET is_default = FALSE WHERE user_id = $1`, address.UserID); err != nil {
			return fmt.Errorf("repository: failed to reset default address: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO addresses (id, user_id, line1, line2, city, region, postal_code, country, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		address.ID, address.UserID, address.Line1, address.Line2, address.City, address.Region,
		address.PostalCode, address.Country, address.IsDefault, address.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert address: %w", err)
	}
	return nil
}

func (r *postgresRepository) DeleteAddress(ctx context.Context, userID, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM addresses WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete address %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrAddressNotFound
	}
	return nil
}
