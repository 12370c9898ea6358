package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orgkeep/backend/internal/models"
)

const uniqueViolation = "23505"

const userColumns = `id, name, email, password_hash, organizations, created_at, updated_at`

// Repository handles user persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a user repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Organizations, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user. A taken email yields models.ErrDuplicate.
func (r *Repository) Create(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	orgs := u.Organizations
	if orgs == nil {
		orgs = []string{}
	}
	_, err := r.pool.Exec(ctx, q, u.ID, u.Name, u.Email, u.PasswordHash, orgs, u.CreatedAt, u.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return models.ErrDuplicate
	}
	return err
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// AddOrganization appends orgID to the user's memberships unless already present.
func (r *Repository) AddOrganization(ctx context.Context, userID, orgID string) error {
	const q = `UPDATE users
		SET organizations = CASE WHEN $2 = ANY(organizations) THEN organizations ELSE array_append(organizations, $2) END,
		    updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RemoveOrganization drops orgID from the user's memberships.
func (r *Repository) RemoveOrganization(ctx context.Context, userID, orgID string) error {
	const q = `UPDATE users SET organizations = array_remove(organizations, $2), updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RemoveOrganizationFromAll drops orgID from every user that lists it.
func (r *Repository) RemoveOrganizationFromAll(ctx context.Context, orgID string) (int64, error) {
	const q = `UPDATE users SET organizations = array_remove(organizations, $1), updated_at = NOW()
		WHERE $1 = ANY(organizations)`
	tag, err := r.pool.Exec(ctx, q, orgID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
