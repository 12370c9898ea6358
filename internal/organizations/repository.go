package organizations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orgkeep/backend/internal/models"
)

const orgColumns = `id, name, description, created_by, members, version, created_at, updated_at`

// Repository handles organization persistence in PostgreSQL. Members are stored as a jsonb array
// so the list keeps its insertion order.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an organizations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanOrganization(row pgx.Row) (*models.Organization, error) {
	var (
		org     models.Organization
		members []byte
	)
	err := row.Scan(&org.ID, &org.Name, &org.Description, &org.CreatedBy, &members, &org.Version, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(members, &org.Members); err != nil {
		return nil, fmt.Errorf("decode members of %s: %w", org.ID, err)
	}
	return &org, nil
}

func encodeMembers(members []models.Member) ([]byte, error) {
	if members == nil {
		members = []models.Member{}
	}
	return json.Marshal(members)
}

// Create inserts an organization.
func (r *Repository) Create(ctx context.Context, org *models.Organization) error {
	members, err := encodeMembers(org.Members)
	if err != nil {
		return err
	}
	const q = `INSERT INTO organizations (` + orgColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.pool.Exec(ctx, q, org.ID, org.Name, org.Description, org.CreatedBy, members, org.Version, org.CreatedAt, org.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return models.ErrDuplicate
	}
	return err
}

// GetByID returns an organization by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	return scanOrganization(r.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
}

// where renders the filter as a WHERE clause with its arguments.
func where(filter models.OrganizationFilter) (string, []any) {
	clause := `WHERE members @> jsonb_build_array(jsonb_build_object('email', $1::text))`
	args := []any{filter.MemberEmail}
	if filter.Search != "" {
		clause += ` AND name ILIKE $2 ESCAPE '\'`
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}
	return clause, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// List returns the organizations matching filter, newest first.
func (r *Repository) List(ctx context.Context, filter models.OrganizationFilter, skip, limit int) ([]models.Organization, error) {
	clause, args := where(filter)
	q := fmt.Sprintf(`SELECT %s FROM organizations %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		orgColumns, clause, len(args)+1, len(args)+2)
	args = append(args, limit, skip)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *org)
	}
	return list, rows.Err()
}

// Count returns the number of organizations matching filter.
func (r *Repository) Count(ctx context.Context, filter models.OrganizationFilter) (int, error) {
	clause, args := where(filter)
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations `+clause, args...).Scan(&n)
	return n, err
}

// Update writes org if the stored version still equals org.Version.
func (r *Repository) Update(ctx context.Context, org *models.Organization) error {
	members, err := encodeMembers(org.Members)
	if err != nil {
		return err
	}
	const q = `UPDATE organizations
		SET name = $3, description = $4, members = $5, updated_at = $6, version = version + 1
		WHERE id = $1 AND version = $2`
	tag, err := r.pool.Exec(ctx, q, org.ID, org.Version, org.Name, org.Description, members, org.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1)`, org.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return models.ErrNotFound
		}
		return models.ErrVersionConflict
	}
	org.Version++
	return nil
}

// Delete removes an organization.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
