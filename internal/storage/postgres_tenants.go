package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shoplens/medallion/internal/models"
)

// PostgresTenantRepo implements TenantRepo on PostgreSQL.
type PostgresTenantRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresTenantRepo creates a PostgreSQL-backed tenant repo.
func NewPostgresTenantRepo(pool *pgxpool.Pool) *PostgresTenantRepo {
	return &PostgresTenantRepo{pool: pool}
}

// EnsureSchema creates the tenants table if it does not exist.
func (r *PostgresTenantRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id              TEXT PRIMARY KEY,
			store_name      TEXT NOT NULL UNIQUE,
			email           TEXT NOT NULL UNIQUE,
			hashed_password BYTEA NOT NULL,
			domain          TEXT NOT NULL,
			api_key         TEXT UNIQUE,
			timezone        TEXT NOT NULL DEFAULT '',
			is_active       BOOLEAN NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tenants table: %w", err)
	}
	return nil
}

func (r *PostgresTenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenants (id, store_name, email, hashed_password, domain, api_key, timezone, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.StoreName, t.Email, t.HashedPassword, t.Domain, nullString(t.APIKey), t.Timezone, t.IsActive, t.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (r *PostgresTenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *PostgresTenantRepo) GetByEmail(ctx context.Context, email string) (*models.Tenant, error) {
	return r.getOne(ctx, `WHERE email = $1`, email)
}

func (r *PostgresTenantRepo) GetByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	return r.getOne(ctx, `WHERE api_key = $1`, apiKey)
}

func (r *PostgresTenantRepo) getOne(ctx context.Context, where string, arg any) (*models.Tenant, error) {
	var (
		t      models.Tenant
		apiKey *string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, store_name, email, hashed_password, domain, api_key, timezone, is_active, created_at
		FROM tenants `+where,
		arg,
	).Scan(&t.ID, &t.StoreName, &t.Email, &t.HashedPassword, &t.Domain, &apiKey, &t.Timezone, &t.IsActive, &t.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if apiKey != nil {
		t.APIKey = *apiKey
	}
	return &t, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
