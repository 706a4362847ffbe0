package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProviderKeyRepository stores embedding-provider credentials per identity.
type ProviderKeyRepository struct {
	db dbtx
}

func NewProviderKeyRepository(pool *pgxpool.Pool) *ProviderKeyRepository {
	return &ProviderKeyRepository{db: pool}
}

func (r *ProviderKeyRepository) GetProviderKey(ctx context.Context, identity, provider string) (*domain.ProviderKey, error) {
	var key domain.ProviderKey
	err := r.db.QueryRow(ctx,
		`SELECT identity, provider, api_key, updated_at
		 FROM provider_keys WHERE identity = $1 AND provider = $2`,
		identity, provider,
	).Scan(&key.Identity, &key.Provider, &key.APIKey, &key.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProviderKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

// Set inserts or replaces the identity's key for provider.
func (r *ProviderKeyRepository) Set(ctx context.Context, key *domain.ProviderKey) error {
	updatedAt := key.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO provider_keys (identity, provider, api_key, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (identity, provider)
		 DO UPDATE SET api_key = EXCLUDED.api_key, updated_at = EXCLUDED.updated_at`,
		key.Identity, key.Provider, key.APIKey, updatedAt,
	)
	return err
}

func (r *ProviderKeyRepository) Delete(ctx context.Context, identity, provider string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM provider_keys WHERE identity = $1 AND provider = $2`,
		identity, provider,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrProviderKeyNotFound
	}
	return nil
}
