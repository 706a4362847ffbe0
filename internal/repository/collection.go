package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CollectionRepository struct {
	db dbtx
}

func NewCollectionRepository(pool *pgxpool.Pool) *CollectionRepository {
	return &CollectionRepository{db: pool}
}

func NewCollectionRepositoryWithTx(tx pgx.Tx) *CollectionRepository {
	return &CollectionRepository{db: tx}
}

func (r *CollectionRepository) Create(ctx context.Context, c *domain.Collection) error {
	cfg, err := encodeConfig(c.EmbeddingConfig)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO collections (id, name, type, embedding_config, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Name, c.Type, cfg, c.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrCollectionAlreadyExists
		}
		return err
	}
	return nil
}

func (r *CollectionRepository) GetByID(ctx context.Context, id string) (*domain.Collection, error) {
	var c domain.Collection
	var cfg []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, name, type, embedding_config, created_at
		 FROM collections WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.Type, &cfg, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCollectionNotFound
		}
		return nil, err
	}
	if len(cfg) > 0 {
		var pc domain.ProcessConfig
		if err := json.Unmarshal(cfg, &pc); err != nil {
			return nil, fmt.Errorf("decode embedding_config: %w", err)
		}
		c.EmbeddingConfig = &pc
	}
	return &c, nil
}

// UpdateEmbeddingConfig records the last processing bundle used in the
// collection. Credentials are stripped before writing.
func (r *CollectionRepository) UpdateEmbeddingConfig(ctx context.Context, id string, cfg domain.ProcessConfig) error {
	redacted := cfg.Redacted()
	raw, err := encodeConfig(&redacted)
	if err != nil {
		return err
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE collections SET embedding_config = $1 WHERE id = $2`,
		raw, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrCollectionNotFound
	}
	return nil
}

func encodeConfig(cfg *domain.ProcessConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	redacted := cfg.Redacted()
	raw, err := json.Marshal(redacted)
	if err != nil {
		return nil, fmt.Errorf("encode embedding_config: %w", err)
	}
	return raw, nil
}
