package relational

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

const embedderColumns = `id, owner_id, owner_name, provider, endpoint, model,
	encrypted_api_key, batch_size, dimensions, created_at, updated_at`

// GetEmbedderConfig reads a single embedder config scoped to its owner.
func (g *Gateway) GetEmbedderConfig(ctx context.Context, owner, id string) (domain.EmbedderConfig, error) {
	sql := `SELECT ` + embedderColumns + ` FROM embedders WHERE owner_id = $1 AND id = $2`
	return scanEmbedderRow(g.pool.QueryRow(ctx, sql, owner, id))
}

// GetEmbedderConfigPrivileged reads an embedder config without the owner
// filter, for the scanner's step 1 (fetch config, decrypt API key) where the
// caller already holds a privileged transform row naming the embedder id.
func (g *Gateway) GetEmbedderConfigPrivileged(ctx context.Context, id string) (domain.EmbedderConfig, error) {
	sql := `SELECT ` + embedderColumns + ` FROM embedders WHERE id = $1`
	return scanEmbedderRow(g.pool.QueryRow(ctx, sql, id))
}

// ListEmbedderConfigs returns every embedder config an owner has declared.
func (g *Gateway) ListEmbedderConfigs(ctx context.Context, owner string) ([]domain.EmbedderConfig, error) {
	sql := `SELECT ` + embedderColumns + ` FROM embedders WHERE owner_id = $1 ORDER BY created_at`
	rows, err := g.pool.Query(ctx, sql, owner)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.ListEmbedderConfigs", err)
	}
	defer rows.Close()

	var out []domain.EmbedderConfig
	for rows.Next() {
		e, err := scanEmbedderRows(rows)
		if err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.ListEmbedderConfigs", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateEmbedderConfig inserts a new embedder config and returns the row as
// written. The caller is responsible for encrypting the API key before
// calling this; the gateway only ever stores and returns the ciphertext.
func (g *Gateway) CreateEmbedderConfig(ctx context.Context, e domain.EmbedderConfig) (domain.EmbedderConfig, error) {
	sql := `INSERT INTO embedders (id, owner_id, owner_name, provider, endpoint, model,
		encrypted_api_key, batch_size, dimensions, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now(), now())
		RETURNING ` + embedderColumns
	row := g.pool.QueryRow(ctx, sql, e.ID, e.Owner.ID, e.Owner.DisplayName, e.Provider,
		e.Endpoint, e.Model, e.EncryptedAPIKey, e.BatchSize, e.Dimensions)
	return scanEmbedderRow(row)
}

// UpdateEmbedderConfig writes the full row and returns it.
func (g *Gateway) UpdateEmbedderConfig(ctx context.Context, e domain.EmbedderConfig) (domain.EmbedderConfig, error) {
	sql := `UPDATE embedders SET provider=$3, endpoint=$4, model=$5, encrypted_api_key=$6,
		batch_size=$7, dimensions=$8, updated_at=now()
		WHERE owner_id=$1 AND id=$2
		RETURNING ` + embedderColumns
	row := g.pool.QueryRow(ctx, sql, e.Owner.ID, e.ID, e.Provider, e.Endpoint, e.Model,
		e.EncryptedAPIKey, e.BatchSize, e.Dimensions)
	return scanEmbedderRow(row)
}

// DeleteEmbedderConfig removes an embedder config. Callers must check
// EmbeddedDatasetsForEmbedder first and reject with ErrEmbedderInUse; this
// method does not re-check referential integrity itself.
func (g *Gateway) DeleteEmbedderConfig(ctx context.Context, owner, id string) error {
	const sql = `DELETE FROM embedders WHERE owner_id=$1 AND id=$2`
	tag, err := g.pool.Exec(ctx, sql, owner, id)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.DeleteEmbedderConfig", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "relational.DeleteEmbedderConfig", nil)
	}
	return nil
}

func scanEmbedderRow(row pgx.Row) (domain.EmbedderConfig, error) {
	var e domain.EmbedderConfig
	err := row.Scan(&e.ID, &e.Owner.ID, &e.Owner.DisplayName, &e.Provider, &e.Endpoint, &e.Model,
		&e.EncryptedAPIKey, &e.BatchSize, &e.Dimensions, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EmbedderConfig{}, domain.NewError(domain.KindNotFound, "relational.GetEmbedderConfig", err)
		}
		return domain.EmbedderConfig{}, domain.NewError(domain.KindTransient, "relational.GetEmbedderConfig", err)
	}
	return e, nil
}

func scanEmbedderRows(rows pgx.Rows) (domain.EmbedderConfig, error) {
	var e domain.EmbedderConfig
	err := rows.Scan(&e.ID, &e.Owner.ID, &e.Owner.DisplayName, &e.Provider, &e.Endpoint, &e.Model,
		&e.EncryptedAPIKey, &e.BatchSize, &e.Dimensions, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}
