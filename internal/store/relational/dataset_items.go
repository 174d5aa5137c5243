package relational

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// ListDatasetItemsUpdatedSince is the scanner's kind-2/kind-3 high-watermark
// read (§4.G step 7): every item in datasetID whose updated_at is strictly
// after since, ordered so the caller can take max(updated_at) deterministically.
// A zero since reads the whole dataset, the bootstrap case for a brand new
// embedded dataset.
func (g *Gateway) ListDatasetItemsUpdatedSince(ctx context.Context, datasetID string, since time.Time) ([]domain.DatasetItem, error) {
	const sql = `SELECT id, dataset_id, title, chunks, updated_at
		FROM dataset_items WHERE dataset_id = $1 AND updated_at > $2
		ORDER BY updated_at ASC`
	rows, err := g.pool.Query(ctx, sql, datasetID, since)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.ListDatasetItemsUpdatedSince", err)
	}
	defer rows.Close()

	var out []domain.DatasetItem
	for rows.Next() {
		item, err := scanDatasetItem(rows)
		if err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.ListDatasetItemsUpdatedSince", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// CountDatasetChunks sums the chunk count across every item in a dataset,
// the scanner's step-2 "source dataset statistics" read.
func (g *Gateway) CountDatasetChunks(ctx context.Context, datasetID string) (int64, error) {
	const sql = `SELECT COALESCE(SUM(jsonb_array_length(chunks)), 0) FROM dataset_items WHERE dataset_id = $1`
	var total int64
	if err := g.pool.QueryRow(ctx, sql, datasetID).Scan(&total); err != nil {
		return 0, domain.NewError(domain.KindTransient, "relational.CountDatasetChunks", err)
	}
	return total, nil
}

func scanDatasetItem(rows pgx.Rows) (domain.DatasetItem, error) {
	var item domain.DatasetItem
	var rawChunks []byte
	if err := rows.Scan(&item.ID, &item.DatasetID, &item.Title, &rawChunks, &item.UpdatedAt); err != nil {
		return domain.DatasetItem{}, err
	}
	if err := json.Unmarshal(rawChunks, &item.Chunks); err != nil {
		return domain.DatasetItem{}, err
	}
	return item, nil
}
