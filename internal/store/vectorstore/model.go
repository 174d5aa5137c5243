package vectorstore

import (
	"fmt"

	"github.com/google/uuid"
)

// PointRecord is one chunk's vector plus the payload stored alongside it.
type PointRecord struct {
	EmbeddedDatasetID string
	ItemID            string
	ChunkIndex        int
	Embedding         []float32
	Payload           map[string]any
}

// PointID computes the deterministic v5 UUID for a chunk, per §4.C:
// uuid_v5(NAMESPACE_URL, "ed-{embedded_dataset_id}-item-{item_id}-chunk-{chunk_index}").
// Re-processing the same chunk always yields the same point id, so a
// re-run updates the existing point instead of creating a duplicate.
func PointID(embeddedDatasetID, itemID string, chunkIndex int) uuid.UUID {
	name := fmt.Sprintf("ed-%s-item-%s-chunk-%d", embeddedDatasetID, itemID, chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name))
}

// SearchResult is one k-NN match.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]string
}
