package transform

import (
	"encoding/json"
	"fmt"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/internal/store/vectorstore"
)

// ChunkPayload carries the metadata a worker needs to upsert a vector
// without re-reading the source dataset item, bit-exact with spec's
// object-store key layout: payload:{item_id,item_title,chunk_index,
// chunk_metadata,item_metadata}.
type ChunkPayload struct {
	ItemID        string         `json:"item_id"`
	ItemTitle     string         `json:"item_title"`
	ChunkIndex    int            `json:"chunk_index"`
	ChunkMetadata map[string]any `json:"chunk_metadata,omitempty"`
	ItemMetadata  map[string]any `json:"item_metadata,omitempty"`
}

// ChunkRecord is one array element of a batch artifact: {id, text, payload}.
type ChunkRecord struct {
	ID      string       `json:"id"`
	Text    string       `json:"text"`
	Payload ChunkPayload `json:"payload"`
}

// MarshalBatchArtifact encodes a batch's chunk records as the bare JSON
// array the object-store key layout specifies (not wrapped in an envelope).
func MarshalBatchArtifact(records []ChunkRecord) ([]byte, error) {
	return json.Marshal(records)
}

// UnmarshalBatchArtifact decodes an artifact body read back from object
// store, the worker/listener side.
func UnmarshalBatchArtifact(raw []byte) ([]ChunkRecord, error) {
	var records []ChunkRecord
	err := json.Unmarshal(raw, &records)
	return records, err
}

// ChunksToRecords flattens a dataset item's chunks into ChunkRecords,
// computing each one's deterministic vector-store point id up front (§4.C)
// so it travels with the chunk from dispatch through to the upsert.
func ChunksToRecords(embeddedDatasetID string, item domain.DatasetItem) []ChunkRecord {
	out := make([]ChunkRecord, len(item.Chunks))
	for i, c := range item.Chunks {
		out[i] = ChunkRecord{
			ID:   vectorstore.PointID(embeddedDatasetID, item.ID, c.Index).String(),
			Text: c.Content,
			Payload: ChunkPayload{
				ItemID:        item.ID,
				ItemTitle:     item.Title,
				ChunkIndex:    c.Index,
				ChunkMetadata: c.Metadata,
			},
		}
	}
	return out
}

// BatchObjectKey builds the embedded-dataset batch artifact key, bit-exact
// per spec's object-store key layout.
func BatchObjectKey(embeddedDatasetID string, batchKey string) string {
	return fmt.Sprintf("embedded-datasets/embedded-dataset-%s/batches/%s.json", embeddedDatasetID, batchKey)
}

// CollectionObjectKey builds a source file's key under a collection prefix
// (kind-1's input), bit-exact per spec's object-store key layout.
func CollectionObjectKey(collectionID, filename string) string {
	return fmt.Sprintf("collections/%s/%s", collectionID, filename)
}

// BatchKey derives the stable "batch-{n}-{uuid}" suffix spec's key layout
// names, seeded from the batch's first chunk id so re-scanning the same
// chunk set after a crash reproduces the same key and collides harmlessly
// with the ledger's idempotency check instead of creating a duplicate.
func BatchKey(seq int, records []ChunkRecord) string {
	if len(records) == 0 {
		return fmt.Sprintf("batch-%d-empty", seq)
	}
	return fmt.Sprintf("batch-%d-%s", seq, records[0].ID)
}
