package bus

import (
	"encoding/json"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// JobPayload is the wire envelope a work-queue message carries: enough for
// a worker to fetch the batch artifact from object store and report the
// result back on the status stream without a second round-trip through the
// relational store.
type JobPayload struct {
	Kind              Kind   `json:"kind"`
	TransformID       string `json:"transform_id"`
	EmbeddedDatasetID string `json:"embedded_dataset_id,omitempty"`
	BatchKey          string `json:"batch_key"`
	Bucket            string `json:"bucket"`
	ObjectKey         string `json:"object_key"`
	ChunkCount        int    `json:"chunk_count"`
	EmbedderID        string `json:"embedder_id,omitempty"`
}

// Marshal encodes the payload for PublishWithRetry/InsertPendingBatch.
func (p JobPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalJobPayload decodes a message body back into a JobPayload, the
// worker/listener side of the envelope.
func UnmarshalJobPayload(raw []byte) (JobPayload, error) {
	var p JobPayload
	err := json.Unmarshal(raw, &p)
	return p, err
}

// ResultPayload is the wire envelope a worker publishes on the
// transforms.{kind}.status.> subject once it finishes (or fails) a batch.
// It echoes ObjectKey/Bucket back so the listener never has to recompute an
// artifact's location from naming conventions.
type ResultPayload struct {
	Kind              Kind              `json:"kind"`
	TransformID       string            `json:"transform_id"`
	EmbeddedDatasetID string            `json:"embedded_dataset_id,omitempty"`
	BatchKey          string            `json:"batch_key"`
	Bucket            string            `json:"bucket"`
	ObjectKey         string            `json:"object_key"`
	Status            domain.BatchStatus `json:"status"`
	ChunksEmbedded    int               `json:"chunks_embedded"`
	ErrorMessage      string            `json:"error_message,omitempty"`

	// VisualizationID and the point/cluster counts are set only for
	// kind-3 results; every other field above still applies (BatchKey is
	// the viz- prefixed key the scanner dispatched under).
	VisualizationID string `json:"visualization_id,omitempty"`
	PointCount      int    `json:"point_count,omitempty"`
	ClusterCount    int    `json:"cluster_count,omitempty"`
}

// Marshal encodes the result for publishing.
func (p ResultPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalResultPayload decodes a status-subject message body.
func UnmarshalResultPayload(raw []byte) (ResultPayload, error) {
	var p ResultPayload
	err := json.Unmarshal(raw, &p)
	return p, err
}
