// Package domain holds the transform pipeline's core entities: transforms,
// dataset items, embedded datasets, the processed-batch ledger, pending
// batches, running stats, visualizations, and bearer-cache entries.
package domain

import (
	"encoding/json"
	"time"
)

// Kind identifies one of the three transform job kinds.
type Kind string

const (
	KindCollectionToDataset    Kind = "collection_to_dataset"
	KindDatasetToVectorStorage Kind = "dataset_to_vector_storage"
	KindVisualization          Kind = "visualization"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCollectionToDataset, KindDatasetToVectorStorage, KindVisualization:
		return true
	}
	return false
}

// Owner identifies the tenant that owns an entity.
type Owner struct {
	ID          string
	DisplayName string
}

// Transform is a user-declared pipeline from one resource kind to another.
type Transform struct {
	ID                 string
	Title               string
	Owner               Owner
	Kind                Kind
	SourceResourceID    string
	TargetResourceID    string
	EmbedderIDs         []string
	Config              json.RawMessage
	CollectionMappings  map[string]string
	Enabled             bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Chunk is one slice of a dataset item's content.
type Chunk struct {
	Index    int
	Content  string
	Metadata map[string]any
}

// DatasetItem is one source document split into ordered chunks.
type DatasetItem struct {
	ID        string
	DatasetID string
	Title     string
	Chunks    []Chunk
	UpdatedAt time.Time
}

// EmbeddedDataset materializes {dataset_id x embedder_id} for a kind-2 transform.
type EmbeddedDataset struct {
	ID                 string
	SourceDatasetID    string
	EmbedderID         string
	CollectionName     string
	LastProcessedAt    time.Time
	DatasetTransformID string
}

// BatchStatus is the lifecycle state of one ledger entry. "completed" and
// "success" are both terminal-success spellings: kind-1 (collection->dataset)
// writes "completed", kind-2 (dataset->vector-storage) writes "success".
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchSuccess    BatchStatus = "success"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// TerminalSuccess reports whether s is a completed-successfully state.
func (s BatchStatus) TerminalSuccess() bool {
	return s == BatchSuccess || s == BatchCompleted
}

// ProcessedBatch is the durable idempotency ledger row, keyed by
// (transform_id, file_key) for kind-1 or (embedded_dataset_id, batch_key)
// for kind-2/3.
type ProcessedBatch struct {
	TransformID       string
	EmbeddedDatasetID string
	BatchKey          string
	Status            BatchStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Key returns the ledger's composite idempotency key.
func (p ProcessedBatch) Key() string {
	if p.EmbeddedDatasetID != "" {
		return p.EmbeddedDatasetID + "/" + p.BatchKey
	}
	return p.TransformID + "/" + p.BatchKey
}

// DatasetTransformBatch mirrors the ledger with UI-facing aggregates.
type DatasetTransformBatch struct {
	TransformID string
	BatchKey    string
	Status      BatchStatus
	ChunkCount  int
	DurationMS  int64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// PendingStatus is the lifecycle of a pending_batches row.
type PendingStatus string

const (
	PendingOpen      PendingStatus = "pending"
	PendingPublished PendingStatus = "published"
	PendingFailed    PendingStatus = "failed"
	PendingExpired   PendingStatus = "expired"
)

// PendingBatch is a durable retry record inserted when a bus publish fails.
type PendingBatch struct {
	ID                string
	BatchType         Kind
	TransformID       string
	EmbeddedDatasetID string
	BatchKey          string
	Bucket            string
	Payload           json.RawMessage
	RetryCount        int
	MaxRetries        int
	LastError         string
	Status            PendingStatus
	CreatedAt         time.Time
}

// TransformStats are per-transform running counters maintained by atomic SQL
// increments inside the listener's transaction.
type TransformStats struct {
	TransformID            string
	DispatchedBatches      int64
	ProcessingBatches      int64
	SuccessfulBatches      int64
	FailedBatches          int64
	TotalChunksToProcess   int64
	TotalChunksEmbedded    int64
	LastDispatchedAt       *time.Time
	LastCompletedAt        *time.Time
}

// VisualizationStatus is the lifecycle of a kind-3 output record.
type VisualizationStatus string

const (
	VisualizationPending    VisualizationStatus = "pending"
	VisualizationProcessing VisualizationStatus = "processing"
	VisualizationCompleted  VisualizationStatus = "completed"
	VisualizationFailed     VisualizationStatus = "failed"
)

// Visualization is the output record for a kind-3 (dimensionality
// reduction + clustering) transform.
type Visualization struct {
	ID           string
	TransformID  string
	Status       VisualizationStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ArtifactKey  string
	PointCount   int
	ClusterCount int
	ErrorMessage string
	Stats        json.RawMessage
}

// EmbedderConfig is the user-declared connection to an embedding provider,
// referenced by a kind-2/3 transform's EmbedderIDs. EncryptedAPIKey is the
// value as stored at rest; gateways never decrypt it, only the encryption
// seam in internal/transform does (§4.G step 1).
type EmbedderConfig struct {
	ID              string
	Owner           Owner
	Provider        string
	Endpoint        string
	Model           string
	EncryptedAPIKey string
	BatchSize       int
	Dimensions      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserInfo is the OIDC userinfo payload cached by the bearer-token cache.
type UserInfo struct {
	Subject     string
	Email       string
	DisplayName string
}

// BearerCacheEntry is keyed by SHA-256 of the raw bearer token. The raw
// token itself is never stored.
type BearerCacheEntry struct {
	TokenHash   [32]byte
	User        UserInfo
	InsertedAt  time.Time
}

// ListOpts parameterizes a paginated, sorted, optionally-filtered listing.
type ListOpts struct {
	Owner         string
	Limit         int
	Offset        int
	SortField     string
	SortDirection string
	Search        string
}
