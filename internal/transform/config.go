package transform

import (
	"encoding/json"
	"fmt"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// CollectionToDatasetConfig configures a kind-1 transform: extract and
// chunk files from a collection into a dataset.
type CollectionToDatasetConfig struct {
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	MimeAllow    []string `json:"mime_allow,omitempty"`
}

// DatasetToVectorStorageConfig configures a kind-2 transform: embed a
// dataset's chunks and store the resulting vectors.
type DatasetToVectorStorageConfig struct {
	EmbedderID     string `json:"embedder_id"`
	BatchSize      int    `json:"batch_size"`
	DistanceMetric string `json:"distance_metric,omitempty"`
}

// VisualizationConfig configures a kind-3 transform: dimensionality
// reduction + clustering over an embedded dataset's points.
type VisualizationConfig struct {
	EmbedderID    string  `json:"embedder_id"`
	NNeighbors    int     `json:"n_neighbors"`
	MinClusterSize int    `json:"min_cluster_size"`
	MinSamples    int     `json:"min_samples,omitempty"`
}

// ParsedConfig is the typed sum type §9 requires at the request boundary:
// exactly one of the three fields is populated, selected by kind.
type ParsedConfig struct {
	Kind               domain.Kind
	CollectionToDataset    *CollectionToDatasetConfig
	DatasetToVectorStorage *DatasetToVectorStorageConfig
	Visualization          *VisualizationConfig
}

// ParseConfig turns the opaque config document stored at rest into one of
// the three typed configs for the given kind. The document stays opaque
// (json.RawMessage) in storage; parsing happens only here, at the
// boundary, never inside the gateway.
func ParseConfig(kind domain.Kind, raw json.RawMessage) (ParsedConfig, error) {
	switch kind {
	case domain.KindCollectionToDataset:
		var c CollectionToDatasetConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return ParsedConfig{}, domain.NewValidationError("config", string(raw), fmt.Errorf("%w: %v", domain.ErrValidation, err))
		}
		return ParsedConfig{Kind: kind, CollectionToDataset: &c}, nil
	case domain.KindDatasetToVectorStorage:
		var c DatasetToVectorStorageConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return ParsedConfig{}, domain.NewValidationError("config", string(raw), fmt.Errorf("%w: %v", domain.ErrValidation, err))
		}
		return ParsedConfig{Kind: kind, DatasetToVectorStorage: &c}, nil
	case domain.KindVisualization:
		var c VisualizationConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return ParsedConfig{}, domain.NewValidationError("config", string(raw), fmt.Errorf("%w: %v", domain.ErrValidation, err))
		}
		return ParsedConfig{Kind: kind, Visualization: &c}, nil
	default:
		return ParsedConfig{}, domain.NewValidationError("kind", string(kind), domain.ErrUnknownKind)
	}
}
