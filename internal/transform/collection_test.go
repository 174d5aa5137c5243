package transform

import (
	"encoding/json"
	"testing"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

func TestGenerateCollectionName_Deterministic(t *testing.T) {
	a := GenerateCollectionName("ds-1", "emb-1", "t-1", "owner-a")
	b := GenerateCollectionName("ds-1", "emb-1", "t-1", "owner-a")
	if a != b {
		t.Fatalf("expected deterministic output, got %q vs %q", a, b)
	}
}

func TestGenerateCollectionName_OwnerIsolation(t *testing.T) {
	a := GenerateCollectionName("ds-1", "emb-1", "t-1", "owner-a")
	b := GenerateCollectionName("ds-1", "emb-1", "t-1", "owner-b")
	if a == b {
		t.Fatalf("expected distinct owners to yield distinct collection names, got %q for both", a)
	}
}

func TestGenerateCollectionNameSuffixed(t *testing.T) {
	base := GenerateCollectionName("ds-1", "emb-1", "t-1", "owner-a")
	reduced := GenerateCollectionNameSuffixed("ds-1", "emb-1", "t-1", "owner-a", "reduced")
	if reduced != base+"-reduced" {
		t.Fatalf("expected suffixed name to extend base, got %q", reduced)
	}
}

func TestMappingKey(t *testing.T) {
	if got := MappingKey("emb-1", ""); got != "emb-1" {
		t.Errorf("expected bare embedder id, got %q", got)
	}
	if got := MappingKey("emb-1", "reduced"); got != "emb-1:reduced" {
		t.Errorf("expected embedder:suffix, got %q", got)
	}
}

func TestParseConfig_DatasetToVectorStorage(t *testing.T) {
	raw := json.RawMessage(`{"embedder_id":"emb-1","batch_size":8}`)
	cfg, err := ParseConfig(domain.KindDatasetToVectorStorage, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatasetToVectorStorage == nil || cfg.DatasetToVectorStorage.BatchSize != 8 {
		t.Fatalf("expected parsed batch_size 8, got %+v", cfg.DatasetToVectorStorage)
	}
	if cfg.CollectionToDataset != nil || cfg.Visualization != nil {
		t.Fatalf("expected only the matching kind populated, got %+v", cfg)
	}
}

func TestParseConfig_UnknownKind(t *testing.T) {
	_, err := ParseConfig(domain.Kind("bogus"), json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
