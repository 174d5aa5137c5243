package scanner

import (
	"testing"
	"time"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/internal/transform"
)

func TestSplitChunks_EvenAndRemainder(t *testing.T) {
	records := make([]transform.ChunkRecord, 25)
	for i := range records {
		records[i] = transform.ChunkRecord{ID: string(rune('a' + i))}
	}
	batches := splitChunks(records, 10)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 10 || len(batches[1]) != 10 || len(batches[2]) != 5 {
		t.Fatalf("unexpected batch sizes: %d %d %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestSplitChunks_Empty(t *testing.T) {
	if got := splitChunks(nil, 10); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestObjectKeyToBatchKey(t *testing.T) {
	got := objectKeyToBatchKey("embedded-datasets/embedded-dataset-ed1/batches/batch-0-abc123.json")
	if got != "batch-0-abc123" {
		t.Fatalf("unexpected batch key: %s", got)
	}
}

func TestMaxUpdatedAt(t *testing.T) {
	floor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := floor.Add(time.Hour)
	items := []domain.DatasetItem{
		{UpdatedAt: floor},
		{UpdatedAt: later},
		{UpdatedAt: floor.Add(time.Minute)},
	}
	got := maxUpdatedAt(items, floor)
	if !got.Equal(later) {
		t.Fatalf("expected max to be %v, got %v", later, got)
	}
}

func TestMaxUpdatedAt_NoItemsKeepsFloor(t *testing.T) {
	floor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := maxUpdatedAt(nil, floor)
	if !got.Equal(floor) {
		t.Fatalf("expected floor to be preserved, got %v", got)
	}
}
