package listener

import (
	"errors"
	"testing"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

func TestLedgerKey_EmbeddedDatasetScoped(t *testing.T) {
	got := ledgerKey(bus.ResultPayload{EmbeddedDatasetID: "ed1", TransformID: "t1", BatchKey: "batch-0"})
	if got != "ed1/batch-0" {
		t.Fatalf("unexpected key: %s", got)
	}
}

func TestLedgerKey_TransformScoped(t *testing.T) {
	got := ledgerKey(bus.ResultPayload{TransformID: "t1", BatchKey: "file-a"})
	if got != "t1/file-a" {
		t.Fatalf("unexpected key: %s", got)
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(domain.NewError(domain.KindNotFound, "op", nil)) {
		t.Fatal("expected NotFound-kind error to match")
	}
	if isNotFound(errors.New("boom")) {
		t.Fatal("expected plain error not to match")
	}
}

func TestEffectiveStatus_ZeroChunkSuccessCoercedToFailed(t *testing.T) {
	got := effectiveStatus("dataset", domain.BatchSuccess, 0)
	if got != domain.BatchFailed {
		t.Fatalf("got %v, want BatchFailed", got)
	}
	got = effectiveStatus("collection", domain.BatchCompleted, 0)
	if got != domain.BatchFailed {
		t.Fatalf("got %v, want BatchFailed", got)
	}
}

func TestEffectiveStatus_NonZeroChunkSuccessUnchanged(t *testing.T) {
	got := effectiveStatus("dataset", domain.BatchSuccess, 10)
	if got != domain.BatchSuccess {
		t.Fatalf("got %v, want BatchSuccess", got)
	}
}

func TestEffectiveStatus_VisualizationExemptFromChunkCheck(t *testing.T) {
	got := effectiveStatus("visualization", domain.BatchSuccess, 0)
	if got != domain.BatchSuccess {
		t.Fatalf("got %v, want BatchSuccess (visualization has no chunks)", got)
	}
}

func TestEffectiveStatus_NonSuccessUnchanged(t *testing.T) {
	got := effectiveStatus("dataset", domain.BatchFailed, 0)
	if got != domain.BatchFailed {
		t.Fatalf("got %v, want BatchFailed", got)
	}
}
