package bus

import (
	"testing"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

func TestSubjectLayout(t *testing.T) {
	if got := WorkQueueSubject(KindDatasetTransform); got != "workers.dataset-transform" {
		t.Fatalf("unexpected work queue subject: %s", got)
	}
	if got := ScanTriggerSubject("collection"); got != "scan.trigger.collection" {
		t.Fatalf("unexpected scan trigger subject: %s", got)
	}
	if got := DLQSubject("dataset"); got != "dlq.dataset-transforms" {
		t.Fatalf("unexpected dlq subject: %s", got)
	}
	if got := StatusBroadcastSubject("dataset", "owner-1", "res-1", "t-1"); got != "sse.transforms.dataset.status.owner-1.res-1.t-1" {
		t.Fatalf("unexpected status broadcast subject: %s", got)
	}
}

func TestMsgIDLayout(t *testing.T) {
	if got := DispatchMsgID("t1", "b1"); got != "dt-t1-b1" {
		t.Fatalf("unexpected dispatch msg id: %s", got)
	}
	if got := RecoveryMsgID("p1", "b1"); got != "dt-recovery-p1-b1" {
		t.Fatalf("unexpected recovery msg id: %s", got)
	}
	if got := FailedRecoveryMsgID("t1", "b1"); got != "dt-failed-recovery-t1-b1" {
		t.Fatalf("unexpected failed recovery msg id: %s", got)
	}
}

func TestStatusSubjectHelpers(t *testing.T) {
	if got := StatusPublishSubject("dataset", "t1", "batch-0"); got != "transforms.dataset.status.t1.batch-0" {
		t.Fatalf("unexpected status publish subject: %s", got)
	}
	if got := StatusFilterSubject("dataset"); got != "transforms.dataset.status.>" {
		t.Fatalf("unexpected status filter subject: %s", got)
	}
}

func TestJobKindRoundTrip(t *testing.T) {
	cases := []domain.Kind{domain.KindCollectionToDataset, domain.KindDatasetToVectorStorage, domain.KindVisualization}
	for _, dk := range cases {
		bk, ok := JobKindFor(dk)
		if !ok {
			t.Fatalf("expected a job kind for %s", dk)
		}
		if got := DomainKindFor(bk); got != dk {
			t.Fatalf("round trip mismatch: %s -> %s -> %s", dk, bk, got)
		}
	}
	if _, ok := JobKindFor("unknown"); ok {
		t.Fatal("expected no job kind for an unknown domain kind")
	}
}
