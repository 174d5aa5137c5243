package vectorstore

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

type mockPoints struct {
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	deleteResp *pb.PointsOperationResponse
	deleteErr  error
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, _ *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, _ *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, _ *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.createResp, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("ed-1", "item-1", 3)
	b := PointID("ed-1", "item-1", 3)
	if a != b {
		t.Fatalf("expected same id across calls, got %s vs %s", a, b)
	}
	c := PointID("ed-1", "item-1", 4)
	if a == c {
		t.Fatalf("expected distinct chunk index to change the id")
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{
		Collections: []*pb.CollectionDescription{{Name: "coll-a"}},
	}}
	g := NewWithClients(&mockPoints{}, cols)
	if err := g.EnsureCollection(context.Background(), "coll-a", 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	g := NewWithClients(&mockPoints{}, cols)
	if err := g.EnsureCollection(context.Background(), "coll-a", 128); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	g := NewWithClients(&mockPoints{}, cols)
	if err := g.EnsureCollection(context.Background(), "coll-a", 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_Empty(t *testing.T) {
	g := NewWithClients(&mockPoints{}, &mockCollections{})
	if err := g.Upsert(context.Background(), "coll-a", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_Success(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	g := NewWithClients(pts, &mockCollections{})

	records := []PointRecord{{
		EmbeddedDatasetID: "ed-1",
		ItemID:            "item-1",
		ChunkIndex:        0,
		Embedding:         []float32{1, 0, 0, 0},
		Payload: map[string]any{
			"content": "hello",
			"count":   42,
			"count64": int64(99),
			"score":   3.14,
			"active":  true,
			"other":   []int{1, 2},
		},
	}}
	if err := g.Upsert(context.Background(), "coll-a", records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	g := NewWithClients(pts, &mockCollections{})
	records := []PointRecord{{EmbeddedDatasetID: "ed-1", ItemID: "item-1", Embedding: []float32{1, 0}}}
	if err := g.Upsert(context.Background(), "coll-a", records); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeleteByItem(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	g := NewWithClients(pts, &mockCollections{})
	if err := g.DeleteByItem(context.Background(), "coll-a", "item-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSearch_Success(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{
		Result: []*pb.ScoredPoint{{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
			Score: 0.95,
			Payload: map[string]*pb.Value{
				"item_id": {Kind: &pb.Value_StringValue{StringValue: "item-1"}},
			},
		}},
	}}
	g := NewWithClients(pts, &mockCollections{})
	results, err := g.Search(context.Background(), "coll-a", []float32{1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Payload["item_id"] != "item-1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestFieldMatch(t *testing.T) {
	cond := fieldMatch("key", "value")
	fc := cond.GetField()
	if fc.Key != "key" {
		t.Fatalf("expected key, got %s", fc.Key)
	}
	if fc.Match.GetKeyword() != "value" {
		t.Fatalf("expected value, got %s", fc.Match.GetKeyword())
	}
}
