// Package vectorstore is the vector store gateway (§4.C): collection
// lifecycle, point upsert with deterministic ids, and filtered delete.
// Unlike the teacher's single-collection client, a transform may own many
// collections (one per embedded dataset), so every operation takes the
// collection name explicitly rather than fixing it at construction time.
package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Gateway is the sole owner of all Qdrant operations.
type Gateway struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// New creates a Gateway connected to Qdrant at the given gRPC address.
func New(addr string) (*Gateway, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: dial qdrant %s: %w", addr, err)
	}
	return &Gateway{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// NewWithClients builds a Gateway around already-constructed clients,
// bypassing the gRPC dial. Used by tests to inject fakes.
func NewWithClients(points pb.PointsClient, collections pb.CollectionsClient) *Gateway {
	return &Gateway{points: points, collections: collections}
}

// Close closes the underlying gRPC connection.
func (g *Gateway) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

// CollectionExists reports whether the named collection already exists.
func (g *Gateway) CollectionExists(ctx context.Context, name string) (bool, error) {
	list, err := g.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("vectorstore: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates the named collection if it doesn't exist.
func (g *Gateway) EnsureCollection(ctx context.Context, name string, dims int) error {
	exists, err := g.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = g.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", name, err)
	}
	return nil
}

// DeleteCollection deletes the named collection. §3's deletion invariant:
// deleting a transform must delete both the embedded-dataset row and its
// vector-store collection; callers are responsible for doing both.
func (g *Gateway) DeleteCollection(ctx context.Context, name string) error {
	_, err := g.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return fmt.Errorf("vectorstore: delete collection %s: %w", name, err)
	}
	return nil
}

// Upsert stores chunk vectors into the named collection. Point ids are
// computed deterministically from (embedded_dataset_id, item_id,
// chunk_index) so re-processing a chunk overwrites its existing point.
func (g *Gateway) Upsert(ctx context.Context, collection string, records []PointRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Payload))
		for k, val := range r.Payload {
			payload[k] = toQdrantValue(val)
		}

		id := PointID(r.EmbeddedDatasetID, r.ItemID, r.ChunkIndex)
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := g.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert %d points into %s: %w", len(records), collection, err)
	}
	return nil
}

// DeleteByFilter removes every point whose payload[key] == value.
func (g *Gateway) DeleteByFilter(ctx context.Context, collection, key, value string) error {
	wait := true
	_, err := g.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch(key, value)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete by %s=%s in %s: %w", key, value, collection, err)
	}
	return nil
}

// DeleteByItem removes every point belonging to the given dataset item,
// implemented as a field-match filter on metadata.item_id per §4.C.
func (g *Gateway) DeleteByItem(ctx context.Context, collection, itemID string) error {
	return g.DeleteByFilter(ctx, collection, "metadata.item_id", itemID)
}

// Search performs k-NN similarity search with optional metadata filters.
func (g *Gateway) Search(ctx context.Context, collection string, embedding []float32, topK int, filters map[string]string) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, val := range filters {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := g.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search in %s: %w", collection, err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := make(map[string]string, len(r.GetPayload()))
		for k, val := range r.GetPayload() {
			payload[k] = val.GetStringValue()
		}
		results[i] = SearchResult{ID: r.GetId().GetUuid(), Score: r.GetScore(), Payload: payload}
	}
	return results, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func toQdrantValue(val any) *pb.Value {
	switch tv := val.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}
