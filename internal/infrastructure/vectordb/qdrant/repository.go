// Package qdrant provides an EmbeddingIndex implementation using Qdrant.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/ersonp/narra-core/internal/domain/entities"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/domain/vector"
	"github.com/ersonp/narra-core/internal/infrastructure/config"
)

// Payload keys stored with every point.
const (
	payloadType     = "type"
	payloadEntityID = "entity_id"
)

// pointNamespace derives stable point UUIDs from entity IDs.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("narra:entity"))

var _ ports.EmbeddingIndex = (*Repository)(nil)

// Repository implements ports.EmbeddingIndex using Qdrant.
type Repository struct {
	client     pb.CollectionsClient
	points     pb.PointsClient
	collection string
	conn       *grpc.ClientConn
}

// NewRepository creates a new Qdrant repository for the given collection.
func NewRepository(cfg config.QdrantConfig, collection string) (*Repository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "connecting to qdrant", goerr.V("addr", addr))
	}

	return &Repository{
		client:     pb.NewCollectionsClient(conn),
		points:     pb.NewPointsClient(conn),
		collection: collection,
		conn:       conn,
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the gRPC connection.
func (r *Repository) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// Collection returns the collection name.
func (r *Repository) Collection() string {
	return r.collection
}

// EnsureCollection creates the collection if it doesn't exist.
func (r *Repository) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	_, err := r.client.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collection,
	})
	if err == nil {
		return nil
	}

	_, err = r.client.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return goerr.Wrap(err, "creating collection", goerr.V("collection", r.collection))
	}

	return nil
}

// Upsert stores or replaces entity vectors.
func (r *Repository) Upsert(ctx context.Context, vectors []ports.IndexedVector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, 0, len(vectors))
	for _, v := range vectors {
		points = append(points, toPoint(v))
	}

	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Points:         points,
	})
	if err != nil {
		return goerr.Wrap(err, "upserting points", goerr.V("collection", r.collection), goerr.V("count", len(points)))
	}

	return nil
}

// Search returns up to limit neighbours of query ordered by ascending cosine distance.
func (r *Repository) Search(ctx context.Context, query []float32, limit int, types ...entities.EntityType) ([]vector.Neighbor, error) {
	if limit <= 0 {
		return nil, nil
	}
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         query,
		Limit:          uint64(limit),
		Filter:         typeFilter(types),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "searching points", goerr.V("collection", r.collection))
	}

	return toNeighbors(resp.Result), nil
}

// Count returns the number of indexed vectors.
func (r *Repository) Count(ctx context.Context) (uint64, error) {
	resp, err := r.client.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collection,
	})
	if err != nil {
		return 0, goerr.Wrap(err, "getting collection info", goerr.V("collection", r.collection))
	}

	if resp.Result.PointsCount == nil {
		return 0, nil
	}

	return *resp.Result.PointsCount, nil
}

// DeleteCollection drops the collection and every vector in it.
func (r *Repository) DeleteCollection(ctx context.Context) error {
	_, err := r.client.Delete(ctx, &pb.DeleteCollection{
		CollectionName: r.collection,
	})
	if err != nil {
		return goerr.Wrap(err, "deleting collection", goerr.V("collection", r.collection))
	}
	return nil
}

// pointID maps an entity ID to the UUID Qdrant requires.
func pointID(id entities.EntityID) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

func toPoint(v ports.IndexedVector) *pb.PointStruct {
	typ := v.Type
	if typ == "" {
		typ = v.ID.Type()
	}
	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(v.ID)},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: v.Vector},
			},
		},
		Payload: map[string]*pb.Value{
			payloadType:     {Kind: &pb.Value_StringValue{StringValue: string(typ)}},
			payloadEntityID: {Kind: &pb.Value_StringValue{StringValue: string(v.ID)}},
		},
	}
}

// typeFilter matches any of the given entity types. No types means no filter.
func typeFilter(types []entities.EntityType) *pb.Filter {
	if len(types) == 0 {
		return nil
	}
	keywords := make([]string, len(types))
	for i, t := range types {
		keywords[i] = string(t)
	}
	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: payloadType,
						Match: &pb.Match{
							MatchValue: &pb.Match_Keywords{
								Keywords: &pb.RepeatedStrings{Strings: keywords},
							},
						},
					},
				},
			},
		},
	}
}

// toNeighbors converts cosine scores to distances. Points without an
// entity_id payload are skipped.
func toNeighbors(points []*pb.ScoredPoint) []vector.Neighbor {
	out := make([]vector.Neighbor, 0, len(points))
	for _, p := range points {
		v, ok := p.GetPayload()[payloadEntityID]
		if !ok || v.GetStringValue() == "" {
			continue
		}
		out = append(out, vector.Neighbor{
			ID:       v.GetStringValue(),
			Distance: 1 - float64(p.GetScore()),
		})
	}
	return out
}
