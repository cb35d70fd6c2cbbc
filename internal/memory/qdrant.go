package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantVectorStore is the optional external-backend VectorStore, used when
// the memory service is configured with a Qdrant URL. Each memory kind maps
// to its own collection, created lazily on first upsert with a vector size
// inferred from the first vector seen.
type QdrantVectorStore struct {
	client *qdrant.Client
}

// NewQdrantVectorStore dials the Qdrant gRPC endpoint at host:port.
func NewQdrantVectorStore(host string, port int, apiKey string, useTLS bool) (*QdrantVectorStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &QdrantVectorStore{client: client}, nil
}

func (q *QdrantVectorStore) collection(kind string) string {
	return "psyche_" + kind
}

// Upsert indexes vector under id in the kind's collection, creating the
// collection on first use.
func (q *QdrantVectorStore) Upsert(ctx context.Context, kind, id string, vector []float32) error {
	collection := q.collection(kind)

	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection %s: %w", collection, err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(len(vector)),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("create qdrant collection %s: %w", collection, err)
		}
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vector...),
	}
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		return fmt.Errorf("upsert qdrant point in %s: %w", collection, err)
	}
	return nil
}

// Query performs a cosine-similarity search within the kind's collection.
// An empty kind is not supported by this backend (Qdrant collections are
// per-kind); callers needing a cross-kind query should use the
// InProcessVectorStore instead.
func (q *QdrantVectorStore) Query(ctx context.Context, kind string, query []float32, topK int) ([]VectorHit, error) {
	if topK <= 0 {
		return nil, nil
	}
	collection := q.collection(kind)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(topK)),
	})
	if err != nil {
		if strings.Contains(err.Error(), "doesn't exist") || strings.Contains(err.Error(), "not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("query qdrant collection %s: %w", collection, err)
	}

	hits := make([]VectorHit, 0, len(points))
	for _, p := range points {
		id := ""
		if p.Id != nil {
			if uuid := p.Id.GetUuid(); uuid != "" {
				id = uuid
			} else {
				id = fmt.Sprintf("%d", p.Id.GetNum())
			}
		}
		hits = append(hits, VectorHit{ID: id, Kind: kind, Score: p.Score})
	}
	return hits, nil
}
