package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dancxjo/psyche/internal/rpcutil"
)

type memorizeParams struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listParams struct {
	Kind string `json:"kind"`
}

type queryVectorParams struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	TopK   int       `json:"top_k"`
}

type retrieveRelatedParams struct {
	How  string `json:"how"`
	TopK int    `json:"top_k"`
}

type loadFullParams struct {
	ID string `json:"id"`
}

// RegisterRPC binds Service's methods onto server under the names the memory
// JSON-RPC protocol specifies: memorize, list, query_vector,
// retrieve_related, load_full, ping.
func (s *Service) RegisterRPC(server *rpcutil.Server) {
	server.Register("memorize", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p memorizeParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode memorize params: %w", err)
		}
		if err := s.Memorize(ctx, p.Kind, p.Data); err != nil {
			return nil, err
		}
		return nil, nil
	})

	server.Register("list", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p listParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode list params: %w", err)
		}
		return s.List(ctx, p.Kind)
	})

	server.Register("query_vector", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p queryVectorParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode query_vector params: %w", err)
		}
		return s.QueryVector(ctx, p.Kind, p.Vector, p.TopK)
	})

	server.Register("retrieve_related", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p retrieveRelatedParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode retrieve_related params: %w", err)
		}
		return s.RetrieveRelated(ctx, p.How, p.TopK)
	})

	server.Register("load_full", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p loadFullParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode load_full params: %w", err)
		}
		return s.LoadFull(ctx, p.ID)
	})

	server.Register("ping", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, s.Ping(ctx)
	})
}
