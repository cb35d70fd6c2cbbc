package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service implements the memory daemon's methods: memorize, list,
// query_vector, retrieve_related, load_full, ping. It owns one append-only
// journal per top-level kind (the first "/"-separated segment of a memory
// kind) and an optional embedder/vector store pair for similarity retrieval.
type Service struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	journals map[string]*Journal

	policy   *RecallPolicy
	embedder Embedder // nil disables similarity indexing
	vectors  VectorStore
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithEmbedder enables similarity indexing using the given embedder and
// vector store.
func WithEmbedder(e Embedder, store VectorStore) Option {
	return func(s *Service) {
		s.embedder = e
		s.vectors = store
	}
}

// NewService opens (or reuses) the memory root at dir and loads its recall
// policy. The directory is created if it does not exist.
func NewService(dir string, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := LoadRecallPolicy(dir)
	if err != nil {
		return nil, err
	}
	s := &Service{
		dir:      dir,
		logger:   logger,
		journals: make(map[string]*Journal),
		policy:   policy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// topLevelKind returns the first "/"-separated segment of kind, which names
// the journal file.
func topLevelKind(kind string) string {
	if idx := strings.IndexByte(kind, '/'); idx >= 0 {
		return kind[:idx]
	}
	return kind
}

func (s *Service) journalFor(kind string) (*Journal, error) {
	top := topLevelKind(kind)

	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.journals[top]; ok {
		return j, nil
	}
	j, err := OpenJournal(s.dir, top, s.logger)
	if err != nil {
		return nil, err
	}
	s.journals[top] = j
	return j, nil
}

// Close closes every open journal.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, j := range s.journals {
		if err := j.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// memorizeEnvelope is the loosely-typed shape memorize's data takes: callers
// may memorize raw sensations or impressions, both of which carry an
// optional id and an optional how (impressions always have one).
type memorizeEnvelope struct {
	ID  string `json:"id"`
	How string `json:"how"`
}

// Memorize appends data to the journal named by kind's top-level segment,
// assigning an id if the caller didn't supply one. When kind is named by the
// recall policy and data carries a "how", an additional recall record is
// appended to recall.jsonl before Memorize returns — atomically from a
// reader's perspective, since both appends complete before the RPC reply.
func (s *Service) Memorize(ctx context.Context, kind string, data json.RawMessage) error {
	var env memorizeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode memorize payload for kind %s: %w", kind, err)
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
		data = withID(data, env.ID)
	}

	j, err := s.journalFor(kind)
	if err != nil {
		return err
	}
	if err := j.Append(json.RawMessage(data)); err != nil {
		return fmt.Errorf("append to journal %s: %w", topLevelKind(kind), err)
	}

	if s.embedder != nil && s.vectors != nil && env.How != "" {
		if vec, err := s.embedder.Embed(ctx, env.How); err != nil {
			s.logger.Warn("embed failed for memorize", "kind", kind, "id", env.ID, "err", err)
		} else if err := s.vectors.Upsert(ctx, topLevelKind(kind), env.ID, vec); err != nil {
			s.logger.Warn("vector upsert failed for memorize", "kind", kind, "id", env.ID, "err", err)
		}
	}

	if s.policy.Triggers(kind) && env.How != "" {
		recall := StoredImpression{
			ID:   uuid.NewString(),
			Kind: "recall",
			When: time.Now().UTC(),
			How:  env.How,
			What: []string{env.ID},
		}
		rj, err := s.journalFor("recall")
		if err != nil {
			return fmt.Errorf("open recall journal: %w", err)
		}
		if err := rj.Append(recall); err != nil {
			return fmt.Errorf("append recall record: %w", err)
		}
	}

	return nil
}

// withID injects "id" into a JSON object if it was absent. data is assumed
// to be a JSON object (memorize's documented contract).
func withID(data json.RawMessage, id string) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return data
	}
	idJSON, _ := json.Marshal(id)
	m["id"] = idJSON
	out, err := json.Marshal(m)
	if err != nil {
		return data
	}
	return out
}

// List returns every record stored under kind's journal.
func (s *Service) List(_ context.Context, kind string) ([]json.RawMessage, error) {
	return ReadAll[json.RawMessage](s.dir, topLevelKind(kind))
}

// QueryVector returns the topK nearest stored vectors to vector within kind.
// With no vector store configured this returns an empty slice, never an
// error, per the memory service's degradation contract.
func (s *Service) QueryVector(ctx context.Context, kind string, vector []float32, topK int) ([]VectorHit, error) {
	if s.vectors == nil {
		return []VectorHit{}, nil
	}
	return s.vectors.Query(ctx, topLevelKind(kind), vector, topK)
}

// RetrieveRelated embeds how and returns the impressions whose summaries are
// semantically nearest, hydrated from the impression journals.
func (s *Service) RetrieveRelated(ctx context.Context, how string, topK int) ([]StoredImpression, error) {
	if s.embedder == nil || s.vectors == nil {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, how)
	if err != nil {
		return nil, fmt.Errorf("embed retrieve_related query: %w", err)
	}
	hits, err := s.vectors.Query(ctx, "", vec, topK)
	if err != nil {
		return nil, fmt.Errorf("query vector store: %w", err)
	}

	cache := make(map[string][]StoredImpression)
	out := make([]StoredImpression, 0, len(hits))
	for _, hit := range hits {
		impressions, ok := cache[hit.Kind]
		if !ok {
			impressions, err = ReadAll[StoredImpression](s.dir, hit.Kind)
			if err != nil {
				continue
			}
			cache[hit.Kind] = impressions
		}
		for _, imp := range impressions {
			if imp.ID == hit.ID {
				out = append(out, imp)
				break
			}
		}
	}
	return out, nil
}

// LoadFullResult is load_full's result: the impression plus its contributing
// sensations and the impressions of other kinds that list it in their
// impression_ids, keyed by impression id.
type LoadFullResult struct {
	Impression *StoredImpression            `json:"impression"`
	Sensations []StoredSensation            `json:"sensations"`
	Neighbors  map[string]StoredImpression  `json:"neighbors"`
}

// LoadFull hydrates the impression with id id: its own record, the raw
// sensations it was built from, and the impressions in other kinds' journals
// that list it in their impression_ids (its own kind's journal is not
// searched for these).
func (s *Service) LoadFull(_ context.Context, id string) (*LoadFullResult, error) {
	entries, err := s.allJournalKinds()
	if err != nil {
		return nil, err
	}

	var found *StoredImpression
	var foundKind string
	for _, kind := range entries {
		impressions, err := ReadAll[StoredImpression](s.dir, kind)
		if err != nil {
			continue
		}
		for i := range impressions {
			if impressions[i].ID == id {
				found = &impressions[i]
				foundKind = kind
				break
			}
		}
		if found != nil {
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("impression %s not found", id)
	}

	var sensations []StoredSensation
	for _, kind := range entries {
		all, err := ReadAll[StoredSensation](s.dir, kind)
		if err != nil {
			continue
		}
		for _, sens := range all {
			for _, want := range found.SensationIDs {
				if sens.ID == want {
					sensations = append(sensations, sens)
				}
			}
		}
	}

	neighbors := make(map[string]StoredImpression)
	for _, kind := range entries {
		if kind == foundKind {
			continue
		}
		impressions, err := ReadAll[StoredImpression](s.dir, kind)
		if err != nil {
			continue
		}
		for _, imp := range impressions {
			for _, ref := range imp.ImpressionIDs {
				if ref == id {
					neighbors[imp.ID] = imp
				}
			}
		}
	}

	return &LoadFullResult{Impression: found, Sensations: sensations, Neighbors: neighbors}, nil
}

// allJournalKinds lists the top-level kinds with a journal file on disk.
func (s *Service) allJournalKinds() ([]string, error) {
	entries, err := readDirJSONL(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list memory dir %s: %w", s.dir, err)
	}
	return entries, nil
}

// Ping checks service liveness; the memory service has no external
// dependency that must be reachable for this to succeed.
func (s *Service) Ping(context.Context) error { return nil }
