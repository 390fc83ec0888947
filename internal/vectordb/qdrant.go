// Package vectordb implements the vector store capability (C6): a Qdrant-backed
// production client and a deterministic brute-force in-memory test double, both
// satisfying the VectorStore interface.
package vectordb

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"

	"github.com/jamaly87/code-search-service/internal/apperr"
	"github.com/jamaly87/code-search-service/internal/chunkid"
	"github.com/jamaly87/code-search-service/internal/config"
	"github.com/jamaly87/code-search-service/internal/models"
)

// VectorStore is the capability interface the search service and the
// background worker depend on. tenant_id filtering is mandatory on every
// search path; no implementation may offer a way to bypass it.
type VectorStore interface {
	EnsureCollection(ctx context.Context, dimension int) error
	StoreChunks(ctx context.Context, sc models.StorageContext, chunks []models.Chunk, correlationID string) ([]uuid.UUID, error)
	Search(ctx context.Context, tenant uuid.UUID, queryVec []float32, limit int, filters models.SearchFilters, correlationID string) ([]models.ChunkWithScore, error)
	DeleteChunks(ctx context.Context, ids []uuid.UUID) error
	DropCollection(ctx context.Context) (bool, error)
}

// QdrantStore talks to a Qdrant instance over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	distance   qdrant.Distance
	log        zerolog.Logger
}

// NewQdrantStore connects to the vector store described by cfg. cfg.URL is a
// "host:port" address; a bare host defaults to the gRPC port 6334.
func NewQdrantStore(cfg config.VectorDBConfig, log zerolog.Logger) (*QdrantStore, error) {
	host, port, err := splitAddress(cfg.URL)
	if err != nil {
		return nil, &apperr.VectorStoreError{Op: "connect", Err: err}
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port, UseTLS: false})
	if err != nil {
		return nil, &apperr.VectorStoreError{Op: "connect", Err: err}
	}
	return &QdrantStore{
		client:     client,
		collection: cfg.CollectionName,
		distance:   distanceMetric(cfg.DistanceMetric),
		log:        log,
	}, nil
}

// splitAddress parses a "host:port" vector-store address, defaulting the
// port to 6334 when addr carries none.
func splitAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6334, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid vector store port %q in %q", portStr, addr)
	}
	return host, port, nil
}

func distanceMetric(name string) qdrant.Distance {
	switch name {
	case "dot":
		return qdrant.Distance_Dot
	case "euclidean":
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

// EnsureCollection creates the collection if missing. Racing creations that
// report "already exists" are treated as success, matching the spec's
// idempotency requirement.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return &apperr.VectorStoreError{Op: "ensure_collection", Err: err}
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dimension),
					Distance: s.distance,
				},
			},
		},
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return &apperr.VectorStoreError{Op: "ensure_collection", Err: err}
	}
	s.log.Info().Str("collection", s.collection).Int("dimension", dimension).Msg("created vector collection")
	return nil
}

// StoreChunks upserts one point per chunk. Chunks missing an embedding are
// skipped. Point ids are derived deterministically by C4, so retries replace
// rather than duplicate.
func (s *QdrantStore) StoreChunks(ctx context.Context, sc models.StorageContext, chunks []models.Chunk, correlationID string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	var points []*qdrant.PointStruct
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		id := chunkid.ChunkID(sc.RepositoryID, sc.Branch, c.FilePath, sc.Generation, c.ByteStart, c.ByteEnd)
		ids = append(ids, id)
		points = append(points, &qdrant.PointStruct{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id.String()}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: c.Embedding}}},
			Payload: chunkPayload(sc, id, i, c),
		})
	}
	if len(points) == 0 {
		return ids, nil
	}
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: s.collection, Points: points}); err != nil {
		return nil, &apperr.VectorStoreError{Op: "store_chunks", CorrelationID: correlationID, Err: err}
	}
	return ids, nil
}

func chunkPayload(sc models.StorageContext, id uuid.UUID, chunkIndex int, c models.Chunk) map[string]*qdrant.Value {
	tokenCount := 0
	if c.TokenCount != nil {
		tokenCount = *c.TokenCount
	}
	p := map[string]*qdrant.Value{
		"chunk_id":       qdrant.NewValueString(id.String()),
		"tenant_id":      qdrant.NewValueString(sc.TenantID.String()),
		"repository_id":  qdrant.NewValueString(sc.RepositoryID),
		"branch":         qdrant.NewValueString(sc.Branch),
		"generation":     qdrant.NewValueInt(sc.Generation),
		"chunk_index":    qdrant.NewValueInt(int64(chunkIndex)),
		"file_path":      qdrant.NewValueString(c.FilePath),
		"content":        qdrant.NewValueString(c.Content),
		"start_line":     qdrant.NewValueInt(int64(c.StartLine)),
		"end_line":       qdrant.NewValueInt(int64(c.EndLine)),
		"byte_start":     qdrant.NewValueInt(int64(c.ByteStart)),
		"byte_end":       qdrant.NewValueInt(int64(c.ByteEnd)),
		"language":       qdrant.NewValueString(c.Language),
		"kind":           qdrant.NewValueString(c.Kind),
		"name":           qdrant.NewValueString(c.Name),
		"token_count":    qdrant.NewValueInt(int64(tokenCount)),
		"commit_sha":     qdrant.NewValueString(sc.CommitSHA),
		"commit_message": qdrant.NewValueString(sc.CommitMessage),
		"commit_author":  qdrant.NewValueString(sc.Author),
	}
	if sc.CommitDate != nil {
		p["commit_date"] = qdrant.NewValueString(sc.CommitDate.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return p
}

// Search runs a filtered kNN query. tenant_id is AND-combined with any
// repository/branch filters at the server side, never applied in memory.
func (s *QdrantStore) Search(ctx context.Context, tenant uuid.UUID, queryVec []float32, limit int, filters models.SearchFilters, correlationID string) ([]models.ChunkWithScore, error) {
	if limit <= 0 {
		limit = 10
	}
	limitU := uint64(limit)
	must := []*qdrant.Condition{matchKeyword("tenant_id", tenant.String())}
	if filters.RepositoryID != "" {
		must = append(must, matchKeyword("repository_id", filters.RepositoryID))
	}
	if filters.Branch != "" {
		must = append(must, matchKeyword("branch", filters.Branch))
	}
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVec...),
		Limit:          &limitU,
		Filter:         &qdrant.Filter{Must: must},
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, &apperr.VectorStoreError{Op: "search", CorrelationID: correlationID, Err: err}
	}
	out := make([]models.ChunkWithScore, 0, len(results))
	for _, r := range results {
		out = append(out, models.ChunkWithScore{
			Chunk:      payloadToChunk(r.Payload),
			Similarity: float64(r.Score),
		})
	}
	return out, nil
}

// matchKeyword builds a server-side equality filter on a keyword payload
// field, following the teacher's explicit Condition/Match construction.
func matchKeyword(field, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   field,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func payloadToChunk(p map[string]*qdrant.Value) models.PersistedChunk {
	id, _ := uuid.Parse(p["chunk_id"].GetStringValue())
	tenant, _ := uuid.Parse(p["tenant_id"].GetStringValue())
	return models.PersistedChunk{
		ChunkID:       id,
		TenantID:      tenant,
		RepositoryID:  p["repository_id"].GetStringValue(),
		Branch:        p["branch"].GetStringValue(),
		Generation:    p["generation"].GetIntegerValue(),
		ChunkIndex:    int(p["chunk_index"].GetIntegerValue()),
		FilePath:      p["file_path"].GetStringValue(),
		Content:       p["content"].GetStringValue(),
		StartLine:     int(p["start_line"].GetIntegerValue()),
		EndLine:       int(p["end_line"].GetIntegerValue()),
		ByteStart:     int(p["byte_start"].GetIntegerValue()),
		ByteEnd:       int(p["byte_end"].GetIntegerValue()),
		Language:      p["language"].GetStringValue(),
		Kind:          p["kind"].GetStringValue(),
		Name:          p["name"].GetStringValue(),
		TokenCount:    int(p["token_count"].GetIntegerValue()),
		CommitSHA:     p["commit_sha"].GetStringValue(),
		CommitMessage: p["commit_message"].GetStringValue(),
		CommitAuthor:  p["commit_author"].GetStringValue(),
	}
}

// DeleteChunks is a best-effort delete by id list; missing ids are ignored by
// Qdrant itself.
func (s *QdrantStore) DeleteChunks(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id.String()}}
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return &apperr.VectorStoreError{Op: "delete_chunks", Err: err}
	}
	return nil
}

// DropCollection removes the collection, reporting whether it existed.
func (s *QdrantStore) DropCollection(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, &apperr.VectorStoreError{Op: "drop_collection", Err: err}
	}
	if !exists {
		return false, nil
	}
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return false, &apperr.VectorStoreError{Op: "drop_collection", Err: err}
	}
	return true, nil
}

// Close releases the underlying gRPC connection.
func (s *QdrantStore) Close() error { return s.client.Close() }

// InMemoryVectorStore is a deterministic brute-force cosine-search test
// double: no network, no approximate index, exact ranking every time.
type InMemoryVectorStore struct {
	mu       sync.RWMutex
	points   map[uuid.UUID]point
	inserted []uuid.UUID // insertion order, for deterministic tie-breaking
}

type point struct {
	chunk  models.PersistedChunk
	tenant uuid.UUID
	vector []float32
}

// NewInMemoryVectorStore builds an empty test double.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{points: make(map[uuid.UUID]point)}
}

func (s *InMemoryVectorStore) EnsureCollection(_ context.Context, _ int) error { return nil }

func (s *InMemoryVectorStore) StoreChunks(_ context.Context, sc models.StorageContext, chunks []models.Chunk, _ string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		id := chunkid.ChunkID(sc.RepositoryID, sc.Branch, c.FilePath, sc.Generation, c.ByteStart, c.ByteEnd)
		ids = append(ids, id)
		if _, exists := s.points[id]; !exists {
			s.inserted = append(s.inserted, id)
		}
		tokenCount := 0
		if c.TokenCount != nil {
			tokenCount = *c.TokenCount
		}
		s.points[id] = point{
			tenant: sc.TenantID,
			vector: append([]float32(nil), c.Embedding...),
			chunk: models.PersistedChunk{
				ChunkID: id, TenantID: sc.TenantID, RepositoryID: sc.RepositoryID,
				Branch: sc.Branch, Generation: sc.Generation, ChunkIndex: i,
				FilePath: c.FilePath, Content: c.Content, StartLine: c.StartLine,
				EndLine: c.EndLine, ByteStart: c.ByteStart, ByteEnd: c.ByteEnd,
				Language: c.Language, Kind: c.Kind, Name: c.Name, TokenCount: tokenCount,
				CommitSHA: sc.CommitSHA, CommitMessage: sc.CommitMessage, CommitAuthor: sc.Author,
			},
		}
	}
	return ids, nil
}

func (s *InMemoryVectorStore) Search(_ context.Context, tenant uuid.UUID, queryVec []float32, limit int, filters models.SearchFilters, _ string) ([]models.ChunkWithScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChunkWithScore
	for _, id := range s.inserted {
		p, ok := s.points[id]
		if !ok || p.tenant != tenant {
			continue
		}
		if filters.RepositoryID != "" && p.chunk.RepositoryID != filters.RepositoryID {
			continue
		}
		if filters.Branch != "" && p.chunk.Branch != filters.Branch {
			continue
		}
		out = append(out, models.ChunkWithScore{Chunk: p.chunk, Similarity: cosine(queryVec, p.vector)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryVectorStore) DeleteChunks(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.points, id)
	}
	return nil
}

func (s *InMemoryVectorStore) DropCollection(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existed := len(s.points) > 0
	s.points = make(map[uuid.UUID]point)
	s.inserted = nil
	return existed, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
