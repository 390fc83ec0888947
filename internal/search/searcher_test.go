package search

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jamaly87/code-search-service/internal/cache"
	"github.com/jamaly87/code-search-service/internal/config"
	"github.com/jamaly87/code-search-service/internal/embeddings"
	"github.com/jamaly87/code-search-service/internal/models"
	"github.com/jamaly87/code-search-service/internal/store"
	"github.com/jamaly87/code-search-service/internal/vectordb"
)

func newTestSearcher(t *testing.T) (*Searcher, uuid.UUID, vectordb.VectorStore, store.MetadataStore) {
	t.Helper()
	provider, err := embeddings.NewMockProvider(16, 1024)
	if err != nil {
		t.Fatalf("NewMockProvider: %v", err)
	}
	vs := vectordb.NewInMemoryVectorStore()
	ms := store.NewInMemoryStore()
	results := cache.NewMapCache[string, []models.SearchMatch]()
	cfg := config.SearchConfig{DefaultLimit: 10, MaxLimit: 50, SearchTimeoutSec: 5, MaxRetries: 2, RetryDelayMS: 1}
	s := New(cfg, provider, vs, ms, results, zerolog.Nop())
	return s, uuid.New(), vs, ms
}

func TestSearchReturnsStoredChunk(t *testing.T) {
	s, tenant, vs, ms := newTestSearcher(t)
	ctx := context.Background()

	if _, err := ms.EnsureProjectBranch(ctx, tenant, models.RepositoryContext{RepositoryID: "repo1", Branch: "main"}); err != nil {
		t.Fatalf("EnsureProjectBranch: %v", err)
	}

	provider, _ := embeddings.NewMockProvider(16, 1024)
	vecs, _ := provider.EmbedBatch(ctx, []string{"func Hello() string"})
	_, err := vs.StoreChunks(ctx, models.StorageContext{TenantID: tenant, RepositoryID: "repo1", Branch: "main", Generation: 1},
		[]models.Chunk{{FilePath: "main.go", Content: "func Hello() string", Embedding: vecs[0], Kind: "function", Name: "Hello"}}, "corr-1")
	if err != nil {
		t.Fatalf("StoreChunks: %v", err)
	}

	matches, err := s.Search(ctx, Request{Tenant: tenant, Query: "func Hello() string", Limit: 5}, "corr-2")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].RepositoryMetadata == nil {
		t.Error("expected match to be enriched with repository metadata")
	}
}

func TestSearchIsolatesTenants(t *testing.T) {
	s, tenant, vs, _ := newTestSearcher(t)
	ctx := context.Background()
	other := uuid.New()

	provider, _ := embeddings.NewMockProvider(16, 1024)
	vecs, _ := provider.EmbedBatch(ctx, []string{"secret code"})
	if _, err := vs.StoreChunks(ctx, models.StorageContext{TenantID: other, RepositoryID: "repo1", Branch: "main", Generation: 1},
		[]models.Chunk{{FilePath: "a.go", Content: "secret code", Embedding: vecs[0]}}, "corr-1"); err != nil {
		t.Fatalf("StoreChunks: %v", err)
	}

	matches, err := s.Search(ctx, Request{Tenant: tenant, Query: "secret code", Limit: 5}, "corr-2")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected tenant isolation to hide other tenant's chunk, got %d matches", len(matches))
	}
}

func TestSearchCachesIdenticalRequests(t *testing.T) {
	s, tenant, vs, _ := newTestSearcher(t)
	ctx := context.Background()
	provider, _ := embeddings.NewMockProvider(16, 1024)
	vecs, _ := provider.EmbedBatch(ctx, []string{"hello"})
	if _, err := vs.StoreChunks(ctx, models.StorageContext{TenantID: tenant, RepositoryID: "repo1", Branch: "main", Generation: 1},
		[]models.Chunk{{FilePath: "a.go", Content: "hello", Embedding: vecs[0]}}, "corr-1"); err != nil {
		t.Fatalf("StoreChunks: %v", err)
	}

	first, err := s.Search(ctx, Request{Tenant: tenant, Query: "hello", Limit: 5}, "c1")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	second, err := s.Search(ctx, Request{Tenant: tenant, Query: "hello", Limit: 5}, "c2")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected cached result to match: %d vs %d", len(first), len(second))
	}
}
