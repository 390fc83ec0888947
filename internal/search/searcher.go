// Package search implements the search service (C10): embed the query,
// run a tenant-scoped kNN search against the vector store, enrich matches
// with repository metadata, and cache the ranked result — all under a
// single wall-clock budget with bounded retry on transient failures.
package search

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jamaly87/code-search-service/internal/apperr"
	"github.com/jamaly87/code-search-service/internal/cache"
	"github.com/jamaly87/code-search-service/internal/config"
	"github.com/jamaly87/code-search-service/internal/embeddings"
	"github.com/jamaly87/code-search-service/internal/models"
	"github.com/jamaly87/code-search-service/internal/store"
	"github.com/jamaly87/code-search-service/internal/vectordb"
)

// Request is one search call's parameters.
type Request struct {
	Tenant  uuid.UUID
	Query   string
	Limit   int
	Filters models.SearchFilters
}

// Searcher runs the cache -> embed -> vector-search -> enrich -> cache
// pipeline.
type Searcher struct {
	cfg      config.SearchConfig
	embedder embeddings.Provider
	vectors  vectordb.VectorStore
	metadata store.MetadataStore
	results  cache.Cache[string, []models.SearchMatch]
	log      zerolog.Logger
}

// New builds a Searcher. results is injected so production code wires an
// LRUCache while tests can use cache.NewMapCache for deterministic assertions.
func New(cfg config.SearchConfig, embedder embeddings.Provider, vectors vectordb.VectorStore, metadata store.MetadataStore, results cache.Cache[string, []models.SearchMatch], log zerolog.Logger) *Searcher {
	return &Searcher{cfg: cfg, embedder: embedder, vectors: vectors, metadata: metadata, results: results, log: log}
}

// Search runs req under the service's configured wall-clock timeout,
// returning a SearchTimeoutError if the budget expires and retrying
// transient vector-store/embedding failures up to MaxRetries times with
// exponential backoff in between.
func (s *Searcher) Search(ctx context.Context, req Request, correlationID string) ([]models.SearchMatch, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	key := cache.KeyFrom(req.Tenant.String(), req.Query, req.Filters.RepositoryID, req.Filters.Branch, strconv.Itoa(limit))
	if cached, ok := s.results.Get(key); ok {
		return cached, nil
	}

	timeout := time.Duration(s.cfg.SearchTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxRetries := s.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := time.Duration(s.cfg.RetryDelayMS) * time.Millisecond
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	matches, err := backoff.Retry(searchCtx, func() ([]models.SearchMatch, error) {
		return s.searchOnce(searchCtx, req, limit, correlationID)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(maxRetries+1)))

	if err != nil {
		if searchCtx.Err() != nil {
			return nil, &apperr.SearchTimeoutError{CorrelationID: correlationID}
		}
		return nil, err
	}

	s.results.Add(key, matches)
	return matches, nil
}

func (s *Searcher) searchOnce(ctx context.Context, req Request, limit int, correlationID string) ([]models.SearchMatch, error) {
	queryVecs, err := s.embedder.EmbedBatch(ctx, []string{req.Query})
	if err != nil {
		return nil, err
	}
	if len(queryVecs) == 0 {
		return nil, &apperr.EmbeddingError{Op: "search_query", Err: errEmptyEmbedding}
	}

	hits, err := s.vectors.Search(ctx, req.Tenant, queryVecs[0], limit, req.Filters, correlationID)
	if err != nil {
		return nil, err
	}

	return s.enrich(ctx, req.Tenant, hits)
}

// enrich batch-fetches project-branch metadata for the distinct
// (repository_id, branch) pairs among hits, rather than one round trip per
// result.
func (s *Searcher) enrich(ctx context.Context, tenant uuid.UUID, hits []models.ChunkWithScore) ([]models.SearchMatch, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	seen := make(map[store.RepoBranch]bool)
	var pairs []store.RepoBranch
	for _, h := range hits {
		rb := store.RepoBranch{RepositoryID: h.Chunk.RepositoryID, Branch: h.Chunk.Branch}
		if !seen[rb] {
			seen[rb] = true
			pairs = append(pairs, rb)
		}
	}

	// Enrichment failures are non-fatal per spec: a metadata-store error here
	// degrades to returning bare results rather than failing the search.
	branches, err := s.metadata.GetProjectBranches(ctx, tenant, pairs)
	if err != nil {
		s.log.Warn().Err(err).Msg("repository metadata enrichment failed, returning unenriched results")
		branches = nil
	}
	byKey := make(map[store.RepoBranch]models.ProjectBranch, len(branches))
	for _, b := range branches {
		byKey[store.RepoBranch{RepositoryID: b.RepositoryID, Branch: b.Branch}] = b
	}

	out := make([]models.SearchMatch, len(hits))
	for i, h := range hits {
		m := models.SearchMatch{Chunk: h.Chunk, Similarity: h.Similarity}
		if pb, ok := byKey[store.RepoBranch{RepositoryID: h.Chunk.RepositoryID, Branch: h.Chunk.Branch}]; ok {
			pbCopy := pb
			m.RepositoryMetadata = &pbCopy
		}
		out[i] = m
	}
	return out, nil
}

// GetContext returns the full indexed content of one file, used by the
// get_context operation to hand a caller more surrounding code than a single
// chunk carries. When branch is unspecified, "main" then "master" are
// preferred over whatever other branch happens to match.
func (s *Searcher) GetContext(ctx context.Context, tenant uuid.UUID, repositoryID, branch, path string) (models.IndexedFile, error) {
	files, err := s.metadata.GetFilesMetadata(ctx, tenant, []string{path})
	if err != nil {
		return models.IndexedFile{}, err
	}

	matches := func(f models.IndexedFile) bool {
		return (repositoryID == "" || f.RepositoryID == repositoryID) && f.FilePath == path
	}

	if branch != "" {
		for _, f := range files {
			if matches(f) && f.Branch == branch {
				return f, nil
			}
		}
		return models.IndexedFile{}, &apperr.FileNotFoundError{Path: path}
	}

	for _, preferred := range []string{"main", "master"} {
		for _, f := range files {
			if matches(f) && f.Branch == preferred {
				return f, nil
			}
		}
	}
	for _, f := range files {
		if matches(f) {
			return f, nil
		}
	}
	return models.IndexedFile{}, &apperr.FileNotFoundError{Path: path}
}

type searchError string

func (e searchError) Error() string { return string(e) }

const errEmptyEmbedding = searchError("embedding provider returned no vectors for query")
