package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jamaly87/code-search-service/internal/cache"
	"github.com/jamaly87/code-search-service/internal/config"
	"github.com/jamaly87/code-search-service/internal/embeddings"
	"github.com/jamaly87/code-search-service/internal/jobs"
	"github.com/jamaly87/code-search-service/internal/models"
	"github.com/jamaly87/code-search-service/internal/search"
	"github.com/jamaly87/code-search-service/internal/store"
	"github.com/jamaly87/code-search-service/internal/vectordb"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ms := store.NewInMemoryStore()
	vs := vectordb.NewInMemoryVectorStore()
	provider, err := embeddings.NewMockProvider(16, 1024)
	if err != nil {
		t.Fatalf("NewMockProvider: %v", err)
	}
	admitter := jobs.NewAdmitter(ms, 2*time.Second, zerolog.Nop())
	searcher := search.New(config.SearchConfig{DefaultLimit: 10, MaxLimit: 50, SearchTimeoutSec: 5, MaxRetries: 1, RetryDelayMS: 1},
		provider, vs, ms, cache.NewMapCache[string, []models.SearchMatch](), zerolog.Nop())
	s := New(admitter, ms, searcher, zerolog.Nop())
	return httptest.NewServer(s.Routes())
}

func TestHandleIndexAdmitsJob(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(indexRequest{
		ProjectID: "repo1", Branch: "main",
		CommitContext: commitContextRequest{CommitSHA: "abc"},
		Files:         []indexFileRequest{{Path: "a.go", Content: "package a"}},
	})
	resp, err := http.Post(srv.URL+"/index", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /index: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out indexResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "success" {
		t.Errorf("expected status=success, got %q", out.Status)
	}
	if out.JobID == "" {
		t.Error("expected a job id in response")
	}
	if out.FilesQueued != 1 {
		t.Errorf("expected files_queued=1, got %d", out.FilesQueued)
	}
}

func TestHandleIndexRejectsMissingCommitSHA(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(indexRequest{ProjectID: "repo1", Branch: "main", Files: []indexFileRequest{{Path: "a.go", Content: "x"}}})
	resp, err := http.Post(srv.URL+"/index", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /index: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleGetJobUnknownID(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/index/jobs/00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("GET /index/jobs/{id}: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleGetJobIncludesTimestamps(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(indexRequest{
		ProjectID: "repo1", Branch: "main",
		CommitContext: commitContextRequest{CommitSHA: "abc"},
		Files:         []indexFileRequest{{Path: "a.go", Content: "package a"}},
	})
	resp, err := http.Post(srv.URL+"/index", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /index: %v", err)
	}
	var submitted indexResponse
	_ = json.NewDecoder(resp.Body).Decode(&submitted)
	resp.Body.Close()

	jobResp, err := http.Get(srv.URL + "/index/jobs/" + submitted.JobID)
	if err != nil {
		t.Fatalf("GET /index/jobs/{id}: %v", err)
	}
	defer jobResp.Body.Close()
	var job jobResponse
	if err := json.NewDecoder(jobResp.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.StartedAt.IsZero() {
		t.Error("expected started_at to be set")
	}
}

func TestHandleListJobs(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(indexRequest{
		ProjectID: "repo1", Branch: "main",
		CommitContext: commitContextRequest{CommitSHA: "abc"},
		Files:         []indexFileRequest{{Path: "a.go", Content: "package a"}},
	})
	resp, err := http.Post(srv.URL+"/index", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /index: %v", err)
	}
	resp.Body.Close()

	listResp, err := http.Get(srv.URL + "/index/jobs")
	if err != nil {
		t.Fatalf("GET /index/jobs: %v", err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", listResp.StatusCode)
	}
	var out jobListResponse
	if err := json.NewDecoder(listResp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Jobs) != 1 {
		t.Fatalf("expected 1 job listed, got %d", len(out.Jobs))
	}
}

func TestHandleStats(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHandleSearchRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(searchRequest{Query: ""})
	resp, err := http.Post(srv.URL+"/search", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleSearchRejectsOverlongQuery(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	long := make([]byte, 1001)
	for i := range long {
		long[i] = 'q'
	}
	body, _ := json.Marshal(searchRequest{Query: string(long)})
	resp, err := http.Post(srv.URL+"/search", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleSearchIncludesMetadata(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(searchRequest{Query: "func Hello() string", Limit: 5})
	resp, err := http.Post(srv.URL+"/search", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Metadata.Query != "func Hello() string" {
		t.Errorf("expected metadata.query to echo the request query, got %q", out.Metadata.Query)
	}
	if out.Metadata.SearchType != "semantic" {
		t.Errorf("expected search_type=semantic, got %q", out.Metadata.SearchType)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
