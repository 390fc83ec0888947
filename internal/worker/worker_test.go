package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jamaly87/code-search-service/internal/chunker"
	"github.com/jamaly87/code-search-service/internal/config"
	"github.com/jamaly87/code-search-service/internal/embeddings"
	"github.com/jamaly87/code-search-service/internal/languages"
	"github.com/jamaly87/code-search-service/internal/models"
	"github.com/jamaly87/code-search-service/internal/store"
	"github.com/jamaly87/code-search-service/internal/vectordb"
)

func newTestPool(t *testing.T) (*Pool, store.MetadataStore, vectordb.VectorStore) {
	t.Helper()
	registry := languages.NewRegistry()
	ch, err := chunker.New(registry, config.ChunkingConfig{MaxTokens: 512, MinChunkByteLength: 1, EnableHierarchical: true})
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	provider, err := embeddings.NewMockProvider(16, 1024)
	if err != nil {
		t.Fatalf("NewMockProvider: %v", err)
	}
	ms := store.NewInMemoryStore()
	vs := vectordb.NewInMemoryVectorStore()
	cfg := config.WorkerConfig{WorkerCount: 1, PollIntervalMS: 10, VisibilityTimeoutSec: 60}
	p := New(cfg, ms, vs, ch, registry, provider, zerolog.Nop())
	return p, ms, vs
}

func waitForJobTerminal(t *testing.T, ms store.MetadataStore, jobID uuid.UUID) models.IndexingJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := ms.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for job to finish")
	return models.IndexingJob{}
}

func TestPoolIndexesSubmittedFileAndCompletesJob(t *testing.T) {
	p, ms, vs := newTestPool(t)
	tenant := uuid.New()
	rc := models.RepositoryContext{RepositoryID: "repo1", Branch: "main", CommitSHA: "abc"}
	jobID, err := ms.SubmitJob(context.Background(), tenant, rc, []store.FileSubmission{
		{Path: "main.go", Content: "package main\n\nfunc Hello() string {\n\treturn \"hi\"\n}\n"},
	}, "corr-1")
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	job := waitForJobTerminal(t, ms, jobID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected job completed, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.ChunksCreated == 0 {
		t.Error("expected at least one chunk created")
	}

	results, err := vs.Search(context.Background(), tenant, make([]float32, 16), 10, models.SearchFilters{}, "corr-2")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Error("expected search to find the stored chunk")
	}
}

func TestPoolSkipsUnchangedFileOnResubmit(t *testing.T) {
	p, ms, _ := newTestPool(t)
	tenant := uuid.New()
	rc := models.RepositoryContext{RepositoryID: "repo1", Branch: "main", CommitSHA: "abc"}
	content := "package main\n\nfunc Hello() string { return \"hi\" }\n"

	job1, _ := ms.SubmitJob(context.Background(), tenant, rc, []store.FileSubmission{{Path: "main.go", Content: content}}, "c1")
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	firstJob := waitForJobTerminal(t, ms, job1)
	cancel()
	p.Stop()

	p2, ms2, _ := newTestPoolSharing(t, ms)
	job2, _ := ms2.SubmitJob(context.Background(), tenant, rc, []store.FileSubmission{{Path: "main.go", Content: content}}, "c2")
	ctx2, cancel2 := context.WithCancel(context.Background())
	p2.Start(ctx2)
	defer func() { cancel2(); p2.Stop() }()
	secondJob := waitForJobTerminal(t, ms2, job2)

	if secondJob.ChunksCreated != 0 {
		t.Errorf("expected unchanged resubmit to create zero new chunks, got %d (first job created %d)", secondJob.ChunksCreated, firstJob.ChunksCreated)
	}
}

func TestModifiedFileReplacesOldGeneration(t *testing.T) {
	p, ms, vs := newTestPool(t)
	tenant := uuid.New()
	rc := models.RepositoryContext{RepositoryID: "repo1", Branch: "main", CommitSHA: "abc"}
	ctx := context.Background()

	job1, err := ms.SubmitJob(ctx, tenant, rc, []store.FileSubmission{
		{Path: "a.go", Content: "package a\n\nfunc A() int { return 1 }\n"},
	}, "c1")
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	f1, _ := ms.DequeueFile(ctx)
	p.processFile(ctx, zerolog.Nop(), f1)
	if job, _ := ms.GetJob(ctx, job1); job.Status != models.JobStatusCompleted {
		t.Fatalf("expected first job completed, got %s", job.Status)
	}

	job2, _ := ms.SubmitJob(ctx, tenant, rc, []store.FileSubmission{
		{Path: "a.go", Content: "package a\n\nfunc A() int { return 2 }\n"},
	}, "c2")
	f2, _ := ms.DequeueFile(ctx)
	p.processFile(ctx, zerolog.Nop(), f2)
	if job, _ := ms.GetJob(ctx, job2); job.Status != models.JobStatusCompleted {
		t.Fatalf("expected second job completed, got %s", job.Status)
	}

	files, err := ms.GetFilesMetadata(ctx, tenant, []string{"a.go"})
	if err != nil || len(files) != 1 {
		t.Fatalf("GetFilesMetadata: %v (%d rows)", err, len(files))
	}
	if files[0].Generation != 2 {
		t.Fatalf("expected generation 2 after modification, got %d", files[0].Generation)
	}

	remaining, err := ms.ReplaceFileChunks(ctx, tenant, "repo1", "main", "a.go", 2)
	if err != nil {
		t.Fatalf("ReplaceFileChunks: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no metadata chunks below generation 2 to survive, found %d", len(remaining))
	}

	results, err := vs.Search(ctx, tenant, make([]float32, 16), 100, models.SearchFilters{}, "c3")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected the new generation's chunks in the vector store")
	}
	for _, r := range results {
		if r.Chunk.Generation != 2 {
			t.Fatalf("expected only generation-2 chunks to remain in the vector store, found generation %d", r.Chunk.Generation)
		}
	}
}

func TestFailedFileStaysProcessingForSweep(t *testing.T) {
	registry := languages.NewRegistry()
	ch, err := chunker.New(registry, config.ChunkingConfig{MaxTokens: 512, MinChunkByteLength: 1})
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	provider, err := embeddings.NewMockProvider(16, 1024)
	if err != nil {
		t.Fatalf("NewMockProvider: %v", err)
	}
	provider.SetReady(false) // every embed call fails

	ms := store.NewInMemoryStore()
	vs := vectordb.NewInMemoryVectorStore()
	p := New(config.WorkerConfig{WorkerCount: 1, PollIntervalMS: 10, VisibilityTimeoutSec: 60}, ms, vs, ch, registry, provider, zerolog.Nop())

	tenant := uuid.New()
	ctx := context.Background()
	jobID, _ := ms.SubmitJob(ctx, tenant, models.RepositoryContext{RepositoryID: "repo1", Branch: "main", CommitSHA: "abc"},
		[]store.FileSubmission{{Path: "a.go", Content: "package a\n\nfunc A() {}\n"}}, "c1")

	f, _ := ms.DequeueFile(ctx)
	p.processFile(ctx, zerolog.Nop(), f)

	job, err := ms.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status == models.JobStatusCompleted {
		t.Fatal("expected job to stay open when its only file failed")
	}
	if job.FilesProcessed != 0 {
		t.Fatalf("expected no progress recorded for a failed file, got %d", job.FilesProcessed)
	}
	// The row is still 'processing', so it is invisible to dequeue until the
	// visibility-timeout sweep reclaims it.
	if again, _ := ms.DequeueFile(ctx); again != nil {
		t.Fatalf("expected failed file to stay claimed, dequeued %+v", again)
	}
	if n, _ := ms.RecoverStuckFiles(ctx, 0); n != 1 {
		t.Fatalf("expected sweep to reclaim the stuck row, got %d", n)
	}
	if again, _ := ms.DequeueFile(ctx); again == nil || again.FilePath != "a.go" {
		t.Fatal("expected reclaimed row to be dequeueable again")
	}
}

func newTestPoolSharing(t *testing.T, ms store.MetadataStore) (*Pool, store.MetadataStore, vectordb.VectorStore) {
	t.Helper()
	registry := languages.NewRegistry()
	ch, err := chunker.New(registry, config.ChunkingConfig{MaxTokens: 512, MinChunkByteLength: 1, EnableHierarchical: true})
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	provider, err := embeddings.NewMockProvider(16, 1024)
	if err != nil {
		t.Fatalf("NewMockProvider: %v", err)
	}
	vs := vectordb.NewInMemoryVectorStore()
	cfg := config.WorkerConfig{WorkerCount: 1, PollIntervalMS: 10, VisibilityTimeoutSec: 60}
	p := New(cfg, ms, vs, ch, registry, provider, zerolog.Nop())
	return p, ms, vs
}
