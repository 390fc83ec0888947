package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jamaly87/code-search-service/internal/apperr"
	"github.com/jamaly87/code-search-service/internal/models"
)

func testRC(repo, branch string) models.RepositoryContext {
	return models.RepositoryContext{
		RepositoryID:  repo,
		RepositoryURL: "https://example.com/" + repo,
		Branch:        branch,
		CommitSHA:     "deadbeef",
		CommitMessage: "initial",
		Author:        "tester",
	}
}

func TestSubmitJobEnqueuesAllFiles(t *testing.T) {
	s := NewInMemoryStore()
	tenant := uuid.New()
	files := []FileSubmission{{Path: "a.go", Content: "package a"}, {Path: "b.go", Content: "package b"}}

	jobID, err := s.SubmitJob(context.Background(), tenant, testRC("repo1", "main"), files, "corr-1")
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	job, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != models.JobStatusRunning {
		t.Errorf("expected running status, got %s", job.Status)
	}
	if job.FilesTotal == nil || *job.FilesTotal != 2 {
		t.Errorf("expected files_total=2, got %v", job.FilesTotal)
	}

	for range files {
		f, err := s.DequeueFile(context.Background())
		if err != nil {
			t.Fatalf("DequeueFile: %v", err)
		}
		if f == nil {
			t.Fatal("expected a queued file, got nil")
		}
		if f.JobID != jobID {
			t.Errorf("dequeued file belongs to wrong job")
		}
	}
	if f, _ := s.DequeueFile(context.Background()); f != nil {
		t.Errorf("expected queue to be drained, got %+v", f)
	}
}

func TestSubmitJobRejectsEmptyFileList(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.SubmitJob(context.Background(), uuid.New(), testRC("repo1", "main"), nil, "corr-2")
	if err == nil {
		t.Fatal("expected error for empty file list")
	}
}

func TestDequeueFileIsGloballyFIFOAcrossJobs(t *testing.T) {
	s := NewInMemoryStore()
	tenant := uuid.New()

	job1, _ := s.SubmitJob(context.Background(), tenant, testRC("repo1", "main"), []FileSubmission{{Path: "1.go", Content: "x"}}, "c1")
	time.Sleep(time.Millisecond)
	job2, _ := s.SubmitJob(context.Background(), tenant, testRC("repo2", "main"), []FileSubmission{{Path: "2.go", Content: "y"}}, "c2")

	first, _ := s.DequeueFile(context.Background())
	second, _ := s.DequeueFile(context.Background())
	if first.JobID != job1 {
		t.Errorf("expected job1 to dequeue first, got %s", first.JobID)
	}
	if second.JobID != job2 {
		t.Errorf("expected job2 to dequeue second, got %s", second.JobID)
	}
}

func TestDequeueFileSkipsNonQueuedRows(t *testing.T) {
	s := NewInMemoryStore()
	tenant := uuid.New()
	jobID, _ := s.SubmitJob(context.Background(), tenant, testRC("repo1", "main"), []FileSubmission{{Path: "a.go", Content: "x"}}, "c1")

	claimed, _ := s.DequeueFile(context.Background())
	if claimed == nil {
		t.Fatal("expected a file to claim")
	}
	if again, _ := s.DequeueFile(context.Background()); again != nil {
		t.Fatalf("expected processing row to not be re-dequeued, got %+v", again)
	}
	if err := s.MarkFileCompleted(context.Background(), jobID, "a.go"); err != nil {
		t.Fatalf("MarkFileCompleted: %v", err)
	}
	complete, err := s.CheckJobComplete(context.Background(), jobID)
	if err != nil || !complete {
		t.Errorf("expected job complete, got complete=%v err=%v", complete, err)
	}
}

func TestCheckFileStateTransitions(t *testing.T) {
	s := NewInMemoryStore()
	tenant := uuid.New()

	st, err := s.CheckFileState(context.Background(), tenant, "repo1", "main", "a.go", "hash1")
	if err != nil || st.Kind != models.FileStateNew || st.Generation != 1 {
		t.Fatalf("expected New/gen1, got %+v err=%v", st, err)
	}

	if _, err := s.RecordFileIndexing(context.Background(), tenant, "repo1", "main", models.FileMetadata{
		Path: "a.go", Content: "package a", ContentHash: "hash1", Encoding: "utf-8", Generation: 1,
	}); err != nil {
		t.Fatalf("RecordFileIndexing: %v", err)
	}

	st, err = s.CheckFileState(context.Background(), tenant, "repo1", "main", "a.go", "hash1")
	if err != nil || st.Kind != models.FileStateUnchanged || st.Generation != 1 {
		t.Fatalf("expected Unchanged/gen1, got %+v err=%v", st, err)
	}

	st, err = s.CheckFileState(context.Background(), tenant, "repo1", "main", "a.go", "hash2")
	if err != nil || st.Kind != models.FileStateUpdated || st.Generation != 2 || st.OldGeneration != 1 {
		t.Fatalf("expected Updated old=1 new=2, got %+v err=%v", st, err)
	}
}

func TestCheckFileStateRejectsGenerationOverflow(t *testing.T) {
	s := NewInMemoryStore()
	tenant := uuid.New()

	s.files[fileKey{tenant, "repo1", "main", "a.go"}] = models.IndexedFile{
		TenantID: tenant, RepositoryID: "repo1", Branch: "main", FilePath: "a.go",
		ContentHash: "hash1", Generation: 1<<63 - 1,
	}

	_, err := s.CheckFileState(context.Background(), tenant, "repo1", "main", "a.go", "hash2")
	if err == nil {
		t.Fatal("expected a DataIntegrityError on generation overflow")
	}
	var dbErr *apperr.DatabaseError
	if !errors.As(err, &dbErr) || dbErr.Kind != apperr.DatabaseDataIntegrity {
		t.Fatalf("expected DatabaseError{Kind: DataIntegrity}, got %#v", err)
	}
}

func TestReplaceFileChunksOnlyRemovesOlderGenerations(t *testing.T) {
	s := NewInMemoryStore()
	tenant := uuid.New()
	oldID := uuid.New()
	keepID := uuid.New()

	if err := s.InsertChunks(context.Background(), tenant, "repo1", "main", []models.ChunkMetadata{
		{ChunkID: oldID, FilePath: "a.go", Generation: 1},
		{ChunkID: keepID, FilePath: "a.go", Generation: 2},
	}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	removed, err := s.ReplaceFileChunks(context.Background(), tenant, "repo1", "main", "a.go", 2)
	if err != nil {
		t.Fatalf("ReplaceFileChunks: %v", err)
	}
	if len(removed) != 1 || removed[0] != oldID {
		t.Fatalf("expected only generation-1 chunk removed, got %v", removed)
	}
	if _, ok := s.chunks[keepID]; !ok {
		t.Error("expected generation-2 chunk to survive")
	}
}

func TestInsertChunksIsIdempotent(t *testing.T) {
	s := NewInMemoryStore()
	tenant := uuid.New()
	id := uuid.New()
	chunk := models.ChunkMetadata{ChunkID: id, FilePath: "a.go", Generation: 1, Name: "first"}

	if err := s.InsertChunks(context.Background(), tenant, "repo1", "main", []models.ChunkMetadata{chunk}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	retry := chunk
	retry.Name = "should-not-overwrite"
	if err := s.InsertChunks(context.Background(), tenant, "repo1", "main", []models.ChunkMetadata{retry}); err != nil {
		t.Fatalf("InsertChunks retry: %v", err)
	}
	if got := s.chunks[id].Name; got != "first" {
		t.Errorf("expected conflict-ignore semantics to keep original row, got name=%q", got)
	}
}

func TestJobCompletionEventuallyAdvancesBranch(t *testing.T) {
	s := NewInMemoryStore()
	tenant := uuid.New()
	jobID, _ := s.SubmitJob(context.Background(), tenant, testRC("repo1", "main"), []FileSubmission{{Path: "a.go", Content: "x"}}, "c1")

	f, _ := s.DequeueFile(context.Background())
	_ = s.MarkFileCompleted(context.Background(), jobID, f.FilePath)
	done, _ := s.CheckJobComplete(context.Background(), jobID)
	if !done {
		t.Fatal("expected job complete after its only file finishes")
	}
	if err := s.CompleteJob(context.Background(), jobID, models.JobStatusCompleted, ""); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	branches, err := s.GetProjectBranches(context.Background(), tenant, []RepoBranch{{RepositoryID: "repo1", Branch: "main"}})
	if err != nil || len(branches) != 1 || branches[0].LastIndexed == nil {
		t.Fatalf("expected last_indexed to be set, got %+v err=%v", branches, err)
	}
}

func TestRecoverStuckFilesResetsOldProcessingRows(t *testing.T) {
	s := NewInMemoryStore()
	tenant := uuid.New()
	_, _ = s.SubmitJob(context.Background(), tenant, testRC("repo1", "main"), []FileSubmission{{Path: "a.go", Content: "x"}}, "c1")

	f, _ := s.DequeueFile(context.Background())
	stale := f.StartedAt.Add(-10 * time.Minute)
	for _, qf := range s.queue {
		if qf.ID == f.ID {
			qf.StartedAt = &stale
		}
	}

	n, err := s.RecoverStuckFiles(context.Background(), 5*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 recovered row, got n=%d err=%v", n, err)
	}
	again, _ := s.DequeueFile(context.Background())
	if again == nil || again.FilePath != "a.go" {
		t.Fatalf("expected recovered row to be re-dequeueable, got %+v", again)
	}
}
