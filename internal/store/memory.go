package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamaly87/code-search-service/internal/apperr"
	"github.com/jamaly87/code-search-service/internal/models"
)

type fileKey struct {
	tenant uuid.UUID
	repo   string
	branch string
	path   string
}

type branchKey struct {
	tenant uuid.UUID
	repo   string
	branch string
}

// InMemoryStore is a deterministic, mutex-protected MetadataStore used by
// job-admission and worker tests in place of PostgresStore. Queue order and
// generation semantics match the production implementation exactly.
type InMemoryStore struct {
	mu sync.Mutex

	branches map[branchKey]models.ProjectBranch
	files    map[fileKey]models.IndexedFile
	chunks   map[uuid.UUID]models.ChunkMetadata
	jobs     map[uuid.UUID]models.IndexingJob
	queue    []*models.QueuedFile
	nextID   int64
}

var _ MetadataStore = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		branches: make(map[branchKey]models.ProjectBranch),
		files:    make(map[fileKey]models.IndexedFile),
		chunks:   make(map[uuid.UUID]models.ChunkMetadata),
		jobs:     make(map[uuid.UUID]models.IndexingJob),
	}
}

func (s *InMemoryStore) EnsureProjectBranch(ctx context.Context, tenant uuid.UUID, rc models.RepositoryContext) (models.ProjectBranch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureBranchLocked(tenant, rc.RepositoryID, rc.Branch, rc.RepositoryURL), nil
}

func (s *InMemoryStore) ensureBranchLocked(tenant uuid.UUID, repo, branch, url string) models.ProjectBranch {
	k := branchKey{tenant, repo, branch}
	pb, ok := s.branches[k]
	if !ok {
		pb = models.ProjectBranch{TenantID: tenant, RepositoryID: repo, Branch: branch, RepositoryURL: url, FirstSeen: time.Now()}
	} else {
		pb.RepositoryURL = url
	}
	s.branches[k] = pb
	return pb
}

func (s *InMemoryStore) SubmitJob(ctx context.Context, tenant uuid.UUID, rc models.RepositoryContext, files []FileSubmission, correlationID string) (uuid.UUID, error) {
	if len(files) == 0 {
		return uuid.Nil, &apperr.ValidationError{Op: "submit_job", Message: "no files submitted"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureBranchLocked(tenant, rc.RepositoryID, rc.Branch, rc.RepositoryURL)

	jobID := uuid.New()
	total := len(files)
	var commitDate *time.Time
	if !rc.CommitDate.IsZero() {
		t := rc.CommitDate
		commitDate = &t
	}
	s.jobs[jobID] = models.IndexingJob{
		JobID: jobID, TenantID: tenant, RepositoryID: rc.RepositoryID, Branch: rc.Branch,
		Status: models.JobStatusRunning, FilesTotal: &total, RepositoryURL: rc.RepositoryURL,
		CommitSHA: rc.CommitSHA, CommitMessage: rc.CommitMessage, CommitDate: commitDate,
		Author: rc.Author, StartedAt: time.Now(),
	}
	for _, f := range files {
		s.nextID++
		s.queue = append(s.queue, &models.QueuedFile{
			ID: s.nextID, JobID: jobID, TenantID: tenant, RepositoryID: rc.RepositoryID, Branch: rc.Branch,
			FilePath: f.Path, FileContent: f.Content, ContentHash: HashContent(f.Content),
			Status: models.QueuedFileStatusQueued, CreatedAt: time.Now(),
		})
	}
	return jobID, nil
}

func (s *InMemoryStore) CheckFileState(ctx context.Context, tenant uuid.UUID, repositoryID, branch, path, hash string) (models.FileState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileKey{tenant, repositoryID, branch, path}]
	if !ok {
		return models.FileState{Kind: models.FileStateNew, Generation: 1}, nil
	}
	if f.ContentHash == hash {
		return models.FileState{Kind: models.FileStateUnchanged, Generation: f.Generation}, nil
	}
	if f.Generation == 1<<63-1 {
		return models.FileState{}, &apperr.DatabaseError{Kind: apperr.DatabaseDataIntegrity, Op: "check_file_state", Pool: apperr.PoolWrite, Err: errGenerationOverflow}
	}
	return models.FileState{Kind: models.FileStateUpdated, OldGeneration: f.Generation, Generation: f.Generation + 1}, nil
}

func (s *InMemoryStore) RecordFileIndexing(ctx context.Context, tenant uuid.UUID, repositoryID, branch string, metadata models.FileMetadata) (models.IndexedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := models.IndexedFile{
		TenantID: tenant, RepositoryID: repositoryID, Branch: branch, FilePath: metadata.Path,
		FileContent: metadata.Content, ContentHash: metadata.ContentHash, Encoding: metadata.Encoding,
		SizeBytes: metadata.SizeBytes, Generation: metadata.Generation, CommitSHA: metadata.CommitSHA,
		CommitMessage: metadata.CommitMessage, CommitDate: metadata.CommitDate, Author: metadata.Author,
		IndexedAt: time.Now(),
	}
	s.files[fileKey{tenant, repositoryID, branch, metadata.Path}] = f
	return f, nil
}

func (s *InMemoryStore) InsertChunks(ctx context.Context, tenant uuid.UUID, repositoryID, branch string, chunks []models.ChunkMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if _, exists := s.chunks[c.ChunkID]; exists {
			continue
		}
		c.TenantID = tenant
		c.RepositoryID = repositoryID
		c.Branch = branch
		c.CreatedAt = time.Now()
		s.chunks[c.ChunkID] = c
	}
	return nil
}

func (s *InMemoryStore) ReplaceFileChunks(ctx context.Context, tenant uuid.UUID, repositoryID, branch, path string, newGeneration int64) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []uuid.UUID
	for id, c := range s.chunks {
		if c.TenantID == tenant && c.RepositoryID == repositoryID && c.Branch == branch && c.FilePath == path && c.Generation < newGeneration {
			removed = append(removed, id)
			delete(s.chunks, id)
		}
	}
	return removed, nil
}

// DequeueFile claims the oldest queued row by (priority desc, created_at
// asc), mirroring the production FOR UPDATE SKIP LOCKED ordering exactly so
// tests can assert on dequeue order.
func (s *InMemoryStore) DequeueFile(ctx context.Context) (*models.QueuedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*models.QueuedFile
	for _, f := range s.queue {
		if f.Status == models.QueuedFileStatusQueued {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	claimed := candidates[0]
	claimed.Status = models.QueuedFileStatusProcessing
	now := time.Now()
	claimed.StartedAt = &now
	cp := *claimed
	return &cp, nil
}

func (s *InMemoryStore) MarkFileCompleted(ctx context.Context, jobID uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.queue {
		if f.JobID == jobID && f.FilePath == path && f.Status == models.QueuedFileStatusProcessing {
			f.Status = models.QueuedFileStatusCompleted
			now := time.Now()
			f.CompletedAt = &now
		}
	}
	return nil
}

func (s *InMemoryStore) IncrementJobProgress(ctx context.Context, jobID uuid.UUID, dFiles, dChunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return &apperr.JobNotFoundError{JobID: jobID.String()}
	}
	j.FilesProcessed += dFiles
	j.ChunksCreated += dChunks
	s.jobs[jobID] = j
	return nil
}

func (s *InMemoryStore) CheckJobComplete(ctx context.Context, jobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.queue {
		if f.JobID == jobID && (f.Status == models.QueuedFileStatusQueued || f.Status == models.QueuedFileStatusProcessing) {
			return false, nil
		}
	}
	return true, nil
}

func (s *InMemoryStore) CompleteJob(ctx context.Context, jobID uuid.UUID, status models.JobStatus, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return &apperr.JobNotFoundError{JobID: jobID.String()}
	}
	j.Status = status
	j.ErrorMessage = errMessage
	now := time.Now()
	j.CompletedAt = &now
	s.jobs[jobID] = j
	if status == models.JobStatusCompleted {
		k := branchKey{j.TenantID, j.RepositoryID, j.Branch}
		if pb, ok := s.branches[k]; ok {
			pb.LastIndexed = &now
			s.branches[k] = pb
		}
	}
	return nil
}

func (s *InMemoryStore) GetJob(ctx context.Context, jobID uuid.UUID) (models.IndexingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return models.IndexingJob{}, &apperr.JobNotFoundError{JobID: jobID.String()}
	}
	return j, nil
}

func (s *InMemoryStore) RecoverStuckFiles(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var count int64
	for _, f := range s.queue {
		if f.Status == models.QueuedFileStatusProcessing && f.StartedAt != nil && f.StartedAt.Before(cutoff) {
			f.Status = models.QueuedFileStatusQueued
			f.StartedAt = nil
			count++
		}
	}
	return count, nil
}

// ListIndexingJobs returns the most recently started jobs for tenant, newest
// first.
func (s *InMemoryStore) ListIndexingJobs(ctx context.Context, tenant uuid.UUID, limit int) ([]models.IndexingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []models.IndexingJob
	for _, j := range s.jobs {
		if j.TenantID == tenant {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats reports counters over all tenants; DatabaseSizeMB has no meaning
// without a real database and is always reported as zero.
func (s *InMemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var queueDepth int64
	for _, f := range s.queue {
		if f.Status == models.QueuedFileStatusQueued || f.Status == models.QueuedFileStatusProcessing {
			queueDepth++
		}
	}
	return Stats{
		IndexedFiles:    int64(len(s.files)),
		Chunks:          int64(len(s.chunks)),
		ProjectBranches: int64(len(s.branches)),
		QueueDepth:      queueDepth,
	}, nil
}

func (s *InMemoryStore) GetFilesMetadata(ctx context.Context, tenant uuid.UUID, paths []string) ([]models.IndexedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	var out []models.IndexedFile
	for k, f := range s.files {
		if k.tenant == tenant && want[k.path] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetProjectBranches(ctx context.Context, tenant uuid.UUID, pairs []RepoBranch) ([]models.ProjectBranch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ProjectBranch
	for _, p := range pairs {
		if pb, ok := s.branches[branchKey{tenant, p.RepositoryID, p.Branch}]; ok {
			out = append(out, pb)
		}
	}
	return out, nil
}
