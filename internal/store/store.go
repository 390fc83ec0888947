// Package store implements the metadata store capability (C5): the
// authoritative relational record of tenants, project branches, indexed
// files, chunk metadata, indexing jobs, and the persistent file queue.
//
// PostgresStore is the production implementation, built on three logical
// pgxpool pools (write/read/analytics) so pool exhaustion is observable per
// class, following seanblong-reposearch's pgx/pgxpool connection pattern.
// InMemoryStore is a deterministic, mutex-protected test double used by the
// worker and job-admission tests.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jamaly87/code-search-service/internal/apperr"
	"github.com/jamaly87/code-search-service/internal/models"
)

// FileSubmission is one file as submitted to a job: its path and raw (not
// yet decoded) content.
type FileSubmission struct {
	Path    string
	Content string
}

// RepoBranch names one (repository_id, branch) pair for batch lookups.
type RepoBranch struct {
	RepositoryID string
	Branch       string
}

// MetadataStore is the capability interface every component upstream of
// persistence (job admission, the background worker, search) depends on.
// Every operation that takes a tenant is scoped to it. The queue and job
// operations keyed by job id (DequeueFile, MarkFileCompleted, GetJob and the
// other job-progress calls), RecoverStuckFiles and Stats take no tenant and
// act across all tenants.
type MetadataStore interface {
	EnsureProjectBranch(ctx context.Context, tenant uuid.UUID, rc models.RepositoryContext) (models.ProjectBranch, error)

	// SubmitJob performs ensure_project_branch + create_indexing_job +
	// N*enqueue_file as a single atomic unit, per spec §4.8.
	SubmitJob(ctx context.Context, tenant uuid.UUID, rc models.RepositoryContext, files []FileSubmission, correlationID string) (uuid.UUID, error)

	CheckFileState(ctx context.Context, tenant uuid.UUID, repositoryID, branch, path, contentHash string) (models.FileState, error)
	RecordFileIndexing(ctx context.Context, tenant uuid.UUID, repositoryID, branch string, metadata models.FileMetadata) (models.IndexedFile, error)
	InsertChunks(ctx context.Context, tenant uuid.UUID, repositoryID, branch string, chunks []models.ChunkMetadata) error
	ReplaceFileChunks(ctx context.Context, tenant uuid.UUID, repositoryID, branch, path string, newGeneration int64) ([]uuid.UUID, error)

	DequeueFile(ctx context.Context) (*models.QueuedFile, error)
	MarkFileCompleted(ctx context.Context, jobID uuid.UUID, path string) error
	IncrementJobProgress(ctx context.Context, jobID uuid.UUID, dFiles, dChunks int) error
	CheckJobComplete(ctx context.Context, jobID uuid.UUID) (bool, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID, status models.JobStatus, errMessage string) error
	GetJob(ctx context.Context, jobID uuid.UUID) (models.IndexingJob, error)

	// ListIndexingJobs returns up to limit most recently started jobs for
	// tenant, newest first, per SPEC_FULL.md §10's job-listing feature.
	ListIndexingJobs(ctx context.Context, tenant uuid.UUID, limit int) ([]models.IndexingJob, error)

	// RecoverStuckFiles resets queue rows stuck in 'processing' past
	// olderThan back to 'queued', guarding against worker crashes mid-file.
	RecoverStuckFiles(ctx context.Context, olderThan time.Duration) (int64, error)

	GetFilesMetadata(ctx context.Context, tenant uuid.UUID, paths []string) ([]models.IndexedFile, error)
	GetProjectBranches(ctx context.Context, tenant uuid.UUID, pairs []RepoBranch) ([]models.ProjectBranch, error)

	// Stats gathers cross-tenant diagnostic counters, per SPEC_FULL.md §10's
	// database-size/count diagnostics feature.
	Stats(ctx context.Context) (Stats, error)
}

// Stats is the diagnostic snapshot returned by MetadataStore.Stats, grounded
// on original_source's count_indexed_files, count_chunks,
// count_project_branches, get_queue_depth, and get_database_size_mb.
type Stats struct {
	IndexedFiles    int64
	Chunks          int64
	ProjectBranches int64
	QueueDepth      int64
	DatabaseSizeMB  float64
}

// Pools groups the three logical connection pools the spec calls for. A
// single physical pgxpool.Pool may back more than one role; the split is a
// performance hint (spec §5), not a correctness requirement, but keeping it
// observable per class is.
type Pools struct {
	Write     *pgxpool.Pool
	Read      *pgxpool.Pool
	Analytics *pgxpool.Pool
}

var _ MetadataStore = (*PostgresStore)(nil)

// PostgresStore implements MetadataStore against PostgreSQL via pgx.
type PostgresStore struct {
	pools Pools
	log   zerolog.Logger
}

// NewPostgresStore opens three pools against url, sized by writeSize,
// readSize and analyticsSize, and returns
// a ready PostgresStore. Callers should call EnsureSchema once at startup.
func NewPostgresStore(ctx context.Context, url string, writeSize, readSize, analyticsSize int32, log zerolog.Logger) (*PostgresStore, error) {
	write, err := newPool(ctx, url, writeSize)
	if err != nil {
		return nil, &apperr.DatabaseError{Kind: apperr.DatabaseConnectionFailed, Op: "connect_write_pool", Pool: apperr.PoolWrite, Err: err}
	}
	read, err := newPool(ctx, url, readSize)
	if err != nil {
		return nil, &apperr.DatabaseError{Kind: apperr.DatabaseConnectionFailed, Op: "connect_read_pool", Pool: apperr.PoolRead, Err: err}
	}
	analytics, err := newPool(ctx, url, analyticsSize)
	if err != nil {
		return nil, &apperr.DatabaseError{Kind: apperr.DatabaseConnectionFailed, Op: "connect_analytics_pool", Pool: apperr.PoolAnalytics, Err: err}
	}
	return &PostgresStore{pools: Pools{Write: write, Read: read, Analytics: analytics}, log: log}, nil
}

func newPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Close releases all three pools.
func (s *PostgresStore) Close() {
	s.pools.Write.Close()
	s.pools.Read.Close()
	s.pools.Analytics.Close()
}

// EnsureSchema applies the logical schema from §6 idempotently. Production
// deployments would normally run this via a migration tool; it is inlined
// here because the spec treats "database pool tuning and SQL migrations" as
// out of scope and this keeps the store self-contained for tests and small
// deployments.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pools.Write.Exec(ctx, schemaSQL)
	if err != nil {
		return &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "ensure_schema", Pool: apperr.PoolWrite, Err: err}
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tenants (
    id UUID PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS project_branches (
    tenant_id      UUID NOT NULL,
    repository_id  TEXT NOT NULL,
    branch         TEXT NOT NULL,
    repository_url TEXT NOT NULL DEFAULT '',
    first_seen     TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_indexed   TIMESTAMPTZ,
    PRIMARY KEY (tenant_id, repository_id, branch)
);

CREATE TABLE IF NOT EXISTS indexed_files (
    tenant_id      UUID NOT NULL,
    repository_id  TEXT NOT NULL,
    branch         TEXT NOT NULL,
    file_path      TEXT NOT NULL,
    file_content   TEXT NOT NULL,
    content_hash   TEXT NOT NULL,
    encoding       TEXT NOT NULL,
    size_bytes     BIGINT NOT NULL,
    generation     BIGINT NOT NULL,
    commit_sha     TEXT NOT NULL DEFAULT '',
    commit_message TEXT NOT NULL DEFAULT '',
    commit_date    TIMESTAMPTZ,
    author         TEXT NOT NULL DEFAULT '',
    indexed_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, repository_id, branch, file_path)
);

CREATE TABLE IF NOT EXISTS chunk_metadata (
    chunk_id      UUID PRIMARY KEY,
    tenant_id     UUID NOT NULL,
    repository_id TEXT NOT NULL,
    branch        TEXT NOT NULL,
    file_path     TEXT NOT NULL,
    chunk_index   INT NOT NULL,
    generation    BIGINT NOT NULL,
    start_line    INT NOT NULL,
    end_line      INT NOT NULL,
    byte_start    BIGINT NOT NULL,
    byte_end      BIGINT NOT NULL,
    kind          TEXT NOT NULL DEFAULT '',
    name          TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chunk_metadata_file_idx
    ON chunk_metadata (tenant_id, repository_id, branch, file_path, generation);

CREATE TABLE IF NOT EXISTS indexing_jobs (
    job_id          UUID PRIMARY KEY,
    tenant_id       UUID NOT NULL,
    repository_id   TEXT NOT NULL,
    branch          TEXT NOT NULL,
    status          TEXT NOT NULL,
    files_total     INT,
    files_processed INT NOT NULL DEFAULT 0,
    chunks_created  INT NOT NULL DEFAULT 0,
    repository_url  TEXT NOT NULL DEFAULT '',
    commit_sha      TEXT NOT NULL DEFAULT '',
    commit_message  TEXT NOT NULL DEFAULT '',
    commit_date     TIMESTAMPTZ,
    author          TEXT NOT NULL DEFAULT '',
    started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at    TIMESTAMPTZ,
    error_message   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS indexing_job_file_queue (
    id            BIGSERIAL PRIMARY KEY,
    job_id        UUID NOT NULL REFERENCES indexing_jobs(job_id) ON DELETE CASCADE,
    tenant_id     UUID NOT NULL,
    repository_id TEXT NOT NULL,
    branch        TEXT NOT NULL,
    file_path     TEXT NOT NULL,
    file_content  TEXT NOT NULL,
    content_hash  TEXT NOT NULL,
    priority      INT NOT NULL DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'queued',
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS indexing_job_file_queue_dequeue_idx
    ON indexing_job_file_queue (status, priority DESC, created_at ASC);
`

// EnsureProjectBranch upserts the project/branch row, returning its current
// state. repository_url is refreshed on every call.
func (s *PostgresStore) EnsureProjectBranch(ctx context.Context, tenant uuid.UUID, rc models.RepositoryContext) (models.ProjectBranch, error) {
	const q = `
		INSERT INTO project_branches (tenant_id, repository_id, branch, repository_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, repository_id, branch)
		DO UPDATE SET repository_url = EXCLUDED.repository_url
		RETURNING tenant_id, repository_id, branch, repository_url, first_seen, last_indexed`
	row := s.pools.Write.QueryRow(ctx, q, tenant, rc.RepositoryID, rc.Branch, rc.RepositoryURL)
	var pb models.ProjectBranch
	if err := row.Scan(&pb.TenantID, &pb.RepositoryID, &pb.Branch, &pb.RepositoryURL, &pb.FirstSeen, &pb.LastIndexed); err != nil {
		return models.ProjectBranch{}, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "ensure_project_branch", Pool: apperr.PoolWrite, Err: err}
	}
	return pb, nil
}

// SubmitJob runs ensure_project_branch, create_indexing_job, and one
// enqueue_file per file inside a single transaction, matching spec §4.8's
// all-or-nothing admission contract.
func (s *PostgresStore) SubmitJob(ctx context.Context, tenant uuid.UUID, rc models.RepositoryContext, files []FileSubmission, correlationID string) (uuid.UUID, error) {
	tx, err := s.pools.Write.Begin(ctx)
	if err != nil {
		return uuid.Nil, &apperr.DatabaseError{Kind: apperr.DatabaseConnectionFailed, Op: "submit_job_begin", Pool: apperr.PoolWrite, CorrelationID: correlationID, Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO project_branches (tenant_id, repository_id, branch, repository_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, repository_id, branch) DO UPDATE SET repository_url = EXCLUDED.repository_url`,
		tenant, rc.RepositoryID, rc.Branch, rc.RepositoryURL); err != nil {
		return uuid.Nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "submit_job_ensure_branch", Pool: apperr.PoolWrite, CorrelationID: correlationID, Err: err}
	}

	jobID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO indexing_jobs (
			job_id, tenant_id, repository_id, branch, status, files_total,
			files_processed, chunks_created, repository_url,
			commit_sha, commit_message, commit_date, author, started_at
		) VALUES ($1,$2,$3,$4,$5,$6,0,0,$7,$8,$9,$10,$11,now())`,
		jobID, tenant, rc.RepositoryID, rc.Branch, models.JobStatusRunning, len(files),
		rc.RepositoryURL, rc.CommitSHA, rc.CommitMessage, nullableTime(rc.CommitDate), rc.Author); err != nil {
		return uuid.Nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "submit_job_create_job", Pool: apperr.PoolWrite, CorrelationID: correlationID, Err: err}
	}

	for _, f := range files {
		hash := HashContent(f.Content)
		if _, err := tx.Exec(ctx, `
			INSERT INTO indexing_job_file_queue
				(job_id, tenant_id, repository_id, branch, file_path, file_content, content_hash, status, priority)
			VALUES ($1,$2,$3,$4,$5,$6,$7,'queued',0)`,
			jobID, tenant, rc.RepositoryID, rc.Branch, f.Path, f.Content, hash); err != nil {
			return uuid.Nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "submit_job_enqueue_file", Pool: apperr.PoolWrite, CorrelationID: correlationID, Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "submit_job_commit", Pool: apperr.PoolWrite, CorrelationID: correlationID, Err: err}
	}
	return jobID, nil
}

// CheckFileState compares the stored content_hash for (tenant, repo, branch,
// path) against contentHash, returning New/Unchanged/Updated. Generation
// overflow is a DataIntegrityError, never auto-repaired.
func (s *PostgresStore) CheckFileState(ctx context.Context, tenant uuid.UUID, repositoryID, branch, path, contentHash string) (models.FileState, error) {
	const q = `SELECT content_hash, generation FROM indexed_files WHERE tenant_id=$1 AND repository_id=$2 AND branch=$3 AND file_path=$4`
	row := s.pools.Read.QueryRow(ctx, q, tenant, repositoryID, branch, path)
	var existingHash string
	var generation int64
	err := row.Scan(&existingHash, &generation)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.FileState{Kind: models.FileStateNew, Generation: 1}, nil
		}
		return models.FileState{}, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "check_file_state", Pool: apperr.PoolRead, Err: err}
	}
	if existingHash == contentHash {
		return models.FileState{Kind: models.FileStateUnchanged, Generation: generation}, nil
	}
	if generation == 1<<63-1 {
		return models.FileState{}, &apperr.DatabaseError{Kind: apperr.DatabaseDataIntegrity, Op: "check_file_state", Pool: apperr.PoolRead, Err: errGenerationOverflow}
	}
	return models.FileState{Kind: models.FileStateUpdated, OldGeneration: generation, Generation: generation + 1}, nil
}

var errGenerationOverflow = &apperr.ValidationError{Op: "check_file_state", Message: "generation counter overflow"}

// RecordFileIndexing upserts the authoritative IndexedFile row.
func (s *PostgresStore) RecordFileIndexing(ctx context.Context, tenant uuid.UUID, repositoryID, branch string, metadata models.FileMetadata) (models.IndexedFile, error) {
	const q = `
		INSERT INTO indexed_files (
			tenant_id, repository_id, branch, file_path, file_content, content_hash,
			encoding, size_bytes, generation, commit_sha, commit_message, commit_date, author, indexed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		ON CONFLICT (tenant_id, repository_id, branch, file_path) DO UPDATE SET
			file_content = EXCLUDED.file_content,
			content_hash = EXCLUDED.content_hash,
			encoding     = EXCLUDED.encoding,
			size_bytes   = EXCLUDED.size_bytes,
			generation   = EXCLUDED.generation,
			commit_sha   = EXCLUDED.commit_sha,
			commit_message = EXCLUDED.commit_message,
			commit_date  = EXCLUDED.commit_date,
			author       = EXCLUDED.author,
			indexed_at   = now()
		RETURNING tenant_id, repository_id, branch, file_path, file_content, content_hash,
			encoding, size_bytes, generation, commit_sha, commit_message, commit_date, author, indexed_at`
	row := s.pools.Write.QueryRow(ctx, q, tenant, repositoryID, branch, metadata.Path, metadata.Content, metadata.ContentHash,
		metadata.Encoding, metadata.SizeBytes, metadata.Generation, metadata.CommitSHA, metadata.CommitMessage,
		metadata.CommitDate, metadata.Author)
	var f models.IndexedFile
	if err := row.Scan(&f.TenantID, &f.RepositoryID, &f.Branch, &f.FilePath, &f.FileContent, &f.ContentHash,
		&f.Encoding, &f.SizeBytes, &f.Generation, &f.CommitSHA, &f.CommitMessage, &f.CommitDate, &f.Author, &f.IndexedAt); err != nil {
		return models.IndexedFile{}, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "record_file_indexing", Pool: apperr.PoolWrite, Err: err}
	}
	return f, nil
}

// InsertChunks bulk-inserts chunk metadata, conflict-ignored on chunk_id so
// retries are idempotent.
func (s *PostgresStore) InsertChunks(ctx context.Context, tenant uuid.UUID, repositoryID, branch string, chunks []models.ChunkMetadata) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `
		INSERT INTO chunk_metadata (
			chunk_id, tenant_id, repository_id, branch, file_path, chunk_index, generation,
			start_line, end_line, byte_start, byte_end, kind, name, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		ON CONFLICT (chunk_id) DO NOTHING`
	for _, c := range chunks {
		batch.Queue(q, c.ChunkID, tenant, repositoryID, branch, c.FilePath, c.ChunkIndex, c.Generation,
			c.StartLine, c.EndLine, c.ByteStart, c.ByteEnd, c.Kind, c.Name)
	}
	br := s.pools.Write.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "insert_chunks", Pool: apperr.PoolWrite, Err: err}
		}
	}
	return nil
}

// ReplaceFileChunks atomically deletes chunks with generation < newGeneration
// for (tenant, repo, branch, path) and returns their ids, so the caller can
// mirror the delete into the vector store.
func (s *PostgresStore) ReplaceFileChunks(ctx context.Context, tenant uuid.UUID, repositoryID, branch, path string, newGeneration int64) ([]uuid.UUID, error) {
	const q = `
		DELETE FROM chunk_metadata
		WHERE tenant_id=$1 AND repository_id=$2 AND branch=$3 AND file_path=$4 AND generation < $5
		RETURNING chunk_id`
	rows, err := s.pools.Analytics.Query(ctx, q, tenant, repositoryID, branch, path, newGeneration)
	if err != nil {
		return nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "replace_file_chunks", Pool: apperr.PoolAnalytics, Err: err}
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "replace_file_chunks_scan", Pool: apperr.PoolAnalytics, Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DequeueFile atomically claims the single oldest queued row across all
// jobs via FOR UPDATE SKIP LOCKED, never blocking: it returns nil when the
// queue is empty.
func (s *PostgresStore) DequeueFile(ctx context.Context) (*models.QueuedFile, error) {
	const q = `
		UPDATE indexing_job_file_queue
		SET status = 'processing', started_at = now()
		WHERE id = (
			SELECT id FROM indexing_job_file_queue
			WHERE status = 'queued'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_id, tenant_id, repository_id, branch, file_path, file_content, content_hash, priority, status, started_at, completed_at, created_at`
	row := s.pools.Write.QueryRow(ctx, q)
	var f models.QueuedFile
	err := row.Scan(&f.ID, &f.JobID, &f.TenantID, &f.RepositoryID, &f.Branch, &f.FilePath, &f.FileContent,
		&f.ContentHash, &f.Priority, &f.Status, &f.StartedAt, &f.CompletedAt, &f.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "dequeue_file", Pool: apperr.PoolWrite, Err: err}
	}
	return &f, nil
}

// MarkFileCompleted transitions one queue row from processing to completed.
func (s *PostgresStore) MarkFileCompleted(ctx context.Context, jobID uuid.UUID, path string) error {
	const q = `UPDATE indexing_job_file_queue SET status='completed', completed_at=now() WHERE job_id=$1 AND file_path=$2 AND status='processing'`
	if _, err := s.pools.Write.Exec(ctx, q, jobID, path); err != nil {
		return &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "mark_file_completed", Pool: apperr.PoolWrite, Err: err}
	}
	return nil
}

// IncrementJobProgress atomically adds dFiles/dChunks to the job's counters.
func (s *PostgresStore) IncrementJobProgress(ctx context.Context, jobID uuid.UUID, dFiles, dChunks int) error {
	const q = `UPDATE indexing_jobs SET files_processed = files_processed + $2, chunks_created = chunks_created + $3 WHERE job_id=$1`
	if _, err := s.pools.Write.Exec(ctx, q, jobID, dFiles, dChunks); err != nil {
		return &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "increment_job_progress", Pool: apperr.PoolWrite, Err: err}
	}
	return nil
}

// CheckJobComplete reports true iff no queued or processing rows remain.
func (s *PostgresStore) CheckJobComplete(ctx context.Context, jobID uuid.UUID) (bool, error) {
	const q = `SELECT COUNT(*) FROM indexing_job_file_queue WHERE job_id=$1 AND status IN ('queued','processing')`
	var count int64
	if err := s.pools.Read.QueryRow(ctx, q, jobID).Scan(&count); err != nil {
		return false, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "check_job_complete", Pool: apperr.PoolRead, Err: err}
	}
	return count == 0, nil
}

// CompleteJob sets the terminal status; on completed it also advances
// project_branches.last_indexed.
func (s *PostgresStore) CompleteJob(ctx context.Context, jobID uuid.UUID, status models.JobStatus, errMessage string) error {
	tx, err := s.pools.Write.Begin(ctx)
	if err != nil {
		return &apperr.DatabaseError{Kind: apperr.DatabaseConnectionFailed, Op: "complete_job_begin", Pool: apperr.PoolWrite, Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var tenant uuid.UUID
	var repositoryID, branch string
	row := tx.QueryRow(ctx, `
		UPDATE indexing_jobs SET status=$2, completed_at=now(), error_message=$3
		WHERE job_id=$1 RETURNING tenant_id, repository_id, branch`, jobID, string(status), errMessage)
	if err := row.Scan(&tenant, &repositoryID, &branch); err != nil {
		if err == pgx.ErrNoRows {
			return &apperr.JobNotFoundError{JobID: jobID.String()}
		}
		return &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "complete_job", Pool: apperr.PoolWrite, Err: err}
	}
	if status == models.JobStatusCompleted {
		if _, err := tx.Exec(ctx, `UPDATE project_branches SET last_indexed=now() WHERE tenant_id=$1 AND repository_id=$2 AND branch=$3`,
			tenant, repositoryID, branch); err != nil {
			return &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "complete_job_advance_branch", Pool: apperr.PoolWrite, Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "complete_job_commit", Pool: apperr.PoolWrite, Err: err}
	}
	return nil
}

// GetJob fetches one job by id.
func (s *PostgresStore) GetJob(ctx context.Context, jobID uuid.UUID) (models.IndexingJob, error) {
	const q = `
		SELECT job_id, tenant_id, repository_id, branch, status, files_total, files_processed, chunks_created,
			repository_url, commit_sha, commit_message, commit_date, author, started_at, completed_at, error_message
		FROM indexing_jobs WHERE job_id=$1`
	row := s.pools.Read.QueryRow(ctx, q, jobID)
	var j models.IndexingJob
	var status string
	if err := row.Scan(&j.JobID, &j.TenantID, &j.RepositoryID, &j.Branch, &status, &j.FilesTotal, &j.FilesProcessed,
		&j.ChunksCreated, &j.RepositoryURL, &j.CommitSHA, &j.CommitMessage, &j.CommitDate, &j.Author,
		&j.StartedAt, &j.CompletedAt, &j.ErrorMessage); err != nil {
		if err == pgx.ErrNoRows {
			return models.IndexingJob{}, &apperr.JobNotFoundError{JobID: jobID.String()}
		}
		return models.IndexingJob{}, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "get_job", Pool: apperr.PoolRead, Err: err}
	}
	j.Status = models.JobStatus(status)
	return j, nil
}

// ListIndexingJobs returns the most recent jobs for tenant, newest first,
// grounded on original_source's repository.rs::list_indexing_jobs.
func (s *PostgresStore) ListIndexingJobs(ctx context.Context, tenant uuid.UUID, limit int) ([]models.IndexingJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT job_id, tenant_id, repository_id, branch, status, files_total, files_processed, chunks_created,
			repository_url, commit_sha, commit_message, commit_date, author, started_at, completed_at, error_message
		FROM indexing_jobs WHERE tenant_id=$1 ORDER BY started_at DESC LIMIT $2`
	rows, err := s.pools.Read.Query(ctx, q, tenant, limit)
	if err != nil {
		return nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "list_indexing_jobs", Pool: apperr.PoolRead, Err: err}
	}
	defer rows.Close()
	var out []models.IndexingJob
	for rows.Next() {
		var j models.IndexingJob
		var status string
		if err := rows.Scan(&j.JobID, &j.TenantID, &j.RepositoryID, &j.Branch, &status, &j.FilesTotal, &j.FilesProcessed,
			&j.ChunksCreated, &j.RepositoryURL, &j.CommitSHA, &j.CommitMessage, &j.CommitDate, &j.Author,
			&j.StartedAt, &j.CompletedAt, &j.ErrorMessage); err != nil {
			return nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "list_indexing_jobs_scan", Pool: apperr.PoolRead, Err: err}
		}
		j.Status = models.JobStatus(status)
		out = append(out, j)
	}
	return out, rows.Err()
}

// Stats gathers the diagnostic counters used by GET /stats and the CLI
// client's status command, grounded on original_source's
// count_indexed_files, count_chunks, count_project_branches,
// get_queue_depth, and get_database_size_mb.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.pools.Analytics.QueryRow(ctx, `SELECT COUNT(*) FROM indexed_files`).Scan(&st.IndexedFiles); err != nil {
		return Stats{}, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "count_indexed_files", Pool: apperr.PoolAnalytics, Err: err}
	}
	if err := s.pools.Analytics.QueryRow(ctx, `SELECT COUNT(*) FROM chunk_metadata`).Scan(&st.Chunks); err != nil {
		return Stats{}, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "count_chunks", Pool: apperr.PoolAnalytics, Err: err}
	}
	if err := s.pools.Analytics.QueryRow(ctx, `SELECT COUNT(*) FROM project_branches`).Scan(&st.ProjectBranches); err != nil {
		return Stats{}, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "count_project_branches", Pool: apperr.PoolAnalytics, Err: err}
	}
	if err := s.pools.Analytics.QueryRow(ctx, `SELECT COUNT(*) FROM indexing_job_file_queue WHERE status IN ('queued','processing')`).Scan(&st.QueueDepth); err != nil {
		return Stats{}, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "get_queue_depth", Pool: apperr.PoolAnalytics, Err: err}
	}
	if err := s.pools.Analytics.QueryRow(ctx, `SELECT pg_database_size(current_database())::float8 / (1024*1024)`).Scan(&st.DatabaseSizeMB); err != nil {
		return Stats{}, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "get_database_size_mb", Pool: apperr.PoolAnalytics, Err: err}
	}
	return st, nil
}

// RecoverStuckFiles resets rows stuck in 'processing' for longer than
// olderThan back to 'queued'. Recovery is idempotent because downstream
// writes are keyed by deterministic chunk ids.
func (s *PostgresStore) RecoverStuckFiles(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `UPDATE indexing_job_file_queue SET status='queued', started_at=NULL WHERE status='processing' AND started_at < $1`
	tag, err := s.pools.Write.Exec(ctx, q, time.Now().Add(-olderThan))
	if err != nil {
		return 0, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "recover_stuck_files", Pool: apperr.PoolWrite, Err: err}
	}
	return tag.RowsAffected(), nil
}

// GetFilesMetadata batch-fetches IndexedFile rows in a single IN query.
func (s *PostgresStore) GetFilesMetadata(ctx context.Context, tenant uuid.UUID, paths []string) ([]models.IndexedFile, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	const q = `
		SELECT tenant_id, repository_id, branch, file_path, file_content, content_hash, encoding, size_bytes,
			generation, commit_sha, commit_message, commit_date, author, indexed_at
		FROM indexed_files WHERE tenant_id=$1 AND file_path = ANY($2)`
	rows, err := s.pools.Read.Query(ctx, q, tenant, paths)
	if err != nil {
		return nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "get_files_metadata", Pool: apperr.PoolRead, Err: err}
	}
	defer rows.Close()
	var out []models.IndexedFile
	for rows.Next() {
		var f models.IndexedFile
		if err := rows.Scan(&f.TenantID, &f.RepositoryID, &f.Branch, &f.FilePath, &f.FileContent, &f.ContentHash,
			&f.Encoding, &f.SizeBytes, &f.Generation, &f.CommitSHA, &f.CommitMessage, &f.CommitDate, &f.Author, &f.IndexedAt); err != nil {
			return nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "get_files_metadata_scan", Pool: apperr.PoolRead, Err: err}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetProjectBranches batch-fetches project branches for the given pairs in
// one parameterised query rather than N round-trips.
func (s *PostgresStore) GetProjectBranches(ctx context.Context, tenant uuid.UUID, pairs []RepoBranch) ([]models.ProjectBranch, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	repos := make([]string, len(pairs))
	branches := make([]string, len(pairs))
	for i, p := range pairs {
		repos[i] = p.RepositoryID
		branches[i] = p.Branch
	}
	const q = `
		SELECT tenant_id, repository_id, branch, repository_url, first_seen, last_indexed
		FROM project_branches
		WHERE tenant_id=$1 AND (repository_id, branch) IN (SELECT * FROM unnest($2::text[], $3::text[]))`
	rows, err := s.pools.Read.Query(ctx, q, tenant, repos, branches)
	if err != nil {
		return nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "get_project_branches", Pool: apperr.PoolRead, Err: err}
	}
	defer rows.Close()
	var out []models.ProjectBranch
	for rows.Next() {
		var pb models.ProjectBranch
		if err := rows.Scan(&pb.TenantID, &pb.RepositoryID, &pb.Branch, &pb.RepositoryURL, &pb.FirstSeen, &pb.LastIndexed); err != nil {
			return nil, &apperr.DatabaseError{Kind: apperr.DatabaseQueryFailed, Op: "get_project_branches_scan", Pool: apperr.PoolRead, Err: err}
		}
		out = append(out, pb)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
