// Package models defines the data shapes shared across the indexing and
// search pipeline: tenants, repository context, indexed files, chunk
// metadata, jobs, and the persistent file queue.
package models

import (
	"time"

	"github.com/google/uuid"
)

// NilTenant is the documented backward-compatible default tenant. New code
// paths should always pass an explicit tenant_id; this value only exists so
// older callers that never learned about multi-tenancy keep working.
var NilTenant = uuid.Nil

// RepositoryContext stamps every file and chunk produced from one submission.
type RepositoryContext struct {
	TenantID       uuid.UUID
	RepositoryID   string
	RepositoryURL  string
	Branch         string
	CommitSHA      string
	CommitMessage  string
	CommitDate     time.Time
	Author         string
	IsDirty        bool
	RootPath       string
}

// StorageContext carries everything a store needs to stamp one file's chunks:
// the repository/commit identity plus the generation that check_file_state
// assigned this indexing pass.
type StorageContext struct {
	TenantID      uuid.UUID
	RepositoryID  string
	Branch        string
	Generation    int64
	CommitSHA     string
	CommitMessage string
	CommitDate    *time.Time
	Author        string
}

// ProjectBranch is created or upserted on first job and advanced on drain.
type ProjectBranch struct {
	TenantID      uuid.UUID
	RepositoryID  string
	Branch        string
	RepositoryURL string
	FirstSeen     time.Time
	LastIndexed   *time.Time
}

// IndexedFile is the authoritative, generation-versioned record of one file's
// last-seen content. Uniqueness is (tenant_id, repository_id, branch, file_path).
type IndexedFile struct {
	TenantID      uuid.UUID
	RepositoryID  string
	Branch        string
	FilePath      string
	FileContent   string
	ContentHash   string
	Encoding      string
	SizeBytes     int64
	Generation    int64
	CommitSHA     string
	CommitMessage string
	CommitDate    *time.Time
	Author        string
	IndexedAt     time.Time
}

// ChunkKind is the tree-sitter (or heuristic) node kind a chunk was captured
// from: "function", "class", "file", etc. Left as a plain string because the
// set of grammar kinds is open-ended across languages.
type ChunkKind = string

// ChunkMetadata is the relational record of one chunk. chunk_id is derived by
// C4 and is identical to the vector-store point id for the same chunk.
type ChunkMetadata struct {
	ChunkID      uuid.UUID
	TenantID     uuid.UUID
	RepositoryID string
	Branch       string
	FilePath     string
	ChunkIndex   int
	Generation   int64
	StartLine    int
	EndLine      int
	ByteStart    int
	ByteEnd      int
	Kind         string
	Name         string
	CreatedAt    time.Time
}

// JobStatus is the lifecycle state of an IndexingJob.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IndexingJob tracks one admitted indexing request end to end.
type IndexingJob struct {
	JobID         uuid.UUID
	TenantID      uuid.UUID
	RepositoryID  string
	Branch        string
	Status        JobStatus
	FilesTotal    *int
	FilesProcessed int
	ChunksCreated int
	RepositoryURL string
	CommitSHA     string
	CommitMessage string
	CommitDate    *time.Time
	Author        string
	StartedAt     time.Time
	CompletedAt   *time.Time
	ErrorMessage  string
}

// QueuedFileStatus is the lifecycle state of one QueuedFile row.
type QueuedFileStatus string

const (
	QueuedFileStatusQueued     QueuedFileStatus = "queued"
	QueuedFileStatusProcessing QueuedFileStatus = "processing"
	QueuedFileStatusCompleted  QueuedFileStatus = "completed"
	QueuedFileStatusFailed     QueuedFileStatus = "failed"
)

// QueuedFile is one file submission sitting in indexing_job_file_queue.
// Content is stored inline so a worker never needs the submitting caller to
// still be present.
type QueuedFile struct {
	ID           int64
	JobID        uuid.UUID
	TenantID     uuid.UUID
	RepositoryID string
	Branch       string
	FilePath     string
	FileContent  string
	ContentHash  string
	Priority     int
	Status       QueuedFileStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// FileState is the result of check_file_state: the file is new, unchanged,
// or has moved to a new generation because its content changed.
type FileState struct {
	Kind           FileStateKind
	Generation     int64 // for New and Updated, the generation to record
	OldGeneration  int64 // for Updated only
}

type FileStateKind int

const (
	FileStateUnchanged FileStateKind = iota
	FileStateNew
	FileStateUpdated
)

// FileMetadata is the decoded-and-hashed payload handed to record_file_indexing.
type FileMetadata struct {
	Path          string
	Content       string
	ContentHash   string
	Encoding      string
	SizeBytes     int64
	Generation    int64
	CommitSHA     string
	CommitMessage string
	CommitDate    *time.Time
	Author        string
}

// Chunk is the output of the semantic chunker (C2), prior to embedding.
type Chunk struct {
	FilePath   string
	Content    string
	StartLine  int
	EndLine    int
	ByteStart  int
	ByteEnd    int
	Kind       string
	Language   string
	Name       string
	TokenCount *int
	Embedding  []float32
}

// ChunkWithScore pairs a persisted chunk's metadata+content with a vector
// store similarity score, as returned by VectorStore.Search.
type ChunkWithScore struct {
	Chunk      PersistedChunk
	Similarity float64
}

// PersistedChunk is the payload a vector store keeps per point: everything a
// search response needs without a round trip to the metadata store.
type PersistedChunk struct {
	ChunkID      uuid.UUID
	TenantID     uuid.UUID
	RepositoryID string
	Branch       string
	Generation   int64
	ChunkIndex   int
	FilePath     string
	Content      string
	StartLine    int
	EndLine      int
	ByteStart    int
	ByteEnd      int
	Language     string
	Kind         string
	Name         string
	TokenCount   int
	CommitSHA    string
	CommitMessage string
	CommitAuthor string
	CommitDate   *time.Time
}

// SearchFilters narrows a kNN search beyond the mandatory tenant filter.
type SearchFilters struct {
	RepositoryID string
	Branch       string
}

// SearchMatch is one ranked result, optionally enriched with repository
// metadata from the metadata store.
type SearchMatch struct {
	Chunk              PersistedChunk
	Similarity         float64
	RepositoryMetadata *ProjectBranch
}
