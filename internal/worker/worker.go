// Package worker implements the background worker pool (C9): a fixed set
// of goroutines that dequeue one file at a time off the global FIFO queue,
// decode/diff/chunk/embed/store it end to end, and drive each indexing
// job's progress counters to completion. A second goroutine periodically
// reclaims queue rows stuck in 'processing' past a visibility timeout.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jamaly87/code-search-service/internal/apperr"
	"github.com/jamaly87/code-search-service/internal/chunker"
	"github.com/jamaly87/code-search-service/internal/config"
	"github.com/jamaly87/code-search-service/internal/embeddings"
	"github.com/jamaly87/code-search-service/internal/encoding"
	"github.com/jamaly87/code-search-service/internal/languages"
	"github.com/jamaly87/code-search-service/internal/models"
	"github.com/jamaly87/code-search-service/internal/store"
	"github.com/jamaly87/code-search-service/internal/vectordb"
)

// Pool runs WorkerCount goroutines against a shared MetadataStore,
// VectorStore, Chunker, and embeddings Provider.
type Pool struct {
	cfg        config.WorkerConfig
	metadata   store.MetadataStore
	vectors    vectordb.VectorStore
	chunks     *chunker.Chunker
	registry   *languages.Registry
	embedder   embeddings.Provider
	log        zerolog.Logger

	wg       sync.WaitGroup
	stopping chan struct{}
	stopOnce sync.Once
}

// New builds a worker Pool. Call Start to begin processing and Stop for a
// graceful shutdown.
func New(cfg config.WorkerConfig, metadata store.MetadataStore, vectors vectordb.VectorStore, chunks *chunker.Chunker, registry *languages.Registry, embedder embeddings.Provider, log zerolog.Logger) *Pool {
	return &Pool{
		cfg: cfg, metadata: metadata, vectors: vectors, chunks: chunks,
		registry: registry, embedder: embedder, log: log,
		stopping: make(chan struct{}),
	}
}

// Start launches the worker goroutines and the visibility-timeout sweeper.
// It returns immediately; call Stop (or cancel ctx) to shut down.
func (p *Pool) Start(ctx context.Context) {
	workerCount := p.cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
	p.wg.Add(1)
	go p.runSweeper(ctx)
}

// Stop signals every goroutine to finish its in-flight file and return, then
// blocks until they have.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopping) })
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	poll := time.Duration(p.cfg.PollIntervalMS) * time.Millisecond
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	log := p.log.With().Int("worker_id", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopping:
			return
		default:
		}

		f, err := p.metadata.DequeueFile(ctx)
		if err != nil {
			log.Error().Err(err).Msg("dequeue failed")
			sleep(ctx, p.stopping, poll)
			continue
		}
		if f == nil {
			sleep(ctx, p.stopping, poll)
			continue
		}

		p.processFile(ctx, log, f)
	}
}

// processFile runs the nine-step pipeline for one queued file. A per-file
// error is logged and the row is left in 'processing': the visibility-timeout
// sweep returns it to 'queued' for another attempt, and the retry is safe
// because check_file_state short-circuits unchanged content and chunk ids are
// idempotent keys in both stores. One bad file never fails its job.
func (p *Pool) processFile(ctx context.Context, log zerolog.Logger, f *models.QueuedFile) {
	chunkCount, err := p.indexOneFile(ctx, f)
	if err != nil {
		log.Error().Err(err).Str("job_id", f.JobID.String()).Str("path", f.FilePath).Msg("file indexing failed")
		return
	}

	if err := p.metadata.MarkFileCompleted(ctx, f.JobID, f.FilePath); err != nil {
		log.Error().Err(err).Msg("mark_file_completed failed")
	}
	if err := p.metadata.IncrementJobProgress(ctx, f.JobID, 1, chunkCount); err != nil {
		log.Error().Err(err).Msg("increment_job_progress failed")
	}

	complete, err := p.metadata.CheckJobComplete(ctx, f.JobID)
	if err != nil {
		log.Error().Err(err).Msg("check_job_complete failed")
		return
	}
	if complete {
		if err := p.metadata.CompleteJob(ctx, f.JobID, models.JobStatusCompleted, ""); err != nil {
			log.Error().Err(err).Msg("complete_job failed")
		}
	}
}

// indexOneFile runs decode -> check_file_state -> replace-old-generation ->
// chunk -> embed -> store_chunks -> insert_chunks, returning the number of
// chunks written.
func (p *Pool) indexOneFile(ctx context.Context, f *models.QueuedFile) (int, error) {
	decoded := encoding.Detect([]byte(f.FileContent))
	if decoded.Binary {
		return 0, nil
	}
	// Normalize once, here, so the content this function stores as the
	// file's authoritative text and the byte/line offsets the chunker
	// computes both refer to the same `\n`-only text (spec §4.2).
	decoded.Text = chunker.NormalizeNewlines(decoded.Text)

	// The hash is recomputed over the decoded normalized text rather than
	// taken from the queue row: the queue hash covers the raw submitted
	// bytes, and the invariant hash(file_content) == content_hash must hold
	// on the stored row.
	hash := store.HashContent(decoded.Text)

	state, err := p.metadata.CheckFileState(ctx, f.TenantID, f.RepositoryID, f.Branch, f.FilePath, hash)
	if err != nil {
		return 0, err
	}
	if state.Kind == models.FileStateUnchanged {
		return 0, nil
	}

	if state.Kind == models.FileStateUpdated {
		oldIDs, err := p.metadata.ReplaceFileChunks(ctx, f.TenantID, f.RepositoryID, f.Branch, f.FilePath, state.Generation)
		if err != nil {
			return 0, err
		}
		if len(oldIDs) > 0 {
			if err := p.vectors.DeleteChunks(ctx, oldIDs); err != nil {
				return 0, &apperr.VectorStoreError{Op: "delete_stale_generation", Err: err}
			}
		}
	}

	// Commit identity lives on the job row, not the queue row; one fetch per
	// file stamps it onto the indexed file and every chunk payload.
	job, err := p.metadata.GetJob(ctx, f.JobID)
	if err != nil {
		return 0, err
	}

	if _, err := p.metadata.RecordFileIndexing(ctx, f.TenantID, f.RepositoryID, f.Branch, models.FileMetadata{
		Path: f.FilePath, Content: decoded.Text, ContentHash: hash, Encoding: decoded.Encoding,
		SizeBytes: int64(len(decoded.Text)), Generation: state.Generation,
		CommitSHA: job.CommitSHA, CommitMessage: job.CommitMessage, CommitDate: job.CommitDate, Author: job.Author,
	}); err != nil {
		return 0, err
	}

	lang, _ := p.registry.Detect(f.FilePath)
	languageID := ""
	if lang != nil {
		languageID = lang.ID
	}
	chunks, err := p.chunks.Chunk(f.FilePath, languageID, decoded.Text)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i := range chunks {
		if i < len(vectors) {
			chunks[i].Embedding = vectors[i]
		}
	}

	sc := models.StorageContext{
		TenantID: f.TenantID, RepositoryID: f.RepositoryID, Branch: f.Branch, Generation: state.Generation,
		CommitSHA: job.CommitSHA, CommitMessage: job.CommitMessage, CommitDate: job.CommitDate, Author: job.Author,
	}
	chunkIDs, err := p.vectors.StoreChunks(ctx, sc, chunks, uuid.NewString())
	if err != nil {
		return 0, err
	}

	meta := make([]models.ChunkMetadata, 0, len(chunkIDs))
	idx := 0
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		meta = append(meta, models.ChunkMetadata{
			ChunkID: chunkIDs[idx], FilePath: c.FilePath, ChunkIndex: i, Generation: state.Generation,
			StartLine: c.StartLine, EndLine: c.EndLine, ByteStart: c.ByteStart, ByteEnd: c.ByteEnd,
			Kind: c.Kind, Name: c.Name,
		})
		idx++
	}
	if err := p.metadata.InsertChunks(ctx, f.TenantID, f.RepositoryID, f.Branch, meta); err != nil {
		return 0, err
	}
	return len(meta), nil
}

func (p *Pool) runSweeper(ctx context.Context) {
	defer p.wg.Done()
	timeout := time.Duration(p.cfg.VisibilityTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	interval := timeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopping:
			return
		case <-ticker.C:
			n, err := p.metadata.RecoverStuckFiles(ctx, timeout)
			if err != nil {
				p.log.Error().Err(err).Msg("visibility-timeout sweep failed")
				continue
			}
			if n > 0 {
				p.log.Warn().Int64("recovered", n).Msg("reclaimed stuck queue rows")
			}
		}
	}
}

func sleep(ctx context.Context, stopping <-chan struct{}, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-stopping:
	case <-t.C:
	}
}
