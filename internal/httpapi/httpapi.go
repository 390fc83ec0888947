// Package httpapi exposes the indexing and search service over HTTP (A4):
// POST /index, GET /index/jobs/{job_id}, GET /index/jobs, POST /search, and
// GET /stats, using Go 1.22's net/http ServeMux method+pattern routing
// rather than a third-party router — none of the retrieved example repos
// pull one in for a service this shape, they all route directly on
// net/http. Request/response JSON shapes follow spec.md §6 exactly.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jamaly87/code-search-service/internal/apperr"
	"github.com/jamaly87/code-search-service/internal/jobs"
	"github.com/jamaly87/code-search-service/internal/models"
	"github.com/jamaly87/code-search-service/internal/search"
	"github.com/jamaly87/code-search-service/internal/store"
)

// Server wires the job admitter, metadata store, and searcher to HTTP
// handlers.
type Server struct {
	admitter *jobs.Admitter
	metadata store.MetadataStore
	searcher *search.Searcher
	log      zerolog.Logger
}

// New builds a Server. Call Routes to obtain a ready-to-serve http.Handler.
func New(admitter *jobs.Admitter, metadata store.MetadataStore, searcher *search.Searcher, log zerolog.Logger) *Server {
	return &Server{admitter: admitter, metadata: metadata, searcher: searcher, log: log}
}

// Routes returns the service's full HTTP surface.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /index", s.handleIndex)
	mux.HandleFunc("GET /index/jobs/{job_id}", s.handleGetJob)
	mux.HandleFunc("GET /index/jobs", s.handleListJobs)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return withCorrelationID(mux)
}

type indexFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type commitContextRequest struct {
	RepositoryURL string `json:"repository_url"`
	CommitSHA     string `json:"commit_sha"`
	CommitMessage string `json:"commit_message"`
	CommitDate    string `json:"commit_date"`
	Author        string `json:"author"`
}

// indexRequest mirrors spec.md §6's POST /index body exactly, with one
// addition: "branch" is not in the documented JSON but is required by the
// rest of the data model (ProjectBranch, IndexedFile, ChunkMetadata are all
// keyed on it); it's accepted as an additive, optional field defaulting to
// "main" when omitted rather than silently invented server-side.
type indexRequest struct {
	TenantID      string               `json:"tenant_id"`
	ProjectID     string               `json:"project_id"`
	Branch        string               `json:"branch"`
	Files         []indexFileRequest   `json:"files"`
	CommitContext commitContextRequest `json:"commit_context"`
}

type indexResponse struct {
	Status        string `json:"status"`
	JobID         string `json:"job_id"`
	FilesQueued   int    `json:"files_queued"`
	FilesIndexed  int    `json:"files_indexed"`
	ChunksCreated int    `json:"chunks_created"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	correlationID := correlationIDFrom(r.Context())

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &apperr.ValidationError{Op: "decode_index_request", Message: err.Error()}, correlationID)
		return
	}

	tenant, err := parseTenant(req.TenantID)
	if err != nil {
		writeError(w, err, correlationID)
		return
	}

	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	var commitDate time.Time
	if req.CommitContext.CommitDate != "" {
		commitDate, err = time.Parse(time.RFC3339, req.CommitContext.CommitDate)
		if err != nil {
			writeError(w, &apperr.ValidationError{Op: "parse_commit_date", Message: "commit_date must be RFC3339"}, correlationID)
			return
		}
	}

	rc := models.RepositoryContext{
		TenantID: tenant, RepositoryID: req.ProjectID, RepositoryURL: req.CommitContext.RepositoryURL,
		Branch: branch, CommitSHA: req.CommitContext.CommitSHA, CommitMessage: req.CommitContext.CommitMessage,
		CommitDate: commitDate, Author: req.CommitContext.Author,
	}
	files := make([]jobs.FileSubmission, len(req.Files))
	for i, f := range req.Files {
		files[i] = jobs.FileSubmission{Path: f.Path, Content: f.Content}
	}

	jobID, err := s.admitter.Submit(r.Context(), tenant, rc, files, correlationID)
	if err != nil {
		writeError(w, err, correlationID)
		return
	}
	// Every submitted file becomes exactly one queue row; nothing is
	// filtered between validation and enqueue, so files_queued is the
	// submitted count.
	writeJSON(w, http.StatusOK, indexResponse{
		Status: "success", JobID: jobID.String(), FilesQueued: len(req.Files),
		FilesIndexed: 0, ChunksCreated: 0,
	})
}

type jobResponse struct {
	JobID          string     `json:"job_id"`
	RepositoryID   string     `json:"repository_id"`
	Branch         string     `json:"branch"`
	Status         string     `json:"status"`
	FilesTotal     *int       `json:"files_total,omitempty"`
	FilesProcessed int        `json:"files_processed"`
	ChunksCreated  int        `json:"chunks_created"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toJobResponse(j models.IndexingJob) jobResponse {
	return jobResponse{
		JobID: j.JobID.String(), RepositoryID: j.RepositoryID, Branch: j.Branch,
		Status: string(j.Status), FilesTotal: j.FilesTotal, FilesProcessed: j.FilesProcessed,
		ChunksCreated: j.ChunksCreated, ErrorMessage: j.ErrorMessage,
		StartedAt: j.StartedAt, CompletedAt: j.CompletedAt,
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	correlationID := correlationIDFrom(r.Context())
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeError(w, &apperr.ValidationError{Op: "parse_job_id", Message: "job_id must be a UUID"}, correlationID)
		return
	}
	job, err := s.metadata.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

type jobListResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

// handleListJobs exposes the job-listing supplemented feature (SPEC_FULL.md
// §10), grounded on original_source's list_indexing_jobs/get_queue_depth.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	correlationID := correlationIDFrom(r.Context())
	tenant, err := parseTenant(r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, err, correlationID)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobList, err := s.metadata.ListIndexingJobs(r.Context(), tenant, limit)
	if err != nil {
		writeError(w, err, correlationID)
		return
	}
	out := make([]jobResponse, len(jobList))
	for i, j := range jobList {
		out[i] = toJobResponse(j)
	}
	writeJSON(w, http.StatusOK, jobListResponse{Jobs: out})
}

type statsResponse struct {
	IndexedFiles    int64   `json:"indexed_files"`
	Chunks          int64   `json:"chunks"`
	ProjectBranches int64   `json:"project_branches"`
	QueueDepth      int64   `json:"queue_depth"`
	DatabaseSizeMB  float64 `json:"database_size_mb"`
}

// handleStats exposes the count/size diagnostics supplemented feature
// (SPEC_FULL.md §10), grounded on original_source's count_indexed_files,
// count_chunks, count_project_branches, get_database_size_mb.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	correlationID := correlationIDFrom(r.Context())
	st, err := s.metadata.Stats(r.Context())
	if err != nil {
		writeError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		IndexedFiles: st.IndexedFiles, Chunks: st.Chunks, ProjectBranches: st.ProjectBranches,
		QueueDepth: st.QueueDepth, DatabaseSizeMB: st.DatabaseSizeMB,
	})
}

// maxQueryLength bounds POST /search query text, per the API contract.
const maxQueryLength = 1000

type searchRequest struct {
	TenantID     string `json:"tenant_id"`
	Query        string `json:"query"`
	Limit        int    `json:"limit"`
	RepositoryID string `json:"repository_id"`
	Branch       string `json:"branch"`
}

type linesRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type highlightRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type commitInfo struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Date    string `json:"date"`
}

type searchMatchResponse struct {
	File       string           `json:"file"`
	Path       string           `json:"path"`
	Repository string           `json:"repository,omitempty"`
	Content    string           `json:"content"`
	Language   string           `json:"language"`
	Type       string           `json:"type,omitempty"`
	Name       string           `json:"name,omitempty"`
	Lines      linesRange       `json:"lines"`
	Similarity float64          `json:"similarity"`
	Highlights []highlightRange `json:"highlights"`
	Symbols    []string         `json:"symbols,omitempty"`
	Commit     *commitInfo      `json:"commit,omitempty"`
}

// toSearchMatchResponse fills every field spec.md §6 documents except
// "context" (before/after source lines): that would need an extra file read
// per match and isn't otherwise exercised by this pipeline, so it's left
// unset rather than faked.
func toSearchMatchResponse(m models.SearchMatch) searchMatchResponse {
	c := m.Chunk
	resp := searchMatchResponse{
		File: c.FilePath, Path: c.FilePath, Repository: c.RepositoryID,
		Content: c.Content, Language: c.Language, Type: c.Kind, Name: c.Name,
		Lines: linesRange{Start: c.StartLine, End: c.EndLine},
		Similarity: m.Similarity, Highlights: []highlightRange{},
	}
	if c.Name != "" {
		resp.Symbols = []string{c.Name, c.Kind + ":" + c.Name}
	}
	if c.CommitSHA != "" {
		date := ""
		if c.CommitDate != nil {
			date = c.CommitDate.UTC().Format("2006-01-02 15:04:05 UTC")
		}
		resp.Commit = &commitInfo{SHA: c.CommitSHA, Message: c.CommitMessage, Author: c.CommitAuthor, Date: date}
	}
	return resp
}

type searchMetadata struct {
	TotalMatches int    `json:"total_matches"`
	Returned     int    `json:"returned"`
	Query        string `json:"query"`
	QueryTimeMS  int64  `json:"query_time_ms"`
	SearchType   string `json:"search_type"`
}

type searchResponse struct {
	Matches  []searchMatchResponse `json:"matches"`
	Metadata searchMetadata        `json:"metadata"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	correlationID := correlationIDFrom(r.Context())
	start := time.Now()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &apperr.ValidationError{Op: "decode_search_request", Message: err.Error()}, correlationID)
		return
	}
	if req.Query == "" {
		writeError(w, &apperr.ValidationError{Op: "search", Message: "query must not be empty"}, correlationID)
		return
	}
	if len(req.Query) > maxQueryLength {
		writeError(w, &apperr.ValidationError{Op: "search", Message: "query exceeds 1000 characters"}, correlationID)
		return
	}
	tenant, err := parseTenant(req.TenantID)
	if err != nil {
		writeError(w, err, correlationID)
		return
	}

	matches, err := s.searcher.Search(r.Context(), search.Request{
		Tenant: tenant, Query: req.Query, Limit: req.Limit,
		Filters: models.SearchFilters{RepositoryID: req.RepositoryID, Branch: req.Branch},
	}, correlationID)
	if err != nil {
		writeError(w, err, correlationID)
		return
	}

	out := make([]searchMatchResponse, len(matches))
	for i, m := range matches {
		out[i] = toSearchMatchResponse(m)
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Matches: out,
		Metadata: searchMetadata{
			TotalMatches: len(out), Returned: len(out), Query: req.Query,
			QueryTimeMS: time.Since(start).Milliseconds(), SearchType: "semantic",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func parseTenant(raw string) (uuid.UUID, error) {
	if raw == "" {
		return models.NilTenant, nil
	}
	tenant, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &apperr.ValidationError{Op: "parse_tenant_id", Message: "tenant_id must be a UUID"}
	}
	return tenant, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

func writeError(w http.ResponseWriter, err error, correlationID string) {
	writeJSON(w, apperr.HTTPStatus(err), errorResponse{Error: err.Error(), CorrelationID: correlationID})
}
