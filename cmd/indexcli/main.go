// Command indexcli walks a local repository checkout, submits every
// supported source file to the indexing service over HTTP, and polls the
// resulting job until it reaches a terminal state. It is the thin client
// side of job admission (A6): all chunking, embedding, and storage happen
// server-side.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamaly87/code-search-service/internal/languages"
	"github.com/jamaly87/code-search-service/pkg/ignore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "indexcli:", err)
		os.Exit(1)
	}
}

func run() error {
	serverURL := flag.String("server", "http://localhost:8080", "Base URL of the indexing service")
	repoID := flag.String("repository-id", "", "Logical repository identifier (defaults to the directory name)")
	branch := flag.String("branch", "main", "Branch name")
	tenant := flag.String("tenant", "", "Tenant id (UUID); omitted for the default tenant")
	poll := flag.Duration("poll-interval", 2*time.Second, "How often to poll job status")
	flag.Parse()

	if flag.Arg(0) == "status" {
		return printStatus(*serverURL)
	}

	repoPath := flag.Arg(0)
	if repoPath == "" {
		var err error
		repoPath, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
	}
	if *repoID == "" {
		*repoID = filepath.Base(repoPath)
	}

	files, err := scan(repoPath)
	if err != nil {
		return fmt.Errorf("scan %s: %w", repoPath, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no indexable files found under %s", repoPath)
	}
	fmt.Fprintf(os.Stderr, "found %d files to submit\n", len(files))

	commitSHA, commitMessage, author := commitContext(repoPath)
	if commitSHA == "" {
		// The service requires a commit sha; a checkout without git history
		// still indexes under a sentinel identity.
		commitSHA = "uncommitted"
	}

	jobID, err := submit(*serverURL, submitRequest{
		TenantID: *tenant, ProjectID: *repoID, Branch: *branch,
		CommitContext: submitCommitContext{CommitSHA: commitSHA, CommitMessage: commitMessage, Author: author},
		Files:         files,
	})
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	fmt.Fprintf(os.Stderr, "submitted job %s\n", jobID)

	return pollUntilDone(*serverURL, jobID, *poll)
}

// scan walks repoPath, skipping ignored paths and files the language
// registry has no chunking support for.
func scan(repoPath string) ([]fileEntry, error) {
	matcher := ignore.NewMatcher(ignore.DefaultPatterns())
	registry := languages.NewRegistry()

	var out []fileEntry
	err := filepath.WalkDir(repoPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil {
			rel = path
		}
		if d.IsDir() {
			if rel != "." && (strings.HasPrefix(d.Name(), ".") || matcher.ShouldIgnore(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.ShouldIgnore(rel) {
			return nil
		}
		if _, ok := registry.Detect(path); !ok {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", rel, readErr)
			return nil
		}
		out = append(out, fileEntry{Path: filepath.ToSlash(rel), Content: string(content)})
		return nil
	})
	return out, err
}

// commitContext best-effort shells out to git for the current commit's
// identity; a repo with no git history still indexes, just without commit
// metadata.
func commitContext(repoPath string) (sha, message, author string) {
	run := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoPath
		out, err := cmd.Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}
	return run("rev-parse", "HEAD"), run("log", "-1", "--pretty=%s"), run("log", "-1", "--pretty=%an")
}

type fileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type submitCommitContext struct {
	RepositoryURL string `json:"repository_url"`
	CommitSHA     string `json:"commit_sha"`
	CommitMessage string `json:"commit_message"`
	CommitDate    string `json:"commit_date"`
	Author        string `json:"author"`
}

type submitRequest struct {
	TenantID      string              `json:"tenant_id"`
	ProjectID     string              `json:"project_id"`
	Branch        string              `json:"branch"`
	Files         []fileEntry         `json:"files"`
	CommitContext submitCommitContext `json:"commit_context"`
}

type submitResponse struct {
	Status        string `json:"status"`
	JobID         string `json:"job_id"`
	FilesQueued   int    `json:"files_queued"`
	FilesIndexed  int    `json:"files_indexed"`
	ChunksCreated int    `json:"chunks_created"`
}

func submit(baseURL string, req submitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	resp, err := http.Post(baseURL+"/index", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

type jobStatus struct {
	Status         string `json:"status"`
	FilesTotal     *int   `json:"files_total"`
	FilesProcessed int    `json:"files_processed"`
	ChunksCreated  int    `json:"chunks_created"`
	ErrorMessage   string `json:"error_message"`
}

type serviceStats struct {
	IndexedFiles    int64   `json:"indexed_files"`
	Chunks          int64   `json:"chunks"`
	ProjectBranches int64   `json:"project_branches"`
	QueueDepth      int64   `json:"queue_depth"`
	DatabaseSizeMB  float64 `json:"database_size_mb"`
}

// printStatus implements the "indexcli status" subcommand (SPEC_FULL.md
// §10), calling the server's GET /stats diagnostics endpoint.
func printStatus(baseURL string) error {
	resp, err := http.Get(baseURL + "/stats")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var st serviceStats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return err
	}
	fmt.Printf("indexed_files=%d chunks=%d project_branches=%d queue_depth=%d database_size_mb=%.1f\n",
		st.IndexedFiles, st.Chunks, st.ProjectBranches, st.QueueDepth, st.DatabaseSizeMB)
	return nil
}

func pollUntilDone(baseURL, jobID string, interval time.Duration) error {
	for {
		resp, err := http.Get(fmt.Sprintf("%s/index/jobs/%s", baseURL, jobID))
		if err != nil {
			return err
		}
		var st jobStatus
		decodeErr := json.NewDecoder(resp.Body).Decode(&st)
		resp.Body.Close()
		if decodeErr != nil {
			return decodeErr
		}

		total := "?"
		if st.FilesTotal != nil {
			total = fmt.Sprintf("%d", *st.FilesTotal)
		}
		fmt.Fprintf(os.Stderr, "status=%s files=%d/%s chunks=%d\n", st.Status, st.FilesProcessed, total, st.ChunksCreated)

		switch st.Status {
		case "completed":
			return nil
		case "failed":
			return fmt.Errorf("job failed: %s", st.ErrorMessage)
		}
		time.Sleep(interval)
	}
}
