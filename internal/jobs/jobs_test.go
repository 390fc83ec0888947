package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jamaly87/code-search-service/internal/models"
	"github.com/jamaly87/code-search-service/internal/store"
)

func validRC() models.RepositoryContext {
	return models.RepositoryContext{
		RepositoryID: "repo1",
		Branch:       "main",
		CommitSHA:    "abc123",
	}
}

func TestSubmitAdmitsValidJob(t *testing.T) {
	a := NewAdmitter(store.NewInMemoryStore(), time.Second, zerolog.Nop())
	jobID, err := a.Submit(context.Background(), uuid.New(), validRC(), []FileSubmission{{Path: "a.go", Content: "x"}}, "corr-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID == uuid.Nil {
		t.Fatal("expected a non-nil job id")
	}
}

func TestSubmitRejectsMissingCommitSHA(t *testing.T) {
	a := NewAdmitter(store.NewInMemoryStore(), time.Second, zerolog.Nop())
	rc := validRC()
	rc.CommitSHA = ""
	if _, err := a.Submit(context.Background(), uuid.New(), rc, []FileSubmission{{Path: "a.go", Content: "x"}}, "corr-2"); err == nil {
		t.Fatal("expected validation error for missing commit sha")
	}
}

func TestSubmitRejectsEmptyFiles(t *testing.T) {
	a := NewAdmitter(store.NewInMemoryStore(), time.Second, zerolog.Nop())
	if _, err := a.Submit(context.Background(), uuid.New(), validRC(), nil, "corr-3"); err == nil {
		t.Fatal("expected validation error for empty file list")
	}
}

func TestSubmitRejectsEmptyFilePath(t *testing.T) {
	a := NewAdmitter(store.NewInMemoryStore(), time.Second, zerolog.Nop())
	if _, err := a.Submit(context.Background(), uuid.New(), validRC(), []FileSubmission{{Path: "", Content: "x"}}, "corr-4"); err == nil {
		t.Fatal("expected validation error for empty file path")
	}
}
