package chunker

import (
	"strings"
	"testing"

	"github.com/jamaly87/code-search-service/internal/config"
	"github.com/jamaly87/code-search-service/internal/languages"
)

func newTestChunker(t *testing.T) (*Chunker, *languages.Registry) {
	t.Helper()
	reg := languages.NewRegistry()
	cfg := config.Default().Chunking
	c, err := New(reg, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, reg
}

func TestChunkGoFunctions(t *testing.T) {
	c, _ := newTestChunker(t)

	src := `package sample

func Add(a, b int) int {
	return a + b
}

func Sub(a, b int) int {
	return a - b
}
`
	chunks, err := c.Chunk("sample.go", "go", src)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0].Content, "func Add") {
		t.Fatalf("expected first chunk to contain Add, got %q", chunks[0].Content)
	}
	if chunks[0].ByteStart >= chunks[1].ByteStart {
		t.Fatalf("expected non-decreasing byte_start ordering")
	}
	for _, ch := range chunks {
		if ch.TokenCount == nil {
			t.Fatalf("expected token count to be stamped")
		}
	}
}

func TestChunkFallsBackToHeuristicForUngrammaredLanguage(t *testing.T) {
	c, _ := newTestChunker(t)

	src := `function Deploy-App {
    param($name)
    Write-Host $name
}

function Remove-App {
    param($name)
    Remove-Item $name
}
`
	chunks, err := c.Chunk("deploy.ps1", "powershell", src)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected at least one chunk from heuristic fallback")
	}
	found := false
	for _, ch := range chunks {
		if strings.Contains(ch.Content, "Deploy-App") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a chunk to contain Deploy-App, got %+v", chunks)
	}
}

func TestChunkHeuristicKeepsFlowBetweenAndAfterDefinitions(t *testing.T) {
	c, _ := newTestChunker(t)

	src := `# deployment helpers
$ErrorActionPreference = "Stop"

function Deploy-App {
    param($name)
    Write-Host $name
}

Set-Location $root
$version = Get-Content VERSION

function Remove-App {
    param($name)
    Remove-Item $name
}

Write-Host "done"
Exit 0
`
	chunks, err := c.Chunk("deploy.ps1", "powershell", src)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	var all strings.Builder
	flowSeen := false
	for _, ch := range chunks {
		all.WriteString(ch.Content)
		all.WriteString("\n")
		if ch.Kind == "flow" {
			flowSeen = true
		}
	}
	for _, want := range []string{
		"$ErrorActionPreference", // leading flow
		"Deploy-App",
		"Set-Location $root", // between the two functions
		"$version = Get-Content VERSION",
		"Remove-App",
		`Write-Host "done"`, // after the last block closes
		"Exit 0",
	} {
		if !strings.Contains(all.String(), want) {
			t.Errorf("expected some chunk to contain %q", want)
		}
	}
	if !flowSeen {
		t.Error("expected at least one flow chunk for non-definition lines")
	}
}

func TestChunkUnknownLanguageWholeFile(t *testing.T) {
	c, _ := newTestChunker(t)

	chunks, err := c.Chunk("notes.txt", "", "just some plain text\nwith two lines\n")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single whole-file chunk, got %d", len(chunks))
	}
}

func TestChunkSplitsOversizeContent(t *testing.T) {
	c, _ := newTestChunker(t)
	cfg := c.cfg
	cfg.MaxTokens = 20
	cfg.OverlapTokens = 2
	c.cfg = cfg

	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("line of filler text goes here to pad out the token budget\n")
	}

	chunks, err := c.Chunk("big.txt", "", b.String())
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple sub-chunks from oversize splitting, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if ch.TokenCount == nil || *ch.TokenCount > cfg.MaxTokens {
			t.Fatalf("chunk exceeds MaxTokens: %+v", ch)
		}
	}
}

func TestChunkHierarchicalSplitsLargeClass(t *testing.T) {
	c, _ := newTestChunker(t)
	cfg := c.cfg
	cfg.MaxTokens = 30
	c.cfg = cfg

	var methods strings.Builder
	for i := 0; i < 10; i++ {
		methods.WriteString("\tpublic void method" + string(rune('A'+i)) + "() {\n\t\tSystem.out.println(\"x\");\n\t}\n\n")
	}
	src := "public class BigClass {\n" + methods.String() + "}\n"

	chunks, err := c.Chunk("Big.java", "java", src)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected a summary chunk plus per-method chunks, got %d: %+v", len(chunks), chunks)
	}
	foundSummary := false
	for _, ch := range chunks {
		if ch.Kind == "class" && strings.Contains(ch.Content, "Methods:") {
			foundSummary = true
		}
	}
	if !foundSummary {
		t.Fatalf("expected a class summary chunk listing methods")
	}
}
