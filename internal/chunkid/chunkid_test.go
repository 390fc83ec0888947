package chunkid

import "testing"

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID("repo1", "main", "src/a.rs", 1, 0, 9)
	b := ChunkID("repo1", "main", "src/a.rs", 1, 0, 9)
	if a != b {
		t.Fatalf("expected identical ids, got %s and %s", a, b)
	}
}

func TestChunkIDVariesByInput(t *testing.T) {
	base := ChunkID("repo1", "main", "src/a.rs", 1, 0, 9)

	cases := map[string]string{
		"generation": ChunkID("repo1", "main", "src/a.rs", 2, 0, 9).String(),
		"branch":     ChunkID("repo1", "dev", "src/a.rs", 1, 0, 9).String(),
		"path":       ChunkID("repo1", "main", "src/b.rs", 1, 0, 9).String(),
		"repo":       ChunkID("repo2", "main", "src/a.rs", 1, 0, 9).String(),
		"span":       ChunkID("repo1", "main", "src/a.rs", 1, 0, 10).String(),
	}

	for name, id := range cases {
		if id == base.String() {
			t.Fatalf("expected id to change when %s changes", name)
		}
	}
}
