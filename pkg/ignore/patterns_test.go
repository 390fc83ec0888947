package ignore

import "testing"

func TestShouldIgnoreDirectoryAnywhere(t *testing.T) {
	m := NewMatcher(DefaultPatterns())
	for _, path := range []string{
		"node_modules/react/index.js",
		"web/node_modules/lodash/lodash.js",
		".git/HEAD",
		"services/api/target/debug/main",
	} {
		if !m.ShouldIgnore(path) {
			t.Errorf("expected %q to be ignored", path)
		}
	}
}

func TestShouldIgnoreGeneratedArtifacts(t *testing.T) {
	m := NewMatcher(DefaultPatterns())
	if !m.ShouldIgnore("static/app.min.js") {
		t.Error("expected minified bundle to be ignored")
	}
	if !m.ShouldIgnore("Cargo.lock") {
		t.Error("expected lockfile to be ignored")
	}
}

func TestShouldKeepSourceFiles(t *testing.T) {
	m := NewMatcher(DefaultPatterns())
	for _, path := range []string{
		"src/main.rs",
		"internal/server/handler.go",
		"lib/widgets/button.tsx",
	} {
		if m.ShouldIgnore(path) {
			t.Errorf("expected %q to be kept", path)
		}
	}
}

func TestRootRelativePrefixPattern(t *testing.T) {
	m := NewMatcher([]string{"docs"})
	if !m.ShouldIgnore("docs/readme.md") {
		t.Error("expected docs/ subtree to be ignored")
	}
	if m.ShouldIgnore("pkg/docs.go") {
		t.Error("expected non-prefix match to be kept")
	}
}
