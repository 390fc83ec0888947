// Package chunker implements the semantic chunker (C2): a mutex-protected
// tree-sitter walk over each language's registered node kinds, hierarchical
// class/method splitting for oversize class-like nodes, a keyword/brace/
// indentation heuristic fallback for languages the pack has no grammar for
// (or when a parse fails), and a final token-aware oversize pass shared by
// both paths.
package chunker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jamaly87/code-search-service/internal/config"
	"github.com/jamaly87/code-search-service/internal/languages"
	"github.com/jamaly87/code-search-service/internal/models"
	"github.com/pkoukk/tiktoken-go"
)

// classLikeHints and functionLikeHints classify a node kind without a
// per-language switch: grammars across the pack name container nodes
// "class_declaration", "struct_item", "interface_declaration" and so on, and
// unit nodes "function_declaration", "method_definition",
// "constructor_declaration". Substring matching on the node type generalizes
// across grammars instead of hardcoding one node-type list per language.
var (
	classLikeHints    = []string{"class", "struct", "interface", "enum", "trait", "impl"}
	functionLikeHints = []string{"function", "method", "constructor"}
)

// Chunker extracts semantic chunks from source files.
type Chunker struct {
	registry *languages.Registry
	cfg      config.ChunkingConfig
	encoder  *tiktoken.Tiktoken

	mux     sync.Mutex // tree-sitter parsers are not safe for concurrent Parse calls
	parsers map[string]*sitter.Parser
}

// New builds a Chunker. It fails only if the shared tokenizer can't load,
// which would also break every other token-aware component.
func New(registry *languages.Registry, cfg config.ChunkingConfig) (*Chunker, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Chunker{
		registry: registry,
		cfg:      cfg,
		encoder:  enc,
		parsers:  make(map[string]*sitter.Parser),
	}, nil
}

// Chunk splits one file's content into semantic chunks per SPEC_FULL.md §4.2:
// AST extraction when a grammar is registered and parsing succeeds, a
// keyword/brace/indentation heuristic otherwise, and a token-aware oversize
// pass applied uniformly to the result of either path. content is newline-
// normalized before anything touches it, so every byte/line offset this
// function returns is computed against `\n`-only text, regardless of
// whether the source came from a CRLF or classic-Mac-CR file.
func (c *Chunker) Chunk(filePath, languageID, content string) ([]models.Chunk, error) {
	content = NormalizeNewlines(content)

	lang, ok := c.registry.ByID(languageID)
	if !ok {
		lang, ok = c.registry.Detect(filePath)
	}

	var chunks []models.Chunk
	if ok && lang.Grammar != nil {
		chunks = c.chunkAST(lang, content)
	}
	if chunks == nil {
		chunks = c.chunkHeuristic(lang, content)
	}

	out := make([]models.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, c.splitOversize(ch)...)
	}

	for i := range out {
		out[i].FilePath = filePath
		if ok {
			out[i].Language = lang.ID
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ByteStart < out[j].ByteStart })
	return out, nil
}

func (c *Chunker) getParser(lang *languages.Language) *sitter.Parser {
	if p, ok := c.parsers[lang.ID]; ok {
		return p
	}
	p := sitter.NewParser()
	p.SetLanguage(lang.Grammar)
	c.parsers[lang.ID] = p
	return p
}

// chunkAST walks the parse tree and converts each semantic node kind the
// language registers into a chunk, hierarchically splitting class-like nodes
// that are too large to keep whole. Nested semantic nodes inside a node
// already hierarchically split (its methods) are not emitted a second time.
func (c *Chunker) chunkAST(lang *languages.Language, content string) []models.Chunk {
	source := []byte(content)

	c.mux.Lock()
	parser := c.getParser(lang)
	tree := parser.Parse(nil, source)
	c.mux.Unlock()

	if tree == nil {
		return nil
	}
	root := tree.RootNode()
	if root == nil {
		return nil
	}

	kinds := make(map[string]bool, len(lang.NodeKinds))
	for _, k := range lang.NodeKinds {
		kinds[k] = true
	}

	var topLevel []*sitter.Node
	var walk func(n *sitter.Node, insideSplitClass bool)
	walk = func(n *sitter.Node, insideSplitClass bool) {
		if n == nil {
			return
		}
		matched := kinds[n.Type()]
		descendIntoSplitClass := insideSplitClass
		if matched && !insideSplitClass {
			topLevel = append(topLevel, n)
			if isClassLike(n.Type()) && c.tokenCount(nodeText(n, source)) > c.cfg.MaxTokens && c.cfg.EnableHierarchical {
				descendIntoSplitClass = true // its methods are captured via collectFunctionLikeDescendants instead
			}
		}
		count := int(n.ChildCount())
		for i := 0; i < count; i++ {
			walk(n.Child(i), descendIntoSplitClass)
		}
	}
	walk(root, false)

	if len(topLevel) == 0 {
		return nil
	}
	sort.Slice(topLevel, func(i, j int) bool { return topLevel[i].StartByte() < topLevel[j].StartByte() })

	var chunks []models.Chunk
	for _, n := range topLevel {
		if isClassLike(n.Type()) && c.tokenCount(nodeText(n, source)) > c.cfg.MaxTokens && c.cfg.EnableHierarchical {
			chunks = append(chunks, c.hierarchicalChunks(n, source)...)
			continue
		}
		if ch, ok := nodeToChunk(n, source, c.cfg.MinChunkByteLength); ok {
			chunks = append(chunks, ch)
		}
	}
	return chunks
}

// hierarchicalChunks builds a class-summary chunk (signature plus a method
// listing) followed by one chunk per method-like descendant, so a large
// class never becomes a single unsearchable blob.
func (c *Chunker) hierarchicalChunks(classNode *sitter.Node, source []byte) []models.Chunk {
	methods := collectFunctionLikeDescendants(classNode)

	out := []models.Chunk{classSummaryChunk(classNode, source, methods)}
	for _, m := range methods {
		if ch, ok := nodeToChunk(m, source, 0); ok {
			out = append(out, ch)
		}
	}
	return out
}

func collectFunctionLikeDescendants(node *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		count := int(n.ChildCount())
		for i := 0; i < count; i++ {
			child := n.Child(i)
			if child == nil {
				continue
			}
			if isFunctionLike(child.Type()) {
				out = append(out, child)
				continue // don't descend into a method body looking for nested methods
			}
			walk(child)
		}
	}
	walk(node)
	return out
}

// classSummaryChunk keeps the class's own signature lines (up to the first
// method) plus a short listing of its methods, so the summary stays small
// even when the class body is thousands of lines.
func classSummaryChunk(classNode *sitter.Node, source []byte, methods []*sitter.Node) models.Chunk {
	const maxSignatureLines = 50
	const maxListedMethods = 20

	full := nodeText(classNode, source)
	lines := strings.Split(full, "\n")

	sigEnd := len(lines)
	if len(methods) > 0 {
		firstMethodLine := int(methods[0].StartPoint().Row) - int(classNode.StartPoint().Row)
		if firstMethodLine > 0 && firstMethodLine < sigEnd {
			sigEnd = firstMethodLine
		}
	}
	if sigEnd > maxSignatureLines {
		sigEnd = maxSignatureLines
	}
	if sigEnd < 1 {
		sigEnd = 1
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines[:sigEnd], "\n"))
	if len(methods) > 0 {
		b.WriteString("\n// Methods:\n")
		listed := methods
		truncated := false
		if len(listed) > maxListedMethods {
			listed = listed[:maxListedMethods]
			truncated = true
		}
		for _, m := range listed {
			sig := firstLine(nodeText(m, source))
			if len(sig) > 100 {
				sig = sig[:100]
			}
			b.WriteString("//   ")
			b.WriteString(sig)
			b.WriteString("\n")
		}
		if truncated {
			fmt.Fprintf(&b, "//   ... and %d more methods\n", len(methods)-maxListedMethods)
		}
	}

	return models.Chunk{
		Content:   b.String(),
		StartLine: int(classNode.StartPoint().Row) + 1,
		EndLine:   int(classNode.StartPoint().Row) + sigEnd,
		ByteStart: int(classNode.StartByte()),
		ByteEnd:   int(classNode.StartByte()) + len(b.String()),
		Kind:      "class",
		Name:      extractNodeName(classNode, source),
	}
}

func nodeToChunk(n *sitter.Node, source []byte, minBytes int) (models.Chunk, bool) {
	text := nodeText(n, source)
	if minBytes > 0 && len(strings.TrimSpace(text)) < minBytes {
		return models.Chunk{}, false
	}
	kind := "function"
	if isClassLike(n.Type()) {
		kind = "class"
	}
	return models.Chunk{
		Content:   text,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		ByteStart: int(n.StartByte()),
		ByteEnd:   int(n.EndByte()),
		Kind:      kind,
		Name:      extractNodeName(n, source),
	}, true
}

func nodeText(n *sitter.Node, source []byte) string {
	start, end := n.StartByte(), n.EndByte()
	if start >= end || int(end) > len(source) {
		return ""
	}
	return string(source[start:end])
}

// extractNodeName scans a node's children for an identifier-shaped leaf,
// recursing into declarator-style wrappers (e.g. a JS/TS
// variable_declarator) so an arrow function assigned to a const still gets
// the const's name.
func extractNodeName(n *sitter.Node, source []byte) string {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		t := child.Type()
		if strings.Contains(t, "identifier") || t == "name" || t == "property_identifier" || t == "type_identifier" {
			if child.ChildCount() == 0 {
				return nodeText(child, source)
			}
		}
		if strings.Contains(t, "declarator") {
			if name := extractNodeName(child, source); name != "" {
				return name
			}
		}
	}
	return ""
}

func isClassLike(nodeType string) bool {
	for _, hint := range classLikeHints {
		if strings.Contains(nodeType, hint) {
			return true
		}
	}
	return false
}

func isFunctionLike(nodeType string) bool {
	for _, hint := range functionLikeHints {
		if strings.Contains(nodeType, hint) {
			return true
		}
	}
	return false
}

func (c *Chunker) tokenCount(s string) int {
	return len(c.encoder.Encode(s, nil, nil))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// NormalizeNewlines collapses CRLF and lone-CR line endings to "\n", per
// spec §4.2: "\r\n and lone \r -> \n before parsing; all offsets refer to
// the normalized text." Idempotent, so calling it on already-normalized
// text is a no-op. Exported so callers that persist a file's content (the
// worker) can normalize once and keep stored content and chunk byte offsets
// over the same text.
func NormalizeNewlines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return content
}
