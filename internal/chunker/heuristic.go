package chunker

import (
	"strings"

	"github.com/jamaly87/code-search-service/internal/languages"
	"github.com/jamaly87/code-search-service/internal/models"
)

// chunkHeuristic is the fallback path for languages with no tree-sitter
// grammar in the registry (or whose parse failed): it scans lines for a
// function/class keyword prefix from the language's registry entry and
// groups each boundary through to the end of its block. Brace- and
// indentation-aware languages end a definition chunk once its block closes;
// every line outside a definition (leading, between blocks, trailing) is
// emitted as token-budget-bounded "flow" chunks. A definition or flow run
// whose trimmed text is shorter than MinChunkByteLength is not emitted; if
// nothing is emitted at all, the whole file becomes one chunk.
func (c *Chunker) chunkHeuristic(lang *languages.Language, content string) []models.Chunk {
	lines := strings.Split(content, "\n")
	offsets := lineByteOffsets(lines)

	if lang == nil || (len(lang.FunctionKeywords) == 0 && len(lang.ClassKeywords) == 0) {
		return []models.Chunk{wholeFileChunk(content)}
	}

	var boundaries []int
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if hasAnyPrefix(trimmed, lang.FunctionKeywords) || hasAnyPrefix(trimmed, lang.ClassKeywords) {
			boundaries = append(boundaries, i)
		}
	}
	if len(boundaries) == 0 {
		return []models.Chunk{wholeFileChunk(content)}
	}

	var chunks []models.Chunk
	if boundaries[0] > 0 {
		chunks = append(chunks, c.flowChunks(lines, offsets, 0, boundaries[0]-1)...)
	}

	for bi, start := range boundaries {
		end := len(lines) - 1
		if lang.UsesBraces {
			if closed, ok := braceBlockEnd(lines, start); ok {
				end = closed
			} else if bi+1 < len(boundaries) {
				end = boundaries[bi+1] - 1
			}
		} else if lang.UsesIndentation {
			end = indentBlockEnd(lines, start)
		} else if bi+1 < len(boundaries) {
			end = boundaries[bi+1] - 1
		}
		if end < start {
			end = start
		}
		if ch, ok := lineRangeChunk(lines, offsets, start, end, c.cfg.MinChunkByteLength); ok {
			chunks = append(chunks, ch)
		}

		// Flow-chunk the gap between this block's close and the next
		// definition (or end of file). A block that swallowed the next
		// boundary leaves no gap.
		next := len(lines)
		if bi+1 < len(boundaries) {
			next = boundaries[bi+1]
		}
		if end+1 < next {
			chunks = append(chunks, c.flowChunks(lines, offsets, end+1, next-1)...)
		}
	}

	if len(chunks) == 0 {
		return []models.Chunk{wholeFileChunk(content)}
	}
	return chunks
}

// flowChunks emits the lines in [start, end] as "flow" chunks, flushing
// whenever the accumulated token count would exceed the configured budget.
func (c *Chunker) flowChunks(lines []string, offsets []int, start, end int) []models.Chunk {
	var out []models.Chunk
	runStart := start
	tokens := 0
	for i := start; i <= end; i++ {
		lt := c.tokenCount(lines[i])
		if c.cfg.MaxTokens > 0 && tokens+lt > c.cfg.MaxTokens && i > runStart {
			if ch, ok := lineRangeChunk(lines, offsets, runStart, i-1, c.cfg.MinChunkByteLength); ok {
				ch.Kind = "flow"
				out = append(out, ch)
			}
			runStart = i
			tokens = 0
		}
		tokens += lt
	}
	if ch, ok := lineRangeChunk(lines, offsets, runStart, end, c.cfg.MinChunkByteLength); ok {
		ch.Kind = "flow"
		out = append(out, ch)
	}
	return out
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// braceBlockEnd returns the line index where the first '{' opened on or
// after startLine closes, by tracking brace depth across lines.
func braceBlockEnd(lines []string, startLine int) (int, bool) {
	depth := 0
	seenOpen := false
	for i := startLine; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
				seenOpen = true
			case '}':
				depth--
			}
		}
		if seenOpen && depth <= 0 {
			return i, true
		}
	}
	return 0, false
}

// indentBlockEnd returns the last line index belonging to the same
// indentation-delimited block as startLine (e.g. a Python def/class body).
func indentBlockEnd(lines []string, startLine int) int {
	baseIndent := leadingWhitespace(lines[startLine])
	end := startLine
	for i := startLine + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if leadingWhitespace(lines[i]) <= baseIndent {
			break
		}
		end = i
	}
	return end
}

func leadingWhitespace(line string) int {
	n := 0
	for _, r := range line {
		if r != ' ' && r != '\t' {
			break
		}
		n++
	}
	return n
}

func lineByteOffsets(lines []string) []int {
	offsets := make([]int, len(lines)+1)
	pos := 0
	for i, l := range lines {
		offsets[i] = pos
		pos += len(l) + 1 // +1 for the newline split away by strings.Split
	}
	offsets[len(lines)] = pos
	return offsets
}

func lineRangeChunk(lines []string, offsets []int, start, end int, minBytes int) (models.Chunk, bool) {
	if start > end || end >= len(lines) {
		return models.Chunk{}, false
	}
	text := strings.Join(lines[start:end+1], "\n")
	if len(strings.TrimSpace(text)) < minBytes {
		return models.Chunk{}, false
	}
	return models.Chunk{
		Content:   text,
		StartLine: start + 1,
		EndLine:   end + 1,
		ByteStart: offsets[start],
		ByteEnd:   offsets[start] + len(text),
		Kind:      "block",
	}, true
}

func wholeFileChunk(content string) models.Chunk {
	lines := strings.Split(content, "\n")
	return models.Chunk{
		Content:   content,
		StartLine: 1,
		EndLine:   len(lines),
		ByteStart: 0,
		ByteEnd:   len(content),
		Kind:      "file",
	}
}
