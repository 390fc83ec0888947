package chunker

import (
	"strings"

	"github.com/jamaly87/code-search-service/internal/models"
)

// splitOversize implements spec §4.2 step 3: a chunk whose token count
// exceeds cfg.MaxTokens is split so no fragment handed to the embedding
// provider exceeds the budget. Class-like kinds keep their header on every
// fragment; everything else is windowed over the tokenizer's own token id
// sequence (falling back to line bisection only when no tokenizer is
// available). Chunks already within budget pass through untouched with a
// stamped token count.
func (c *Chunker) splitOversize(ch models.Chunk) []models.Chunk {
	tokens := c.tokenCount(ch.Content)
	if tokens <= c.cfg.MaxTokens || !c.cfg.SplitLargeUnits {
		n := tokens
		ch.TokenCount = &n
		return []models.Chunk{ch}
	}

	if isClassLike(ch.Kind) {
		return c.splitClassLike(ch)
	}
	if c.encoder != nil {
		return c.splitByTokenWindow(ch)
	}
	return c.splitByLineBisection(ch)
}

// splitClassLike carries the class/struct/trait header plus a
// "// ... (continued)" marker on every fragment after the first, accumulating
// body lines until the running fragment would exceed MaxTokens-OverlapTokens,
// then emitting and restarting from the header; the last fragment carries
// whatever body lines remain.
func (c *Chunker) splitClassLike(ch models.Chunk) []models.Chunk {
	lines := strings.Split(ch.Content, "\n")
	if len(lines) == 0 {
		n := 0
		ch.TokenCount = &n
		return []models.Chunk{ch}
	}

	lineByteStart := make([]int, len(lines))
	lineByteLen := make([]int, len(lines))
	offset := ch.ByteStart
	for i, l := range lines {
		lineByteStart[i] = offset
		lineByteLen[i] = len(l) + 1
		offset += lineByteLen[i]
	}

	header := lines[0]
	headerTokens := c.tokenCount(header)
	budget := c.cfg.MaxTokens - c.cfg.OverlapTokens
	if budget <= headerTokens {
		budget = headerTokens + 1
	}

	var out []models.Chunk
	i := 1
	first := true
	for first || i < len(lines) {
		bodyStartIdx := i
		bodyTokens := headerTokens
		var bodyLines []string
		for i < len(lines) {
			lt := c.tokenCount(lines[i])
			if bodyTokens+lt > budget && len(bodyLines) > 0 {
				break
			}
			bodyLines = append(bodyLines, lines[i])
			bodyTokens += lt
			i++
		}

		var b strings.Builder
		b.WriteString(header)
		if !first {
			b.WriteString("\n// ... (continued)")
		}
		if len(bodyLines) > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Join(bodyLines, "\n"))
		}
		text := b.String()
		n := c.tokenCount(text)

		var byteStart, byteEnd, startLine, endLine int
		if len(bodyLines) > 0 {
			lastIdx := bodyStartIdx + len(bodyLines) - 1
			byteStart = lineByteStart[bodyStartIdx]
			byteEnd = lineByteStart[lastIdx] + len(lines[lastIdx])
			startLine = ch.StartLine + bodyStartIdx
			endLine = ch.StartLine + lastIdx
		} else {
			byteStart = ch.ByteStart
			byteEnd = lineByteStart[0] + len(lines[0])
			startLine = ch.StartLine
			endLine = ch.StartLine
		}

		out = append(out, models.Chunk{
			Content:    text,
			StartLine:  startLine,
			EndLine:    endLine,
			ByteStart:  byteStart,
			ByteEnd:    byteEnd,
			Kind:       ch.Kind,
			Name:       ch.Name,
			TokenCount: &n,
		})

		first = false
		if i >= len(lines) {
			break
		}
	}
	return out
}

// splitByTokenWindow windows the chunk's own token id sequence into
// MaxTokens-wide slices overlapping by OverlapTokens, re-decoding each
// window back into text, per spec §4.2 step 3. Line and byte spans are
// estimated proportionally across the chunk's original span, since a
// decoded token window does not line up with an exact line boundary.
func (c *Chunker) splitByTokenWindow(ch models.Chunk) []models.Chunk {
	ids := c.encoder.Encode(ch.Content, nil, nil)
	total := len(ids)
	if total == 0 {
		n := 0
		ch.TokenCount = &n
		return []models.Chunk{ch}
	}

	window := c.cfg.MaxTokens
	if window <= 0 {
		window = total
	}
	overlap := c.cfg.OverlapTokens
	if overlap < 0 || overlap >= window {
		overlap = 0
	}
	step := window - overlap
	if step <= 0 {
		step = window
	}

	totalLines := ch.EndLine - ch.StartLine + 1
	totalBytes := ch.ByteEnd - ch.ByteStart

	var out []models.Chunk
	for start := 0; start < total; start += step {
		end := start + window
		if end > total {
			end = total
		}
		text := c.encoder.Decode(ids[start:end])
		n := end - start

		startLine := ch.StartLine + proportional(start, total, totalLines)
		endLine := ch.StartLine + proportional(end, total, totalLines)
		byteStart := ch.ByteStart + proportional(start, total, totalBytes)
		byteEnd := ch.ByteStart + proportional(end, total, totalBytes)
		if end >= total {
			endLine = ch.EndLine
			byteEnd = ch.ByteEnd
		}
		if endLine < startLine {
			endLine = startLine
		}
		if byteEnd <= byteStart {
			byteEnd = byteStart + len(text)
		}

		out = append(out, models.Chunk{
			Content:    text,
			StartLine:  startLine,
			EndLine:    endLine,
			ByteStart:  byteStart,
			ByteEnd:    byteEnd,
			Kind:       ch.Kind,
			Name:       ch.Name,
			TokenCount: &n,
		})

		if end >= total {
			break
		}
	}
	return out
}

// proportional scales position within [0,total] onto [0,span].
func proportional(position, total, span int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(position) / float64(total) * float64(span))
}

// splitByLineBisection is the fallback windowing strategy used only when no
// tokenizer is available: lines are grouped up to MaxTokens with a 10% (at
// most 10-line) overlap between consecutive fragments.
func (c *Chunker) splitByLineBisection(ch models.Chunk) []models.Chunk {
	lines := strings.Split(ch.Content, "\n")
	lineTokens := make([]int, len(lines))
	lineBytes := make([]int, len(lines))
	for i, l := range lines {
		lineTokens[i] = c.tokenCount(l)
		lineBytes[i] = len(l) + 1
	}

	overlapLines := len(lines) / 10
	if overlapLines > 10 {
		overlapLines = 10
	}
	if overlapLines < 1 {
		overlapLines = 1
	}

	var out []models.Chunk
	start := 0
	byteCursor := ch.ByteStart
	for start < len(lines) {
		cur := 0
		end := start
		for end < len(lines) {
			next := lineTokens[end]
			if cur+next > c.cfg.MaxTokens && end > start {
				break
			}
			cur += next
			end++
		}
		if end == start {
			end = start + 1 // a single line that alone exceeds MaxTokens still emits
		}

		text := strings.Join(lines[start:end], "\n")
		n := cur
		sub := models.Chunk{
			Content:    text,
			StartLine:  ch.StartLine + start,
			EndLine:    ch.StartLine + end - 1,
			ByteStart:  byteCursor,
			ByteEnd:    byteCursor + len(text),
			Kind:       ch.Kind,
			Name:       ch.Name,
			TokenCount: &n,
		}
		out = append(out, sub)

		if end >= len(lines) {
			break
		}
		nextStart := end - overlapLines
		if nextStart <= start {
			nextStart = end
		}
		for i := start; i < nextStart; i++ {
			byteCursor += lineBytes[i]
		}
		start = nextStart
	}
	return out
}
