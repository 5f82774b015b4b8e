// Package chunker provides the reference Parser collaborator: a language
// agnostic, fixed-size sliding line window. The code parser is an external
// collaborator the core never interprets (only parse(path, source) ->
// [chunk] crosses the boundary), so this is a default implementation good
// enough to exercise the rest of the pipeline, not a claim of code-aware
// chunking.
package chunker

import (
	"strings"

	"github.com/fyrsmithlabs/semcore/internal/scanner"
)

// LineChunker splits source into overlapping windows of LinesPerChunk
// lines, advancing by LinesPerChunk-OverlapLines each step so no line is
// ever dropped between adjacent chunks.
type LineChunker struct {
	LinesPerChunk int
	OverlapLines  int
}

// NewLineChunker builds a LineChunker with reasonable defaults: 50 lines
// per chunk, 5 lines of overlap between adjacent chunks.
func NewLineChunker() *LineChunker {
	return &LineChunker{LinesPerChunk: 50, OverlapLines: 5}
}

// Parse implements scanner.Parser. Chunk content is always an exact,
// deterministic substring of the joined source lines.
func (c *LineChunker) Parse(path string, content []byte) ([]scanner.Chunk, error) {
	text := string(content)
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")

	step := c.LinesPerChunk - c.OverlapLines
	if step <= 0 {
		step = c.LinesPerChunk
	}

	var chunks []scanner.Chunk
	for start := 0; start < len(lines); start += step {
		end := start + c.LinesPerChunk
		if end > len(lines) {
			end = len(lines)
		}
		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) != "" {
			chunks = append(chunks, scanner.Chunk{
				Content:   body,
				StartLine: start + 1,
				EndLine:   end,
			})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks, nil
}
