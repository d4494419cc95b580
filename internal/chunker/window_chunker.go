package chunker

import (
	"strings"

	"ragchat/internal/domain"
)

var windowSeparators = [][]rune{[]rune("\n\n"), []rune("\n"), []rune(" ")}

// WindowChunker splits text into fixed-size character windows that overlap.
// A window prefers to end on a paragraph break, newline or space found in its second half.
type WindowChunker struct {
	size    int
	overlap int
}

func NewWindowChunker(size, overlap int) *WindowChunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &WindowChunker{size: size, overlap: overlap}
}

func (c *WindowChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	runes := []rune(document.Content)
	n := len(runes)
	var chunks []domain.Chunk
	start := 0
	for start < n {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = c.breakPoint(runes, start, end)
		}
		if text := strings.TrimSpace(string(runes[start:end])); text != "" {
			chunks = append(chunks, domain.Chunk{Text: text, Source: document.Source})
		}
		if end >= n {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks, nil
}

// breakPoint returns the exclusive end of the window [start, end).
func (c *WindowChunker) breakPoint(runes []rune, start, end int) int {
	floor := start + c.size/2
	for _, sep := range windowSeparators {
		for i := end - len(sep); i >= floor; i-- {
			if hasRunes(runes[i:], sep) {
				return i + len(sep)
			}
		}
	}
	return end
}

func hasRunes(s, prefix []rune) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}
