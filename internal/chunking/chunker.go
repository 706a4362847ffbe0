// Package chunking splits cleaned text into ordered, overlapping segments.
package chunking

import (
	"fmt"

	"github.com/cloo-solutions/docpipe/internal/domain"
)

// Split divides text according to cfg. Preconditions are checked before the
// text is inspected; the result is deterministic for identical inputs.
func Split(text string, cfg domain.SplitterConfig) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return []string{}, nil
	}

	switch cfg.TextSplitter {
	case domain.SplitterCharacter:
		return splitCharacters(text, cfg.ChunkSize, cfg.ChunkOverlap), nil
	case domain.SplitterRecursive:
		return splitRecursive(text, cfg.Separators, cfg.ChunkSize, cfg.ChunkOverlap), nil
	case domain.SplitterToken:
		return splitTokens(text, cfg.ChunkSize, cfg.ChunkOverlap)
	case domain.SplitterMarkdown:
		return splitMarkdown(text, cfg.ChunkSize, cfg.ChunkOverlap)
	}
	return nil, domain.NewConfigError(fmt.Sprintf("unknown text_splitter %q", cfg.TextSplitter))
}

// windows returns [start,end) bounds of fixed windows over n units, advancing
// by size-overlap and stopping after the window that reaches n.
func windows(n, size, overlap int) [][2]int {
	if n == 0 {
		return nil
	}
	step := size - overlap
	var out [][2]int
	for start := 0; start < n; start += step {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
		if end == n {
			break
		}
	}
	return out
}

func splitCharacters(text string, size, overlap int) []string {
	runes := []rune(text)
	bounds := windows(len(runes), size, overlap)
	chunks := make([]string, 0, len(bounds))
	for _, b := range bounds {
		chunks = append(chunks, string(runes[b[0]:b[1]]))
	}
	return chunks
}
