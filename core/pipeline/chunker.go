package pipeline

import (
	"fmt"
	"strings"
)

// TokenWindowChunker cuts text into windows of size whitespace separated
// tokens. Consecutive windows start size-overlap tokens apart and the last
// window may be shorter. The window that reaches the end of the text is the
// last one. Tokens are joined with single spaces.
func TokenWindowChunker(size int, overlap int) ChunkFunc {
	return func(text string) ([]string, error) {
		if size <= 0 {
			return nil, fmt.Errorf("chunk size must be positive")
		}
		if overlap < 0 || overlap >= size {
			return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
		}

		tokens := strings.Fields(text)
		if len(tokens) == 0 {
			return []string{}, nil
		}

		stride := size - overlap
		chunks := make([]string, 0, (len(tokens)+stride-1)/stride)
		for i := 0; i < len(tokens); i += stride {
			end := min(i+size, len(tokens))
			chunks = append(chunks, strings.Join(tokens[i:end], " "))
			if end == len(tokens) {
				break
			}
		}
		return chunks, nil
	}
}
