package chunking

import (
	"sync"
	"unicode/utf8"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/tmc/langchaingo/textsplitter"
)

// TokenEncoding is the tiktoken encoding used by the token strategy.
const TokenEncoding = "cl100k_base"

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

// tokenizer loads the BPE ranks embedded in the binary; nothing is fetched.
func tokenizer() (*tiktoken.Tiktoken, error) {
	encodingOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		encoding, encodingErr = tiktoken.GetEncoding(TokenEncoding)
	})
	return encoding, encodingErr
}

// splitTokens applies the character windowing rules to tiktoken tokens and
// decodes each window back to text. Window edges that fall inside a
// multi-token character are widened to the enclosing character, so every
// chunk is valid UTF-8 and may exceed size by the tokens of one character.
func splitTokens(text string, size, overlap int) ([]string, error) {
	tk, err := tokenizer()
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "token splitter unavailable", err)
	}

	tokens := tk.Encode(text, nil, nil)
	offsets := tokenOffsets(tk, tokens)
	decoded := tk.Decode(tokens)

	var chunks []string
	prev := [2]int{-1, -1}
	for _, b := range windows(len(tokens), size, overlap) {
		start, end := b[0], b[1]
		for start > 0 && !charBoundary(decoded, offsets[start]) {
			start--
		}
		for end < len(tokens) && !charBoundary(decoded, offsets[end]) {
			end++
		}
		if start == prev[0] && end == prev[1] {
			continue
		}
		prev = [2]int{start, end}
		chunks = append(chunks, decoded[offsets[start]:offsets[end]])
	}
	return chunks, nil
}

// tokenOffsets returns the byte offset of each token in the decoded text,
// plus the total length as the final element.
func tokenOffsets(tk *tiktoken.Tiktoken, tokens []int) []int {
	offsets := make([]int, len(tokens)+1)
	for i, t := range tokens {
		offsets[i+1] = offsets[i] + len(tk.Decode([]int{t}))
	}
	return offsets
}

func charBoundary(s string, off int) bool {
	return off >= len(s) || utf8.RuneStart(s[off])
}

func splitMarkdown(text string, size, overlap int) ([]string, error) {
	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeConfig, "markdown splitter failed", err)
	}
	return chunks, nil
}
