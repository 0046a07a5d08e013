package chunker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// encodingName must match the tokenizer family of the embedding model so the
// token budget is meaningful against the provider's input limit.
const encodingName = "cl100k_base"

const (
	DefaultTargetTokens  = 512
	DefaultOverlapTokens = 50
)

// Chunk is one bounded text window extracted from a document.
type Chunk struct {
	Text        string
	TokenCount  int
	StartOffset int // token offset of the chunk start within the document
	Method      string
}

// Split methods recorded in chunk metadata.
const (
	MethodParagraph  = "paragraph_boundary"
	MethodTokenSplit = "token_split"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	if encErr != nil {
		return nil, fmt.Errorf("load %s encoding failed: %w", encodingName, encErr)
	}
	return enc, nil
}

// CountTokens returns the token count of text under the chunker's encoding.
func CountTokens(text string) (int, error) {
	e, err := encoding()
	if err != nil {
		return 0, err
	}
	return len(e.Encode(text, nil, nil)), nil
}

// Split cuts text into ordered, overlapping chunks of at most targetTokens
// tokens. Paragraph boundaries are preferred; a single paragraph larger than
// the target is hard-split on token count. Consecutive chunks share the last
// overlapTokens tokens of the previous chunk. Empty or whitespace-only input
// yields no chunks; callers must treat that as a failure, not a success.
func Split(text string, targetTokens, overlapTokens int) ([]Chunk, error) {
	if targetTokens <= 0 {
		targetTokens = DefaultTargetTokens
	}
	if overlapTokens < 0 || overlapTokens >= targetTokens {
		overlapTokens = DefaultOverlapTokens
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	e, err := encoding()
	if err != nil {
		return nil, err
	}

	paragraphs := splitParagraphs(text)
	// Joins between accumulated paragraphs are part of the persisted chunk
	// text, so their tokens count against the target too.
	sepTokens := e.Encode("\n\n", nil, nil)

	var (
		chunks        []Chunk
		currentTokens []int
		currentTexts  []string
		offset        int
	)

	flush := func(method string) {
		chunkText := strings.Join(currentTexts, "\n\n")
		if method == MethodTokenSplit {
			chunkText = e.Decode(currentTokens)
		}
		chunks = append(chunks, Chunk{
			Text:        chunkText,
			TokenCount:  len(currentTokens),
			StartOffset: offset,
			Method:      method,
		})
		offset += len(currentTokens) - overlapTokens
		if offset < 0 {
			offset = 0
		}
	}

	for _, paragraph := range paragraphs {
		paraTokens := e.Encode(paragraph, nil, nil)

		// Flush the current chunk before it would exceed the target.
		if len(currentTokens) > 0 && len(currentTokens)+len(sepTokens)+len(paraTokens) > targetTokens {
			flush(MethodParagraph)
			if overlapTokens > 0 && len(currentTokens) > overlapTokens {
				carried := append([]int(nil), currentTokens[len(currentTokens)-overlapTokens:]...)
				currentTokens = carried
				currentTexts = []string{e.Decode(carried)}
			} else {
				currentTokens = nil
				currentTexts = nil
			}
		}

		if len(currentTokens) > 0 {
			currentTokens = append(currentTokens, sepTokens...)
		}
		currentTexts = append(currentTexts, paragraph)
		currentTokens = append(currentTokens, paraTokens...)

		// A single oversized paragraph falls back to hard token splits.
		for len(currentTokens) > targetTokens {
			full := currentTokens
			currentTokens = full[:targetTokens]
			flush(MethodTokenSplit)

			remainingStart := targetTokens - overlapTokens
			if remainingStart < 0 {
				remainingStart = 0
			}
			currentTokens = append([]int(nil), full[remainingStart:]...)
			currentTexts = []string{e.Decode(currentTokens)}
		}
	}

	if len(currentTokens) > 0 {
		flush(MethodParagraph)
	}

	return chunks, nil
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
