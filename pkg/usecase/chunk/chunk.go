// Package chunk splits extracted document text into overlapping token windows.
package chunk

import (
	"strings"

	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// Tokenizer converts between text and token ids. Decoding the concatenation
// of any split of an encoded sequence must reproduce the original text.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Window is a half-open token range [Start, End).
type Window struct {
	Start int
	End   int
}

// Windows returns the token windows for a sequence of n tokens. Each window
// spans size tokens except possibly the last, and consecutive windows share
// overlap tokens. Parameters outside 0 <= overlap < size yield no windows.
func Windows(n, size, overlap int) []Window {
	if n <= 0 || size <= 0 || overlap < 0 || overlap >= size {
		return nil
	}

	stride := size - overlap
	windows := make([]Window, 0, n/stride+1)
	for start := 0; ; start += stride {
		end := min(start+size, n)
		windows = append(windows, Window{Start: start, End: end})
		if end == n {
			break
		}
	}
	return windows
}

type Chunker struct {
	tokenizer Tokenizer
	size      int
	overlap   int
}

func New(tokenizer Tokenizer, size, overlap int) (*Chunker, error) {
	if tokenizer == nil {
		return nil, goerr.New("tokenizer is required", goerr.T(model.ErrTagInvalidConfig))
	}
	if size <= 0 {
		return nil, goerr.New("chunk size must be positive",
			goerr.V("size", size), goerr.T(model.ErrTagInvalidConfig))
	}
	if overlap < 0 || overlap >= size {
		return nil, goerr.New("chunk overlap must be in [0, size)",
			goerr.V("size", size), goerr.V("overlap", overlap), goerr.T(model.ErrTagInvalidConfig))
	}

	return &Chunker{
		tokenizer: tokenizer,
		size:      size,
		overlap:   overlap,
	}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split divides text into chunks of at most Size tokens. Whitespace-only text
// produces no chunks.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	tokens := c.tokenizer.Encode(text)
	windows := Windows(len(tokens), c.size, c.overlap)

	chunks := make([]string, 0, len(windows))
	for _, w := range windows {
		chunks = append(chunks, c.tokenizer.Decode(tokens[w.Start:w.End]))
	}
	return chunks
}

// Chunks splits text and attaches the source filename to each piece.
func (c *Chunker) Chunks(filename, text string) []*model.DocumentChunk {
	pieces := c.Split(text)
	chunks := make([]*model.DocumentChunk, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, &model.DocumentChunk{Text: p, Filename: filename})
	}
	return chunks
}
