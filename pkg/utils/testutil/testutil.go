// Package testutil provides deterministic stand-ins for tokenizers, models
// and documents used across package tests.
package testutil

import (
	"bytes"
	"context"
	"hash/fnv"
	"iter"
	"math"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/jung-kurt/gofpdf"
	"github.com/m-mizutani/docqa/pkg/adapter"
)

// RuneTokenizer treats every rune as one token.
type RuneTokenizer struct{}

func (RuneTokenizer) Encode(text string) []int {
	runes := []rune(text)
	tokens := make([]int, len(runes))
	for i, r := range runes {
		tokens[i] = int(r)
	}
	return tokens
}

func (RuneTokenizer) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes)
}

// PDF renders one page per entry. An empty entry becomes a blank page.
func PDF(t testing.TB, pages ...string) []byte {
	t.Helper()

	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, text := range pages {
		doc.AddPage()
		if text != "" {
			doc.MultiCell(0, 8, text, "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("failed to render PDF: %v", err)
	}
	return buf.Bytes()
}

// HashEmbedder is a bag-of-words embedder. Words are lowercased, stripped of
// punctuation and hashed into Dimension buckets; the vector is L2 normalised.
// Identical word bags give identical vectors.
type HashEmbedder struct {
	Dimension int
}

func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func (h HashEmbedder) Vector(text string) []float32 {
	v := make([]float32, h.Dimension)
	for _, w := range Words(text) {
		f := fnv.New32a()
		f.Write([]byte(w))
		v[int(f.Sum32())%h.Dimension]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}

func (h HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return h.Vector(text), nil
}

// MockLLM implements adapter.LLM with replaceable functions. Unset functions
// fall back to a HashEmbedder of Dimension, an empty completion and an empty
// stream. Every prompt is recorded.
type MockLLM struct {
	Dimension    int
	EmbedFunc    func(ctx context.Context, text string) ([]float32, error)
	CompleteFunc func(ctx context.Context, prompt *adapter.Prompt) (string, error)
	StreamFunc   func(ctx context.Context, prompt *adapter.Prompt) iter.Seq2[string, error]

	mu        sync.Mutex
	completes []*adapter.Prompt
	streams   []*adapter.Prompt
	embeds    []string
}

var _ adapter.LLM = (*MockLLM)(nil)

func (m *MockLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.embeds = append(m.embeds, text)
	m.mu.Unlock()

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return HashEmbedder{Dimension: m.Dimension}.Vector(text), nil
}

func (m *MockLLM) Complete(ctx context.Context, prompt *adapter.Prompt) (string, error) {
	m.mu.Lock()
	m.completes = append(m.completes, prompt)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "", nil
}

func (m *MockLLM) Stream(ctx context.Context, prompt *adapter.Prompt) iter.Seq2[string, error] {
	m.mu.Lock()
	m.streams = append(m.streams, prompt)
	m.mu.Unlock()

	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, prompt)
	}
	return func(yield func(string, error) bool) {}
}

func (m *MockLLM) CompletePrompts() []*adapter.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*adapter.Prompt(nil), m.completes...)
}

func (m *MockLLM) StreamPrompts() []*adapter.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*adapter.Prompt(nil), m.streams...)
}

func (m *MockLLM) EmbeddedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.embeds...)
}

// Fragments streams the given fragments in order.
func Fragments(fragments ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range fragments {
			if !yield(f, nil) {
				return
			}
		}
	}
}

// FailingStream yields the fragments and then err.
func FailingStream(err error, fragments ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, f := range fragments {
			if !yield(f, nil) {
				return
			}
		}
		yield("", err)
	}
}
