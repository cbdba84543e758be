package model

import (
	"crypto/sha256"
	"encoding/hex"

	"cloud.google.com/go/firestore"
)

// DocumentChunk is a span of extracted document text together with the name
// of the file it came from.
type DocumentChunk struct {
	Text     string `firestore:"text" json:"text"`
	Filename string `firestore:"filename" json:"filename"`
}

// ChunkID identifies a chunk by its content so that writing the same chunk
// twice overwrites the earlier record.
type ChunkID string

func (c *DocumentChunk) ID() ChunkID {
	h := sha256.New()
	h.Write([]byte(c.Filename))
	h.Write([]byte{0})
	h.Write([]byte(c.Text))
	return ChunkID(hex.EncodeToString(h.Sum(nil)[:16]))
}

// IndexRecord is what gets stored in the vector index.
type IndexRecord struct {
	Embedding firestore.Vector32 `firestore:"embedding"`
	Chunk     *DocumentChunk     `firestore:"chunk"`
}

// IndexStatus is the state of a named vector index as reported by a backend.
type IndexStatus struct {
	Name      string
	Exists    bool
	Ready     bool
	Dimension int
}

// ScoredChunk is a retrieval hit. Score is cosine similarity, higher is closer.
type ScoredChunk struct {
	Chunk *DocumentChunk
	Score float64
}
