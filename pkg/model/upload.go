package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// Upload is a raw document handed to the pipeline.
type Upload struct {
	Filename string
	Data     []byte
}

// UploadIdentity is the deduplication key of an upload: same name and same
// bytes means the same document.
type UploadIdentity string

func (u *Upload) Digest() string {
	sum := sha256.Sum256(u.Data)
	return hex.EncodeToString(sum[:])
}

func (u *Upload) Identity() UploadIdentity {
	return UploadIdentity(u.Filename + ":" + u.Digest())
}

// IngestResult is the outcome of ingesting one upload.
type IngestResult struct {
	Filename string
	Chunks   int
	Skipped  bool
	Err      error
}
