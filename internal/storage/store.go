// Package storage persists rendered documents and returns a reference the job
// record can carry.
package storage

import (
	"context"
	"path"
)

// ContentTypePDF is the content type of every rendered document.
const ContentTypePDF = "application/pdf"

// ArtifactStore writes a blob under key and returns its storage reference.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// DocumentKey is the storage key for a job's rendered document.
func DocumentKey(jobID string) string {
	return path.Join("documents", jobID, "document.pdf")
}
