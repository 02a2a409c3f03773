package akosha

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// File is one exported artifact to sync.
type File struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
}

// MemoryRecord is one memory in wire form for the HTTP transport.
type MemoryRecord struct {
	Content  string         `json:"content"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Batch is everything one sync run ships.
type Batch struct {
	Files    []File
	Memories []MemoryRecord
}

// Empty reports whether the batch has nothing to ship.
func (b Batch) Empty() bool { return len(b.Files) == 0 && len(b.Memories) == 0 }

// Result reports one transport's sync outcome.
type Result struct {
	Method           string  `json:"method"`
	Success          bool    `json:"success"`
	FilesUploaded    int     `json:"files_uploaded"`
	FilesSkipped     int     `json:"files_skipped"`
	MemoriesStored   int     `json:"memories_stored"`
	BytesTransferred int64   `json:"bytes_transferred"`
	DurationSeconds  float64 `json:"duration_seconds"`
	UploadID         string  `json:"upload_id,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Method is one sync transport.
type Method interface {
	Name() string
	// Available is a cheap pre-flight check; it must return quickly.
	Available(ctx context.Context) bool
	Sync(ctx context.Context, batch Batch) (*Result, error)
}

// CloudUploadError reports a failed object-store operation.
type CloudUploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *CloudUploadError) Error() string {
	return fmt.Sprintf("cloud upload to s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *CloudUploadError) Unwrap() error { return e.Err }

// HTTPSyncError reports a failed HTTP sync call.
type HTTPSyncError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *HTTPSyncError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("http sync to %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("http sync to %s: %v", e.URL, e.Err)
}

func (e *HTTPSyncError) Unwrap() error { return e.Err }

// MethodError pairs a transport name with its failure.
type MethodError struct {
	Method string
	Err    error
}

// HybridSyncError aggregates the failures of every attempted transport.
type HybridSyncError struct {
	Errors []MethodError
}

func (e *HybridSyncError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, me := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %v", me.Method, me.Err)
	}
	return "all sync methods failed: " + strings.Join(parts, "; ")
}

// newUploadID builds the timestamped upload identifier, UTC.
func newUploadID(now time.Time, systemID string) string {
	return now.UTC().Format("20060102_150405") + "_" + systemID
}
