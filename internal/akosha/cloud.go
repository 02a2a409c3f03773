package akosha

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// uploaderName and uploaderVersion identify this client in manifests.
const (
	uploaderName    = "session-buddy"
	uploaderVersion = "1.0.0"
)

// ObjectStore is the slice of object storage the cloud transport needs.
// The production implementation wraps the S3 API; tests use a map.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Head reports whether the key exists.
	Head(ctx context.Context, key string) (bool, error)
}

// CloudMethod uploads a batch into
// systems/{system_id}/uploads/{upload_id}/, one object per file, manifest
// written last so a partially visible upload is never mistaken for a
// complete one.
type CloudMethod struct {
	cfg   Config
	store ObjectStore
	now   func() time.Time
}

// NewCloudMethod wires the cloud transport over the given store.
func NewCloudMethod(cfg Config, store ObjectStore) *CloudMethod {
	return &CloudMethod{cfg: cfg, store: store, now: time.Now}
}

func (c *CloudMethod) Name() string { return MethodCloud }

// Available requires a bucket and a store.
func (c *CloudMethod) Available(context.Context) bool {
	return c.store != nil && c.cfg.CloudConfigured()
}

// manifestFile describes one uploaded object. Compression is "gzip" or
// "none"; Checksum is the hex SHA-256 of the uncompressed content.
type manifestFile struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SizeBytes   int    `json:"size_bytes"`
	Compression string `json:"compression"`
	Checksum    string `json:"checksum"`
}

type manifestMetadata struct {
	Uploader string `json:"uploader"`
	Version  string `json:"version"`
}

// manifest is the upload's completion record; readers treat its presence as
// the upload being whole.
type manifest struct {
	UploadID  string           `json:"upload_id"`
	SystemID  string           `json:"system_id"`
	Timestamp string           `json:"timestamp"`
	Files     []manifestFile   `json:"files"`
	Metadata  manifestMetadata `json:"metadata"`
}

// Sync uploads every file, skipping content the store has already seen, and
// finishes with the manifest.
func (c *CloudMethod) Sync(ctx context.Context, batch Batch) (*Result, error) {
	started := c.now()
	uploadID := newUploadID(started, c.cfg.SystemID)
	prefix := path.Join("systems", c.cfg.SystemID)
	uploadPrefix := path.Join(prefix, "uploads", uploadID)

	result := &Result{Method: MethodCloud, UploadID: uploadID}
	m := manifest{
		UploadID:  uploadID,
		SystemID:  c.cfg.SystemID,
		Timestamp: started.UTC().Format(time.RFC3339),
		Metadata:  manifestMetadata{Uploader: uploaderName, Version: uploaderVersion},
	}

	for _, file := range batch.Files {
		digest := sha256.Sum256(file.Data)
		hash := hex.EncodeToString(digest[:])
		seenKey := path.Join(prefix, "seen", hash)

		if c.cfg.EnableDeduplication {
			exists, err := c.withRetryHead(ctx, seenKey)
			if err != nil {
				return c.fail(result, started, err)
			}
			if exists {
				result.FilesSkipped++
				log.Debug().Str("file", file.Name).Str("sha256", hash).Msg("Content already uploaded, skipping")
				continue
			}
		}

		body := file.Data
		name := file.Name
		compression := "none"
		if c.cfg.Compress {
			var err error
			body, err = gzipBytes(file.Data)
			if err != nil {
				return c.fail(result, started, fmt.Errorf("compress %s: %w", file.Name, err))
			}
			name += ".gz"
			compression = "gzip"
		}
		entry := manifestFile{
			Name:        file.Name,
			Path:        path.Join(uploadPrefix, name),
			SizeBytes:   len(file.Data),
			Compression: compression,
			Checksum:    hash,
		}

		if err := c.withRetryPut(ctx, entry.Path, body, "application/octet-stream"); err != nil {
			return c.fail(result, started, err)
		}
		if c.cfg.EnableDeduplication {
			if err := c.withRetryPut(ctx, seenKey, []byte(entry.Path), "text/plain"); err != nil {
				return c.fail(result, started, err)
			}
		}
		result.FilesUploaded++
		result.BytesTransferred += int64(len(body))
		m.Files = append(m.Files, entry)
	}

	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return c.fail(result, started, fmt.Errorf("encode manifest: %w", err))
	}
	if err := c.withRetryPut(ctx, path.Join(uploadPrefix, "manifest.json"), manifestJSON, "application/json"); err != nil {
		return c.fail(result, started, err)
	}
	result.BytesTransferred += int64(len(manifestJSON))

	result.Success = true
	result.DurationSeconds = c.now().Sub(started).Seconds()
	log.Info().Str("upload_id", uploadID).Int("uploaded", result.FilesUploaded).
		Int("skipped", result.FilesSkipped).Msg("Cloud sync complete")
	return result, nil
}

func (c *CloudMethod) fail(result *Result, started time.Time, err error) (*Result, error) {
	result.DurationSeconds = c.now().Sub(started).Seconds()
	result.Error = err.Error()
	return result, err
}

func (c *CloudMethod) withRetryPut(ctx context.Context, key string, body []byte, contentType string) error {
	err := c.retry(ctx, func() error { return c.store.Put(ctx, key, body, contentType) })
	if err != nil {
		return &CloudUploadError{Bucket: c.cfg.BucketName, Key: key, Err: err}
	}
	return nil
}

func (c *CloudMethod) withRetryHead(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := c.retry(ctx, func() error {
		var err error
		exists, err = c.store.Head(ctx, key)
		return err
	})
	if err != nil {
		return false, &CloudUploadError{Bucket: c.cfg.BucketName, Key: key, Err: err}
	}
	return exists, nil
}

// retry runs op up to 1+MaxRetries times with exponential backoff.
func (c *CloudMethod) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBackoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = op(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
