package akosha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory ObjectStore that records put order and can fail
// the first N puts.
type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putOrder []string
	failPuts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Put(_ context.Context, key string, body []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPuts > 0 {
		f.failPuts--
		return errors.New("transient store error")
	}
	f.objects[key] = append([]byte(nil), body...)
	f.putOrder = append(f.putOrder, key)
	return nil
}

func (f *fakeStore) Head(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func cloudTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.BucketName = "memories"
	cfg.SystemID = "host-a"
	cfg.RetryBackoff = time.Millisecond
	cfg.Normalize()
	return cfg
}

func TestCloudSyncUploadsAndManifestLast(t *testing.T) {
	store := newFakeStore()
	method := NewCloudMethod(cloudTestConfig(), store)

	batch := Batch{Files: []File{
		{Name: "conversations.jsonl", Data: []byte("line1\nline2\n")},
		{Name: "insights.jsonl", Data: []byte("insight\n")},
	}}
	result, err := method.Sync(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.FilesUploaded)
	assert.Equal(t, 0, result.FilesSkipped)
	require.NotEmpty(t, result.UploadID)
	assert.True(t, strings.HasSuffix(result.UploadID, "_host-a"))

	// Manifest is the final object written.
	require.NotEmpty(t, store.putOrder)
	last := store.putOrder[len(store.putOrder)-1]
	assert.True(t, strings.HasSuffix(last, "/manifest.json"), last)
	assert.True(t, strings.HasPrefix(last, "systems/host-a/uploads/"), last)

	var m manifest
	require.NoError(t, json.Unmarshal(store.objects[last], &m))
	assert.Equal(t, result.UploadID, m.UploadID)
	assert.Equal(t, "host-a", m.SystemID)
	assert.NotEmpty(t, m.Timestamp)
	assert.Equal(t, "session-buddy", m.Metadata.Uploader)
	assert.Equal(t, "1.0.0", m.Metadata.Version)
	require.Len(t, m.Files, 2)
	assert.Equal(t, "conversations.jsonl", m.Files[0].Name)
	assert.Equal(t, len("line1\nline2\n"), m.Files[0].SizeBytes)
	assert.Equal(t, "gzip", m.Files[0].Compression)
	assert.Len(t, m.Files[0].Checksum, 64)

	// Uploaded payload round-trips through gzip.
	zr, err := gzip.NewReader(bytes.NewReader(store.objects[m.Files[0].Path]))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, []byte("line1\nline2\n"), plain)
}

func TestCloudSyncSkipsSeenContent(t *testing.T) {
	store := newFakeStore()
	method := NewCloudMethod(cloudTestConfig(), store)
	ctx := context.Background()

	batch := Batch{Files: []File{{Name: "export.jsonl", Data: []byte("same content")}}}
	first, err := method.Sync(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, first.FilesUploaded)

	// Same bytes under a different name still dedup on content hash.
	second, err := method.Sync(ctx, Batch{Files: []File{{Name: "renamed.jsonl", Data: []byte("same content")}}})
	require.NoError(t, err)
	assert.Equal(t, 0, second.FilesUploaded)
	assert.Equal(t, 1, second.FilesSkipped)
	assert.True(t, second.Success)
}

func TestCloudSyncDeduplicationDisabled(t *testing.T) {
	cfg := cloudTestConfig()
	cfg.EnableDeduplication = false
	store := newFakeStore()
	method := NewCloudMethod(cfg, store)
	ctx := context.Background()

	batch := Batch{Files: []File{{Name: "export.jsonl", Data: []byte("same content")}}}
	first, err := method.Sync(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, first.FilesUploaded)

	second, err := method.Sync(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, second.FilesUploaded)
	assert.Equal(t, 0, second.FilesSkipped)

	for key := range store.objects {
		assert.NotContains(t, key, "/seen/", key)
	}
}

func TestCloudSyncRetriesTransientFailures(t *testing.T) {
	store := newFakeStore()
	store.failPuts = 2
	method := NewCloudMethod(cloudTestConfig(), store)

	result, err := method.Sync(context.Background(), Batch{Files: []File{{Name: "f", Data: []byte("x")}}})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestCloudSyncExhaustedRetries(t *testing.T) {
	cfg := cloudTestConfig()
	cfg.MaxRetries = 1
	store := newFakeStore()
	store.failPuts = 10
	method := NewCloudMethod(cfg, store)

	result, err := method.Sync(context.Background(), Batch{Files: []File{{Name: "f", Data: []byte("x")}}})
	require.Error(t, err)
	var uploadErr *CloudUploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, "memories", uploadErr.Bucket)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestCloudAvailable(t *testing.T) {
	cfg := cloudTestConfig()
	assert.True(t, NewCloudMethod(cfg, newFakeStore()).Available(context.Background()))
	assert.False(t, NewCloudMethod(cfg, nil).Available(context.Background()))

	cfg.BucketName = ""
	assert.False(t, NewCloudMethod(cfg, newFakeStore()).Available(context.Background()))
}
