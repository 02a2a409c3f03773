// Package memory implements the layered memory store: conversations,
// reflections, and insights persisted in SQLite with optional embeddings
// for semantic search and MinHash fingerprints for content deduplication.
//
// Insights share the reflections table; a row is an insight iff its
// insight_type column is non-null.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DefaultCollection is used when no collection name is configured.
const DefaultCollection = "default"

// DefaultEmbeddingDim matches the default embedder model output width.
const DefaultEmbeddingDim = 384

var (
	// ErrInvalidCollection is returned for collection names outside the
	// identifier allow-list. Physical table names embed the collection name,
	// so this check is the gate on SQL identifier interpolation.
	ErrInvalidCollection = errors.New("invalid collection name")
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// collectionNameRe is the strict identifier allow-list.
var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Embedder produces normalized fixed-dimension vectors for text. A nil
// Embedder downgrades all similarity queries to text search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Config holds store open-time options.
type Config struct {
	DatabasePath string
	Collection   string
	EmbeddingDim int
	// EnableVSS turns vector-similarity ordering on. When off, searches use
	// the text path even if an embedder is present.
	EnableVSS bool
	// EnableEmbeddings must be set for Embedder to be used; off, writes skip
	// embedding generation entirely.
	EnableEmbeddings bool
	Embedder         Embedder // nil means no embeddings
}

// Store is the memory store for one collection. A single connection is held
// for the collection and serialized by a mutex; SQLite works best with one
// writer.
type Store struct {
	mu         sync.Mutex
	db         *sql.DB
	dbPath     string
	collection string
	dim        int
	enableVSS  bool
	embedder   Embedder
	closed     bool
}

// ValidateCollectionName rejects any name outside [A-Za-z0-9_]+.
func ValidateCollectionName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// Open opens (or creates) the store for a collection and runs the idempotent
// schema migration.
func Open(cfg Config) (*Store, error) {
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	dim := cfg.EmbeddingDim
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	embedder := cfg.Embedder
	if !cfg.EnableEmbeddings {
		embedder = nil
	}
	if embedder != nil && embedder.Dim() != dim {
		return nil, fmt.Errorf("embedder dimension %d does not match configured dimension %d", embedder.Dim(), dim)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := cfg.DatabasePath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:         db,
		dbPath:     cfg.DatabasePath,
		collection: collection,
		dim:        dim,
		enableVSS:  cfg.EnableVSS,
		embedder:   embedder,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().
		Str("path", cfg.DatabasePath).
		Str("collection", collection).
		Int("dim", dim).
		Bool("embeddings", embedder != nil).
		Msg("Memory store opened")
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Collection returns the collection name this store was opened with.
func (s *Store) Collection() string { return s.collection }

// FlushWAL checkpoints the write-ahead log into the main database file so a
// file-level copy of it is complete.
func (s *Store) FlushWAL(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpoint wal: %w", err)
	}
	return nil
}

func (s *Store) conversationsTable() string { return s.collection + "_conversations" }
func (s *Store) reflectionsTable() string   { return s.collection + "_reflections" }
func (s *Store) codeGraphsTable() string    { return s.collection + "_code_graphs" }

// migrate creates the collection tables and upgrades older databases in
// place. Every statement is safe to re-run; ALTER TABLE failures for columns
// that already exist are swallowed.
func (s *Store) migrate() error {
	conv := s.conversationsTable()
	refl := s.reflectionsTable()
	graphs := s.codeGraphsTable()

	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			embedding BLOB,
			fingerprint BLOB
		)`, conv),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			embedding BLOB,
			fingerprint BLOB
		)`, refl),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			repo_path TEXT NOT NULL,
			commit_hash TEXT NOT NULL,
			indexed_at TEXT NOT NULL,
			nodes_count INTEGER NOT NULL DEFAULT 0,
			graph_data TEXT NOT NULL DEFAULT '{}',
			metadata TEXT NOT NULL DEFAULT '{}'
		)`, graphs),
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}

	// Insight columns arrived after the original reflections schema; older
	// databases gain them on open.
	alters := []string{
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN insight_type TEXT`, refl),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN usage_count INTEGER NOT NULL DEFAULT 0`, refl),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN last_used_at TEXT`, refl),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN confidence_score REAL NOT NULL DEFAULT 0.5`, refl),
	}
	for _, stmt := range alters {
		if _, err := s.db.Exec(stmt); err != nil && !isDuplicateColumnErr(err) {
			return fmt.Errorf("migrate insight columns: %w", err)
		}
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at)`, conv, conv),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at)`, refl, refl),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_insight_type ON %s (insight_type)`, refl, refl),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_usage_count ON %s (usage_count)`, refl, refl),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_last_used_at ON %s (last_used_at)`, refl, refl),
	}
	for _, stmt := range indexes {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate indexes: %w", err)
		}
	}
	return nil
}

func isDuplicateColumnErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column")
}

func (s *Store) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// embed produces an embedding for text, or nil when no embedder is
// configured. Embedder failures degrade to nil rather than failing the write.
func (s *Store) embed(ctx context.Context, text string) []byte {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("Embedder unavailable, storing without embedding")
		return nil
	}
	if len(vec) != s.dim {
		log.Warn().Int("got", len(vec)).Int("want", s.dim).Msg("Embedder returned wrong dimension, dropping vector")
		return nil
	}
	return encodeVector(vec)
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
