// Package config loads session-buddy settings. Precedence is defaults,
// then the YAML file, then SESSION_BUDDY_* environment variables. A .env
// file next to the working directory is honored for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sessionbuddy/sessionbuddy/internal/akosha"
	"github.com/sessionbuddy/sessionbuddy/internal/evolution"
	"github.com/sessionbuddy/sessionbuddy/internal/gitops"
)

// envPrefix namespaces every environment override.
const envPrefix = "SESSION_BUDDY_"

// Settings is the full runtime configuration.
type Settings struct {
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	DatabasePath string `yaml:"database_path" json:"database_path"`
	Collection   string `yaml:"collection" json:"collection"`
	EmbeddingDim int    `yaml:"embedding_dim" json:"embedding_dim"`
	EnableVSS    bool   `yaml:"enable_vss" json:"enable_vss"`
	// EnableEmbeddings turns embedding generation on for stored content.
	// Off, the store falls back to text search.
	EnableEmbeddings bool `yaml:"enable_embeddings" json:"enable_embeddings"`

	AutoCheckpoint bool   `yaml:"auto_checkpoint" json:"auto_checkpoint"`
	GCPruneDelay   string `yaml:"gc_prune_delay" json:"gc_prune_delay"`

	PoolSelector string        `yaml:"pool_selector" json:"pool_selector"`
	TaskTimeout  time.Duration `yaml:"task_timeout" json:"task_timeout"`
	// TaskCommand is the external command delegated tasks run through,
	// e.g. ["claude", "-p"]. Empty disables delegated execution.
	TaskCommand []string `yaml:"task_command" json:"task_command"`

	Akosha    akosha.Config    `yaml:"akosha" json:"akosha"`
	Evolution evolution.Config `yaml:"evolution" json:"evolution"`
}

// Default returns the built-in settings.
func Default() Settings {
	home, _ := os.UserHomeDir()
	return Settings{
		LogLevel:       "info",
		LogFormat:      "auto",
		DatabasePath:     filepath.Join(home, ".session-buddy", "memory.db"),
		Collection:       "default",
		EmbeddingDim:     384,
		EnableEmbeddings: true,
		AutoCheckpoint:   true,
		GCPruneDelay:   "2.weeks",
		PoolSelector:   "least_loaded",
		TaskTimeout:    5 * time.Minute,
		Akosha:         akosha.DefaultConfig(),
		Evolution:      evolution.DefaultConfig(),
	}
}

// Load reads settings from path (missing file is fine), applies environment
// overrides and validates. An empty path skips the file stage.
func Load(path string) (Settings, error) {
	// Local .env files are a development convenience; absence is normal.
	_ = godotenv.Load()

	settings := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debug().Str("path", path).Msg("No config file, using defaults")
		case err != nil:
			return settings, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &settings); err != nil {
				return settings, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&settings)
	settings.Akosha.Normalize()
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

func applyEnv(s *Settings) {
	setString(&s.LogLevel, "LOG_LEVEL")
	setString(&s.LogFormat, "LOG_FORMAT")
	setString(&s.DatabasePath, "DB_PATH")
	setString(&s.Collection, "COLLECTION")
	setInt(&s.EmbeddingDim, "EMBEDDING_DIM")
	setBool(&s.EnableVSS, "ENABLE_VSS")
	setBool(&s.EnableEmbeddings, "ENABLE_EMBEDDINGS")
	setBool(&s.AutoCheckpoint, "AUTO_CHECKPOINT")
	setString(&s.GCPruneDelay, "GC_PRUNE_DELAY")
	setString(&s.PoolSelector, "POOL_SELECTOR")
	setDuration(&s.TaskTimeout, "TASK_TIMEOUT")
	if v, ok := os.LookupEnv(envPrefix + "TASK_COMMAND"); ok {
		s.TaskCommand = strings.Fields(v)
	}

	setBool(&s.Akosha.Enabled, "AKOSHA_ENABLED")
	setString(&s.Akosha.ForceMethod, "AKOSHA_FORCE_METHOD")
	setString(&s.Akosha.BucketName, "AKOSHA_BUCKET")
	setString(&s.Akosha.EndpointURL, "AKOSHA_ENDPOINT_URL")
	setString(&s.Akosha.Region, "AKOSHA_REGION")
	setString(&s.Akosha.AccessKeyID, "AKOSHA_ACCESS_KEY_ID")
	setString(&s.Akosha.SecretAccessKey, "AKOSHA_SECRET_ACCESS_KEY")
	setString(&s.Akosha.HTTPURL, "AKOSHA_HTTP_URL")
	setString(&s.Akosha.SystemID, "SYSTEM_ID")
	setInt(&s.Akosha.MaxRetries, "AKOSHA_MAX_RETRIES")
	setBool(&s.Akosha.Compress, "AKOSHA_COMPRESS")
	setBool(&s.Akosha.EnableFallback, "AKOSHA_ENABLE_FALLBACK")
	setBool(&s.Akosha.UploadOnSessionEnd, "AKOSHA_UPLOAD_ON_SESSION_END")
	setInt(&s.Akosha.UploadTimeoutSeconds, "AKOSHA_UPLOAD_TIMEOUT_SECONDS")
	setBool(&s.Akosha.EnableDeduplication, "AKOSHA_ENABLE_DEDUPLICATION")
	setInt(&s.Akosha.ChunkSizeMB, "AKOSHA_CHUNK_SIZE_MB")

	setInt(&s.Evolution.MaxClusters, "EVOLUTION_MAX_CLUSTERS")
	setInt(&s.Evolution.MinClusterSize, "EVOLUTION_MIN_CLUSTER_SIZE")
	setFloat(&s.Evolution.SimilarityThreshold, "EVOLUTION_SIMILARITY_THRESHOLD")
	setInt(&s.Evolution.ArchiveAfterDays, "EVOLUTION_ARCHIVE_AFTER_DAYS")
	setInt(&s.Evolution.DeleteAfterDays, "EVOLUTION_DELETE_AFTER_DAYS")
}

// Validate cross-checks the composite settings.
func (s Settings) Validate() error {
	switch s.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of trace/debug/info/warn/error, got %q", s.LogLevel)
	}
	switch s.LogFormat {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("log_format must be auto, console or json, got %q", s.LogFormat)
	}
	if s.DatabasePath == "" {
		return errors.New("database_path must not be empty")
	}
	if s.EmbeddingDim < 0 {
		return fmt.Errorf("embedding_dim must not be negative, got %d", s.EmbeddingDim)
	}
	if s.GCPruneDelay != "" {
		if err := gitops.ValidatePruneDelay(s.GCPruneDelay); err != nil {
			return fmt.Errorf("gc_prune_delay: %w", err)
		}
	}
	switch s.PoolSelector {
	case "least_loaded", "round_robin", "random":
	default:
		return fmt.Errorf("pool_selector must be least_loaded, round_robin or random, got %q", s.PoolSelector)
	}
	if s.TaskTimeout <= 0 {
		return errors.New("task_timeout must be positive")
	}
	if err := s.Akosha.Validate(); err != nil {
		return fmt.Errorf("akosha: %w", err)
	}
	if err := s.Evolution.Validate(); err != nil {
		return fmt.Errorf("evolution: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		} else {
			log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring non-integer override")
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		} else {
			log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring non-numeric override")
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		} else {
			log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring non-boolean override")
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			*dst = d
		} else {
			log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring non-duration override")
		}
	}
}
