// Package akosha syncs exported memories to an Akosha aggregation backend.
// Two transports exist: direct object-store upload (cloud) and a local MCP
// HTTP endpoint. The hybrid orchestrator tries them in priority order.
package akosha

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

// ForceMethod values. Empty (or "auto") means automatic selection.
const (
	MethodAuto  = "auto"
	MethodCloud = "cloud"
	MethodHTTP  = "http"
)

// DefaultHTTPURL is the local MCP endpoint tried when none is configured.
const DefaultHTTPURL = "http://localhost:8682/mcp"

var (
	ErrSyncDisabled = errors.New("akosha sync is disabled")

	// S3 bucket naming rules, the subset that matters here: 3-63 chars,
	// lowercase letters, digits, dots and hyphens, alphanumeric at the edges.
	bucketNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
)

// Config controls the sync layer. Zero value is a disabled sync.
type Config struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ForceMethod string `yaml:"force_method" json:"force_method"`

	// Cloud transport.
	BucketName  string `yaml:"bucket_name" json:"bucket_name"`
	EndpointURL string `yaml:"endpoint_url" json:"endpoint_url"`
	Region      string `yaml:"region" json:"region"`
	// Static credentials for S3-compatible backends. When unset the ambient
	// AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`

	// HTTP transport.
	HTTPURL string `yaml:"http_url" json:"http_url"`

	// SystemID names this machine in the upload layout. Defaults to the
	// hostname.
	SystemID string `yaml:"system_id" json:"system_id"`

	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	Compress     bool          `yaml:"compress" json:"compress"`

	// EnableFallback lets the orchestrator try the next transport when the
	// preferred one fails. Off, only the first configured transport runs.
	EnableFallback bool `yaml:"enable_fallback" json:"enable_fallback"`
	// UploadOnSessionEnd triggers a sync automatically when a session ends.
	UploadOnSessionEnd bool `yaml:"upload_on_session_end" json:"upload_on_session_end"`
	// UploadTimeoutSeconds bounds each transport attempt.
	UploadTimeoutSeconds int `yaml:"upload_timeout_seconds" json:"upload_timeout_seconds"`
	// EnableDeduplication skips uploads whose content hash was already seen.
	EnableDeduplication bool `yaml:"enable_deduplication" json:"enable_deduplication"`
	// ChunkSizeMB is the part size for multipart object uploads.
	ChunkSizeMB int `yaml:"chunk_size_mb" json:"chunk_size_mb"`
}

// DefaultConfig returns a disabled config with sane transport defaults.
func DefaultConfig() Config {
	return Config{
		HTTPURL:              DefaultHTTPURL,
		Region:               "us-east-1",
		MaxRetries:           3,
		RetryBackoff:         time.Second,
		Compress:             true,
		EnableFallback:       true,
		UploadOnSessionEnd:   true,
		UploadTimeoutSeconds: 300,
		EnableDeduplication:  true,
		ChunkSizeMB:          100,
	}
}

// UploadTimeout returns the per-attempt bound as a duration, zero when
// unbounded.
func (c Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutSeconds) * time.Second
}

// Normalize fills defaulted fields in place.
func (c *Config) Normalize() {
	if strings.EqualFold(c.ForceMethod, MethodAuto) {
		c.ForceMethod = ""
	}
	if c.HTTPURL == "" {
		c.HTTPURL = DefaultHTTPURL
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.SystemID == "" {
		c.SystemID = defaultSystemID()
	}
	if c.UploadTimeoutSeconds < 0 {
		c.UploadTimeoutSeconds = 0
	}
	if c.ChunkSizeMB <= 0 {
		c.ChunkSizeMB = 100
	}
}

// Validate checks the configuration. Call Normalize first.
func (c Config) Validate() error {
	switch c.ForceMethod {
	case "", MethodCloud, MethodHTTP:
	default:
		return fmt.Errorf("force_method must be %q, %q or %q, got %q", MethodAuto, MethodCloud, MethodHTTP, c.ForceMethod)
	}
	if c.ForceMethod == MethodCloud && c.BucketName == "" {
		return errors.New("force_method cloud requires bucket_name")
	}
	if c.BucketName != "" && !bucketNameRe.MatchString(c.BucketName) {
		return fmt.Errorf("invalid bucket name %q", c.BucketName)
	}
	if c.EndpointURL != "" {
		u, err := url.Parse(c.EndpointURL)
		if err != nil {
			return fmt.Errorf("invalid endpoint_url: %w", err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("endpoint_url must use https, got %q", c.EndpointURL)
		}
	}
	if c.HTTPURL != "" {
		if _, err := url.Parse(c.HTTPURL); err != nil {
			return fmt.Errorf("invalid http_url: %w", err)
		}
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("access_key_id and secret_access_key must be set together")
	}
	return nil
}

// CloudConfigured reports whether the cloud transport has enough
// configuration to attempt an upload.
func (c Config) CloudConfigured() bool { return c.BucketName != "" }

func defaultSystemID() string {
	for _, env := range []string{"HOSTNAME", "COMPUTERNAME"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown-system"
}
