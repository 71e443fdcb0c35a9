// Package config holds every design constant §4–§6 require exposed as
// configuration rather than hard-coded: conflict windows, auto-resolution
// window, chunking, retry/backoff, journal retention, polling cadence, and
// the default manual-fallback strategy. Structs carry yaml tags matching
// the teacher's pkg/config/config.go convention (json+yaml on every field),
// loaded with gopkg.in/yaml.v3 and overridable by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// DefaultStrategy names a fallback strategy for conflicts that automatic
// field-policy resolution cannot settle (§6). It is loaded into Config,
// but no component reads it: such conflicts are always deferred to manual
// resolution.
type DefaultStrategy string

const (
	StrategyServerWins    DefaultStrategy = "server_wins"
	StrategyLocalWins     DefaultStrategy = "local_wins"
	StrategyLatestWins    DefaultStrategy = "latest_wins"
	StrategyFieldLevel    DefaultStrategy = "field_level_merge"
	StrategyManual        DefaultStrategy = "manual"
)

// JournalBackend selects where the L7 resolution journal is persisted.
type JournalBackend string

const (
	JournalBackendMemory   JournalBackend = "memory"
	JournalBackendPostgres JournalBackend = "postgres"
)

// Config is the full set of tunables this core's layers consume. Every
// field here corresponds to one of §6's enumerated configuration options.
type Config struct {
	// CRDTMetadata conflict window (§4.1).
	ConflictVersionWindow uint64        `json:"conflict_version_window" yaml:"conflict_version_window"`
	ConflictWindowSeconds time.Duration `json:"conflict_window_seconds" yaml:"conflict_window_seconds"`

	// ConflictResolver (§4.3).
	AutoResolutionWindow time.Duration   `json:"auto_resolution_window" yaml:"auto_resolution_window"`
	DefaultStrategy      DefaultStrategy `json:"default_strategy" yaml:"default_strategy"`

	// SyncEngine (§4.4).
	RecordsPerChunk   int           `json:"records_per_chunk" yaml:"records_per_chunk"`
	BaseRetryDelay    time.Duration `json:"base_retry_delay" yaml:"base_retry_delay"`
	MaxRetryDelay     time.Duration `json:"max_retry_delay" yaml:"max_retry_delay"`
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	OperationTimeout  time.Duration `json:"operation_timeout" yaml:"operation_timeout"`

	// AdaptiveMonitor (§4.5).
	ActiveInterval time.Duration `json:"active_interval" yaml:"active_interval"`
	IdleInterval   time.Duration `json:"idle_interval" yaml:"idle_interval"`

	// ResolutionJournal (§4.6).
	JournalRetentionPerRecord int            `json:"journal_retention_per_record" yaml:"journal_retention_per_record"`
	JournalBackend            JournalBackend `json:"journal_backend" yaml:"journal_backend"`

	ZoneID string `json:"zone_id" yaml:"zone_id"`

	// HTTP ops surface (§4.12).
	HTTPListenAddr        string   `json:"http_listen_addr" yaml:"http_listen_addr"`
	HTTPJWTSecret         string   `json:"http_jwt_secret" yaml:"http_jwt_secret"`
	HTTPAllowedOrigins    []string `json:"http_allowed_origins" yaml:"http_allowed_origins"`
	HTTPAdminUser         string   `json:"http_admin_user" yaml:"http_admin_user"`
	HTTPAdminPasswordHash string   `json:"http_admin_password_hash" yaml:"http_admin_password_hash"`
}

// HashPassword bcrypt-hashes a plaintext operator password for storage in
// HTTPAdminPasswordHash, matching the teacher's pkg/security/security.go
// GenerateFromPassword/CompareHashAndPassword convention.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Default returns the literal defaults named throughout spec.md (§4.1,
// §4.3, §4.4, §4.5, §4.6, §6).
func Default() Config {
	return Config{
		ConflictVersionWindow: 2,
		ConflictWindowSeconds: 30 * time.Second,

		AutoResolutionWindow: 300 * time.Second,
		DefaultStrategy:      StrategyManual,

		RecordsPerChunk:  400,
		BaseRetryDelay:   time.Second,
		MaxRetryDelay:    300 * time.Second,
		MaxRetries:       5,
		OperationTimeout: 30 * time.Second,

		ActiveInterval: 2 * time.Second,
		IdleInterval:   30 * time.Second,

		JournalRetentionPerRecord: 10,
		JournalBackend:            JournalBackendMemory,

		ZoneID: "default",

		HTTPListenAddr:     ":8089",
		HTTPAllowedOrigins: []string{"*"},
	}
}

// Load reads a yaml config file at path (if it exists) layered over
// Default(), then applies environment-variable overrides, matching the
// teacher's layered env-then-struct-default convention in
// pkg/config/config.go (here extended with an actual file layer since this
// core, unlike the teacher's root package, ships one).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := envDuration("CORPUS_SYNC_CONFLICT_WINDOW_SECONDS"); ok {
		cfg.ConflictWindowSeconds = v
	}
	if v, ok := envUint64("CORPUS_SYNC_CONFLICT_VERSION_WINDOW"); ok {
		cfg.ConflictVersionWindow = v
	}
	if v, ok := envDuration("CORPUS_SYNC_AUTO_RESOLUTION_WINDOW"); ok {
		cfg.AutoResolutionWindow = v
	}
	if v, ok := os.LookupEnv("CORPUS_SYNC_DEFAULT_STRATEGY"); ok {
		cfg.DefaultStrategy = DefaultStrategy(v)
	}
	if v, ok := envInt("CORPUS_SYNC_RECORDS_PER_CHUNK"); ok {
		cfg.RecordsPerChunk = v
	}
	if v, ok := envDuration("CORPUS_SYNC_BASE_RETRY_DELAY"); ok {
		cfg.BaseRetryDelay = v
	}
	if v, ok := envDuration("CORPUS_SYNC_MAX_RETRY_DELAY"); ok {
		cfg.MaxRetryDelay = v
	}
	if v, ok := envInt("CORPUS_SYNC_MAX_RETRIES"); ok {
		cfg.MaxRetries = v
	}
	if v, ok := envDuration("CORPUS_SYNC_ACTIVE_INTERVAL"); ok {
		cfg.ActiveInterval = v
	}
	if v, ok := envDuration("CORPUS_SYNC_IDLE_INTERVAL"); ok {
		cfg.IdleInterval = v
	}
	if v, ok := envInt("CORPUS_SYNC_JOURNAL_RETENTION_PER_RECORD"); ok {
		cfg.JournalRetentionPerRecord = v
	}
	if v, ok := os.LookupEnv("CORPUS_SYNC_JOURNAL_BACKEND"); ok {
		cfg.JournalBackend = JournalBackend(v)
	}
	if v, ok := os.LookupEnv("CORPUS_SYNC_ZONE_ID"); ok {
		cfg.ZoneID = v
	}
	if v, ok := os.LookupEnv("CORPUS_SYNC_HTTP_LISTEN_ADDR"); ok {
		cfg.HTTPListenAddr = v
	}
	if v, ok := os.LookupEnv("CORPUS_SYNC_HTTP_JWT_SECRET"); ok {
		cfg.HTTPJWTSecret = v
	}
	if v, ok := os.LookupEnv("CORPUS_SYNC_HTTP_ADMIN_USER"); ok {
		cfg.HTTPAdminUser = v
	}
	if v, ok := os.LookupEnv("CORPUS_SYNC_HTTP_ADMIN_PASSWORD_HASH"); ok {
		cfg.HTTPAdminPasswordHash = v
	}
}

func envDuration(key string) (time.Duration, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envUint64(key string) (uint64, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
