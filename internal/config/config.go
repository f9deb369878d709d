package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains runtime configuration for persona-memory.
type Config struct {
	AgentName string `yaml:"agent_name"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`

	// Tier state machine.
	PromoteImportance    float64 `yaml:"promote_importance"`    // T_ltm
	PromoteReinforcement int     `yaml:"promote_reinforcement"` // R
	DecayTTLHours        int     `yaml:"decay_ttl_hours"`       // short-term lifetime
	LongTermCapacity     int     `yaml:"long_term_capacity"`    // eviction trigger
	EvictionGraceHours   int     `yaml:"eviction_grace_hours"`  // promoted records protected this long

	// Retrieval ranking.
	MatchWeight          float64 `yaml:"match_weight"`
	ImportanceWeight     float64 `yaml:"importance_weight"`
	RecencyWeight        float64 `yaml:"recency_weight"`
	RecencyHalfLifeHours int     `yaml:"recency_half_life_hours"`
	DefaultRetrieveLimit int     `yaml:"default_retrieve_limit"`

	// Association + consolidation thresholds.
	LinkJaccard     float64 `yaml:"link_jaccard"`
	MergeSimilarity float64 `yaml:"merge_similarity"`
	MaxAssociations int     `yaml:"max_associations"`

	// Ingestion limits.
	MaxContentLength int `yaml:"max_content_length"`

	// Persistence retry policy.
	RetryAttempts  int `yaml:"retry_attempts"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`

	// Record read cache.
	CacheMaxRecords int64 `yaml:"cache_max_records"`
}

// Default returns a Config populated with safe defaults.
func Default() Config {
	return Config{
		AgentName:            "persona-memory",
		DBPath:               filepath.Join(userHomeDir(), ".persona-memory", "memories.db"),
		LogLevel:             "info",
		PromoteImportance:    0.7,
		PromoteReinforcement: 3,
		DecayTTLHours:        24 * 7,
		LongTermCapacity:     500,
		EvictionGraceHours:   24,
		MatchWeight:          0.5,
		ImportanceWeight:     0.3,
		RecencyWeight:        0.2,
		RecencyHalfLifeHours: 24 * 7,
		DefaultRetrieveLimit: 10,
		LinkJaccard:          0.3,
		MergeSimilarity:      0.85,
		MaxAssociations:      10,
		MaxContentLength:     4000,
		RetryAttempts:        3,
		RetryBackoffMS:       50,
		CacheMaxRecords:      4096,
	}
}

// Load loads config from disk; if path does not exist, default config is returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.AgentName == "" {
		return errors.New("agent_name must not be empty")
	}
	if c.DBPath == "" {
		return errors.New("db_path must not be empty")
	}
	if c.PromoteImportance <= 0 || c.PromoteImportance > 1 {
		return errors.New("promote_importance must be in (0,1]")
	}
	if c.PromoteReinforcement <= 0 {
		return errors.New("promote_reinforcement must be > 0")
	}
	if c.DecayTTLHours <= 0 {
		return errors.New("decay_ttl_hours must be > 0")
	}
	if c.LongTermCapacity <= 0 {
		return errors.New("long_term_capacity must be > 0")
	}
	if c.EvictionGraceHours < 0 {
		return errors.New("eviction_grace_hours must be >= 0")
	}
	sum := c.MatchWeight + c.ImportanceWeight + c.RecencyWeight
	if sum <= 0 {
		return errors.New("ranking weights must sum to a positive value")
	}
	if c.RecencyHalfLifeHours <= 0 {
		return errors.New("recency_half_life_hours must be > 0")
	}
	if c.DefaultRetrieveLimit <= 0 {
		return errors.New("default_retrieve_limit must be > 0")
	}
	if c.LinkJaccard <= 0 || c.LinkJaccard > 1 {
		return errors.New("link_jaccard must be in (0,1]")
	}
	if c.MergeSimilarity <= 0 || c.MergeSimilarity > 1 {
		return errors.New("merge_similarity must be in (0,1]")
	}
	if c.MaxAssociations <= 0 {
		return errors.New("max_associations must be > 0")
	}
	if c.MaxContentLength <= 0 {
		return errors.New("max_content_length must be > 0")
	}
	if c.RetryAttempts <= 0 {
		return errors.New("retry_attempts must be > 0")
	}
	if c.RetryBackoffMS <= 0 {
		return errors.New("retry_backoff_ms must be > 0")
	}
	if c.CacheMaxRecords <= 0 {
		return errors.New("cache_max_records must be > 0")
	}
	return nil
}

// EnsurePaths creates parent directories for config-managed paths.
func (c *Config) EnsurePaths() error {
	c.DBPath = ExpandPath(c.DBPath)
	parent := filepath.Dir(c.DBPath)
	if parent == "." {
		return nil
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create db parent dir: %w", err)
	}
	return nil
}

// DecayTTL returns the short-term lifetime as a duration.
func (c Config) DecayTTL() time.Duration {
	return time.Duration(c.DecayTTLHours) * time.Hour
}

// RecencyHalfLife returns the ranking half-life as a duration.
func (c Config) RecencyHalfLife() time.Duration {
	return time.Duration(c.RecencyHalfLifeHours) * time.Hour
}

// EvictionGrace returns the post-promotion protection window.
func (c Config) EvictionGrace() time.Duration {
	return time.Duration(c.EvictionGraceHours) * time.Hour
}

// RetryBackoff returns the base retry backoff.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// ExpandPath expands "~/" to the current user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" {
		return userHomeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(userHomeDir(), p[2:])
	}
	return p
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
