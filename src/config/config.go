package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"

	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Backend names accepted by the graph and vector services.
const (
	BackendMemory   = "memory"
	BackendNeo4j    = "neo4j"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendChromem  = "chromem"
	BackendQdrant   = "qdrant"
	BackendMongoDB  = "mongodb"
)

// GraphBackends lists the graph storage variants.
var GraphBackends = []string{BackendMemory, BackendNeo4j, BackendPostgres}

// VectorBackends lists the vector storage variants.
var VectorBackends = []string{BackendMemory, BackendSQLite, BackendChromem, BackendQdrant, BackendPostgres, BackendMongoDB}

// Config holds every setting of one Locrit memory instance.
type Config struct {
	Agent      AgentConfig      `json:"agent" mapstructure:"agent"`
	Vector     VectorConfig     `json:"vector" mapstructure:"vector"`
	Graph      GraphConfig      `json:"graph" mapstructure:"graph"`
	Updates    UpdatesConfig    `json:"updates" mapstructure:"updates"`
	Retention  RetentionConfig  `json:"retention" mapstructure:"retention"`
	Embedding  EmbeddingConfig  `json:"embedding" mapstructure:"embedding"`
	Completion CompletionConfig `json:"completion" mapstructure:"completion"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	mu         sync.RWMutex
}

type AgentConfig struct {
	ID      string `json:"id" mapstructure:"id" env:"LOCRIT_AGENT_ID"`
	Name    string `json:"name" mapstructure:"name" env:"LOCRIT_AGENT_NAME"`
	DataDir string `json:"data_dir" mapstructure:"data_dir" env:"LOCRIT_DATA_DIR"`
}

type VectorConfig struct {
	Enabled             bool    `json:"enabled" mapstructure:"enabled" env:"LOCRIT_VECTOR_ENABLED"`
	Dimension           int     `json:"dimension" mapstructure:"dimension" env:"LOCRIT_VECTOR_DIMENSION"`
	SimilarityThreshold float64 `json:"similarity_threshold" mapstructure:"similarity_threshold" env:"LOCRIT_VECTOR_SIMILARITY_THRESHOLD"`
	MaxMemories         int     `json:"max_memories" mapstructure:"max_memories" env:"LOCRIT_VECTOR_MAX_MEMORIES"`
	CleanupThreshold    float64 `json:"cleanup_threshold" mapstructure:"cleanup_threshold" env:"LOCRIT_VECTOR_CLEANUP_THRESHOLD"`
	Backend             string  `json:"backend" mapstructure:"backend" env:"LOCRIT_VECTOR_BACKEND"`
	Catalog             string  `json:"catalog" mapstructure:"catalog" env:"LOCRIT_VECTOR_CATALOG"`
	URL                 string  `json:"url" mapstructure:"url" env:"LOCRIT_VECTOR_URL"`
	APIKey              string  `json:"api_key" mapstructure:"api_key" env:"LOCRIT_VECTOR_API_KEY"`
}

type GraphConfig struct {
	Enabled                    bool    `json:"enabled" mapstructure:"enabled" env:"LOCRIT_GRAPH_ENABLED"`
	MaxConceptsPerMessage      int     `json:"max_concepts_per_message" mapstructure:"max_concepts_per_message" env:"LOCRIT_GRAPH_MAX_CONCEPTS_PER_MESSAGE"`
	ConceptConfidenceThreshold float64 `json:"concept_confidence_threshold" mapstructure:"concept_confidence_threshold" env:"LOCRIT_GRAPH_CONCEPT_CONFIDENCE_THRESHOLD"`
	MaxRelationshipDepth       int     `json:"max_relationship_depth" mapstructure:"max_relationship_depth" env:"LOCRIT_GRAPH_MAX_RELATIONSHIP_DEPTH"`
	Backend                    string  `json:"backend" mapstructure:"backend" env:"LOCRIT_GRAPH_BACKEND"`
	URI                        string  `json:"uri" mapstructure:"uri" env:"LOCRIT_GRAPH_URI"`
	Username                   string  `json:"username" mapstructure:"username" env:"LOCRIT_GRAPH_USERNAME"`
	Password                   string  `json:"password" mapstructure:"password" env:"LOCRIT_GRAPH_PASSWORD"`
	Database                   string  `json:"database" mapstructure:"database" env:"LOCRIT_GRAPH_DATABASE"`
	Snapshot                   bool    `json:"snapshot" mapstructure:"snapshot" env:"LOCRIT_GRAPH_SNAPSHOT"`
}

type UpdatesConfig struct {
	AutoUpdate     bool   `json:"auto_update" mapstructure:"auto_update" env:"LOCRIT_UPDATES_AUTO_UPDATE"`
	UpdateInterval int    `json:"update_interval" mapstructure:"update_interval" env:"LOCRIT_UPDATES_UPDATE_INTERVAL"`
	MaxBatchSize   int    `json:"max_batch_size" mapstructure:"max_batch_size" env:"LOCRIT_UPDATES_MAX_BATCH_SIZE"`
	DrainSchedule  string `json:"drain_schedule" mapstructure:"drain_schedule" env:"LOCRIT_UPDATES_DRAIN_SCHEDULE"`
	Workers        int    `json:"workers" mapstructure:"workers" env:"LOCRIT_UPDATES_WORKERS"`
}

type RetentionConfig struct {
	DefaultRetentionDays    int `json:"default_retention_days" mapstructure:"default_retention_days" env:"LOCRIT_RETENTION_DEFAULT_DAYS"`
	CriticalRetentionDays   int `json:"critical_retention_days" mapstructure:"critical_retention_days" env:"LOCRIT_RETENTION_CRITICAL_DAYS"`
	EphemeralRetentionHours int `json:"ephemeral_retention_hours" mapstructure:"ephemeral_retention_hours" env:"LOCRIT_RETENTION_EPHEMERAL_HOURS"`
}

type EmbeddingConfig struct {
	Provider  string        `json:"provider" mapstructure:"provider" env:"LOCRIT_EMBED_PROVIDER"`
	Model     string        `json:"model" mapstructure:"model" env:"LOCRIT_EMBED_MODEL"`
	Endpoint  string        `json:"endpoint" mapstructure:"endpoint" env:"LOCRIT_EMBED_ENDPOINT"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout" env:"LOCRIT_EMBED_TIMEOUT"`
	CacheSize int           `json:"cache_size" mapstructure:"cache_size" env:"LOCRIT_EMBED_CACHE_SIZE"`
}

type CompletionConfig struct {
	Provider  string        `json:"provider" mapstructure:"provider" env:"LOCRIT_COMPLETION_PROVIDER"`
	Model     string        `json:"model" mapstructure:"model" env:"LOCRIT_COMPLETION_MODEL"`
	Endpoint  string        `json:"endpoint" mapstructure:"endpoint" env:"LOCRIT_COMPLETION_ENDPOINT"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout" env:"LOCRIT_COMPLETION_TIMEOUT"`
	MaxTokens int           `json:"max_tokens" mapstructure:"max_tokens" env:"LOCRIT_COMPLETION_MAX_TOKENS"`
}

type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level" env:"LOCRIT_LOG_LEVEL"`
}

// DefaultConfig returns the settings used when no file or environment overrides
// are present.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			ID:      "locrit",
			Name:    "Locrit",
			DataDir: "~/.locrit/data",
		},
		Vector: VectorConfig{
			Enabled:             true,
			Dimension:           384,
			SimilarityThreshold: 0.7,
			MaxMemories:         10000,
			CleanupThreshold:    0.3,
			Backend:             BackendSQLite,
			Catalog:             BackendSQLite,
		},
		Graph: GraphConfig{
			Enabled:                    true,
			MaxConceptsPerMessage:      10,
			ConceptConfidenceThreshold: 0.5,
			MaxRelationshipDepth:       3,
			Backend:                    BackendMemory,
			Snapshot:                   true,
		},
		Updates: UpdatesConfig{
			AutoUpdate:     true,
			UpdateInterval: 10,
			MaxBatchSize:   50,
			DrainSchedule:  "@hourly",
			Workers:        4,
		},
		Retention: RetentionConfig{
			DefaultRetentionDays:    30,
			CriticalRetentionDays:   -1,
			EphemeralRetentionHours: 24,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Timeout:   10 * time.Second,
			CacheSize: 4096,
		},
		Completion: CompletionConfig{
			Provider:  "dummy",
			Timeout:   60 * time.Second,
			MaxTokens: 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and applies LOCRIT_* environment overrides.
// A missing file is not an error. The file format follows its extension (yaml,
// json or toml).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(expandHome(path)); err == nil {
			v := viper.New()
			v.SetConfigFile(expandHome(path))
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			if err := v.Unmarshal(cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config env overrides: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as indented JSON.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Namespace is the sanitized per-agent storage namespace.
func (c *Config) Namespace() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.Namespace(c.Agent.ID)
}

// AgentDir is the directory holding every file-backed store of the agent.
func (c *Config) AgentDir() string {
	c.mu.RLock()
	dir := expandHome(c.Agent.DataDir)
	c.mu.RUnlock()
	return filepath.Join(dir, c.Namespace())
}

// RetentionPolicy converts the retention section into the policy used by the
// memory services.
func (c *Config) RetentionPolicy() model.RetentionPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.RetentionPolicy{
		DefaultDays:    c.Retention.DefaultRetentionDays,
		CriticalDays:   c.Retention.CriticalRetentionDays,
		EphemeralHours: c.Retention.EphemeralRetentionHours,
	}
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
