package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	APIKeyEnv  = "OPENAI_API_KEY"
	BaseURLEnv = "OPENAI_BASE_URL"

	defaultBaseURL           = "https://api.openai.com/v1"
	defaultChatModel         = "gpt-4o-mini"
	defaultVisionModel       = "gpt-4o"
	defaultEmbeddingModel    = "text-embedding-3-small"
	defaultTemperature       = 0.2
	defaultTimeoutSecs       = 60
	defaultRequestsPerSecond = 5.0
	defaultEmbedBatchSize    = 64
	defaultChunkSize         = 1000
	defaultChunkOverlap      = 150
	defaultTopK              = 4
	defaultMaxContextTokens  = 6000
	defaultZoom              = 2.0
	defaultWorkers           = 4
	defaultAddr              = ":8501"
	defaultUploadDir         = "data/uploads"
	defaultMaxUploadMB       = 50
	defaultLogLevel          = "debug"

	HistoryMemory   = "memory"
	HistoryPostgres = "postgres"
)

// ConfigError is a startup-fatal configuration problem.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

type LLMConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Key               string  `yaml:"-" json:"-"`
	ChatModel         string  `yaml:"chat_model"`
	VisionModel       string  `yaml:"vision_model"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	Temperature       float64 `yaml:"temperature"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	EmbedBatchSize    int     `yaml:"embed_batch_size"`
}

type RAGConfig struct {
	ChunkSize        int `yaml:"chunk_size"`
	ChunkOverlap     int `yaml:"chunk_overlap"`
	TopK             int `yaml:"top_k"`
	MaxContextTokens int `yaml:"max_context_tokens"`
}

type EvidenceConfig struct {
	Zoom    float64 `yaml:"zoom"`
	Workers int     `yaml:"workers"`
	Verify  bool    `yaml:"verify"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	UploadDir   string `yaml:"upload_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

const redacted = "xxxxx"

// MarshalJSON masks the DSN password so the config can be logged.
func (d DatabaseConfig) MarshalJSON() ([]byte, error) {
	type plain DatabaseConfig
	p := plain(d)
	p.DSN = redactDSN(d.DSN)
	return json.Marshal(p)
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return redacted
	}
	if q := u.Query(); q.Has("password") {
		q.Set("password", redacted)
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

type HistoryConfig struct {
	Driver   string         `yaml:"driver"`
	Capacity int            `yaml:"capacity"`
	Database DatabaseConfig `yaml:"database"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Evidence EvidenceConfig `yaml:"evidence"`
	Server   ServerConfig   `yaml:"server"`
	History  HistoryConfig  `yaml:"history"`
	Log      LogConfig      `yaml:"log"`
}

// LoadConfig reads the yaml file at path, falling back to defaults when the
// file does not exist, then applies the environment and validates.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:           defaultBaseURL,
			ChatModel:         defaultChatModel,
			VisionModel:       defaultVisionModel,
			EmbeddingModel:    defaultEmbeddingModel,
			Temperature:       defaultTemperature,
			TimeoutSecs:       defaultTimeoutSecs,
			RequestsPerSecond: defaultRequestsPerSecond,
			EmbedBatchSize:    defaultEmbedBatchSize,
		},
		RAG: RAGConfig{
			ChunkSize:        defaultChunkSize,
			ChunkOverlap:     defaultChunkOverlap,
			TopK:             defaultTopK,
			MaxContextTokens: defaultMaxContextTokens,
		},
		Evidence: EvidenceConfig{
			Zoom:    defaultZoom,
			Workers: defaultWorkers,
		},
		Server: ServerConfig{
			Addr:        defaultAddr,
			UploadDir:   defaultUploadDir,
			MaxUploadMB: defaultMaxUploadMB,
		},
		History: HistoryConfig{Driver: HistoryMemory},
		Log:     LogConfig{Level: defaultLogLevel, Console: true},
	}
}

// zero values left by a partial yaml file fall back to defaults
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = d.LLM.BaseURL
	}
	if cfg.LLM.ChatModel == "" {
		cfg.LLM.ChatModel = d.LLM.ChatModel
	}
	if cfg.LLM.VisionModel == "" {
		cfg.LLM.VisionModel = d.LLM.VisionModel
	}
	if cfg.LLM.EmbeddingModel == "" {
		cfg.LLM.EmbeddingModel = d.LLM.EmbeddingModel
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = d.LLM.TimeoutSecs
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = d.LLM.RequestsPerSecond
	}
	if cfg.LLM.EmbedBatchSize == 0 {
		cfg.LLM.EmbedBatchSize = d.LLM.EmbedBatchSize
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = d.RAG.ChunkSize
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = d.RAG.TopK
	}
	if cfg.RAG.MaxContextTokens == 0 {
		cfg.RAG.MaxContextTokens = d.RAG.MaxContextTokens
	}
	if cfg.Evidence.Zoom == 0 {
		cfg.Evidence.Zoom = d.Evidence.Zoom
	}
	if cfg.Evidence.Workers == 0 {
		cfg.Evidence.Workers = d.Evidence.Workers
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = d.Server.UploadDir
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = d.Server.MaxUploadMB
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = d.History.Driver
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
}

func applyEnv(cfg *Config) {
	cfg.LLM.Key = strings.TrimSpace(os.Getenv(APIKeyEnv))
	if base := strings.TrimSpace(os.Getenv(BaseURLEnv)); base != "" {
		cfg.LLM.BaseURL = base
	}
}

// Validate reports the first invalid setting as a *ConfigError.
func (c *Config) Validate() error {
	switch {
	case c.LLM.Key == "":
		return &ConfigError{Field: APIKeyEnv, Reason: "is not set; export it or add it to .env"}
	case c.RAG.ChunkSize <= 0:
		return &ConfigError{Field: "rag.chunk_size", Reason: "must be positive"}
	case c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize:
		return &ConfigError{Field: "rag.chunk_overlap", Reason: "must be in [0, chunk_size)"}
	case c.RAG.TopK <= 0:
		return &ConfigError{Field: "rag.top_k", Reason: "must be positive"}
	case c.Evidence.Zoom <= 0:
		return &ConfigError{Field: "evidence.zoom", Reason: "must be positive"}
	case c.Evidence.Workers < 1:
		return &ConfigError{Field: "evidence.workers", Reason: "must be at least 1"}
	case c.History.Capacity < 0:
		return &ConfigError{Field: "history.capacity", Reason: "must not be negative"}
	}
	switch c.History.Driver {
	case HistoryMemory:
	case HistoryPostgres:
		if c.History.Database.DSN == "" {
			return &ConfigError{Field: "history.database.dsn", Reason: "is required for the postgres driver"}
		}
	default:
		return &ConfigError{Field: "history.driver", Reason: fmt.Sprintf("unknown driver %q", c.History.Driver)}
	}
	return nil
}
