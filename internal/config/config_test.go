package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "sk-test")
		t.Setenv(BaseURLEnv, "")

		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "sk-test", cfg.LLM.Key)
		assert.Equal(t, defaultChatModel, cfg.LLM.ChatModel)
		assert.Equal(t, defaultVisionModel, cfg.LLM.VisionModel)
		assert.Equal(t, 1000, cfg.RAG.ChunkSize)
		assert.Equal(t, 150, cfg.RAG.ChunkOverlap)
		assert.Equal(t, 4, cfg.RAG.TopK)
		assert.Equal(t, 2.0, cfg.Evidence.Zoom)
		assert.Equal(t, HistoryMemory, cfg.History.Driver)
	})

	t.Run("partial file keeps other defaults", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "sk-test")
		t.Setenv(BaseURLEnv, "")
		path := writeConfig(t, "rag:\n  top_k: 2\nevidence:\n  workers: 8\n")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.RAG.TopK)
		assert.Equal(t, 8, cfg.Evidence.Workers)
		assert.Equal(t, 1000, cfg.RAG.ChunkSize)
		assert.Equal(t, defaultBaseURL, cfg.LLM.BaseURL)
	})

	t.Run("base url env overrides file", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "sk-test")
		t.Setenv(BaseURLEnv, "http://localhost:11434/v1")
		path := writeConfig(t, "llm:\n  base_url: https://example.invalid/v1\n")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	})

	t.Run("missing key is a config error", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "")

		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		var cerr *ConfigError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, APIKeyEnv, cerr.Field)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Setenv(APIKeyEnv, "sk-test")
		path := writeConfig(t, "rag: [not, a, map")

		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.LLM.Key = "sk-test"
		return cfg
	}

	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"rag.chunk_overlap":    func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize },
		"rag.top_k":            func(c *Config) { c.RAG.TopK = 0 },
		"evidence.zoom":        func(c *Config) { c.Evidence.Zoom = -1 },
		"evidence.workers":     func(c *Config) { c.Evidence.Workers = 0 },
		"history.capacity":     func(c *Config) { c.History.Capacity = -3 },
		"history.driver":       func(c *Config) { c.History.Driver = "redis" },
		"history.database.dsn": func(c *Config) { c.History.Driver = HistoryPostgres },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			var cerr *ConfigError
			require.True(t, errors.As(cfg.Validate(), &cerr))
			assert.Equal(t, field, cerr.Field)
		})
	}
}

func TestLoggedConfigHidesSecrets(t *testing.T) {
	t.Setenv(APIKeyEnv, "sk-live-secret")
	t.Setenv(BaseURLEnv, "")
	path := writeConfig(t, "history:\n  driver: postgres\n  database:\n    dsn: postgres://rag:hunter2@db:5432/rag?sslmode=disable\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "sk-live-secret", cfg.LLM.Key)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Debug().Interface("config", cfg).Msg("Loaded config")
	out := buf.String()
	assert.NotContains(t, out, "sk-live-secret")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "rag:xxxxx@db:5432")
	assert.Contains(t, out, "gpt-4o")
}

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"", ""},
		{"postgres://rag@db/rag", "postgres://rag@db/rag"},
		{"postgres://rag:pw@db/rag", "postgres://rag:xxxxx@db/rag"},
		{"postgres://db/rag?password=pw&user=rag", "postgres://db/rag?password=xxxxx&user=rag"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, redactDSN(tt.dsn))
		})
	}
}
