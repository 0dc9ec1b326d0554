package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 100, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 5*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 10, cfg.Search.Limit)
	assert.Equal(t, float32(0), cfg.Search.MinScore)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9191"
storage:
  db_path: /var/lib/corpus/db
  blob_dir: /var/lib/corpus/blobs
models:
  embedding_host: http://embed.internal:8000
  embedding_model: text-embedding-3-small
  api_key_env: CORPUS_API_KEY
queue:
  visibility_timeout: 45s
ingest:
  chunk_size: 512
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9191", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/corpus/db", cfg.Storage.DBPath)
	assert.Equal(t, "http://embed.internal:8000", cfg.Models.EmbeddingHost)
	// Generation host inherits the embedding host when unset.
	assert.Equal(t, "http://embed.internal:8000", cfg.Models.GenerationHost)
	assert.Equal(t, 45*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 512, cfg.Ingest.ChunkSize)
	// Untouched sections keep defaults.
	assert.Equal(t, 100, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 24*time.Hour, cfg.Queue.Retention)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("CORPUS_TEST_KEY", "secret")

	m := ModelConfig{APIKeyEnv: "CORPUS_TEST_KEY"}
	assert.Equal(t, "secret", m.APIKey())

	assert.Empty(t, ModelConfig{}.APIKey())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.DBPath = ""
	assert.ErrorIs(t, cfg.Validate(), ErrStoragePathRequired)

	cfg = Default()
	cfg.Storage.InMemory = true
	cfg.Storage.DBPath = ""
	require.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.BlobDir = ""
	assert.ErrorIs(t, cfg.Validate(), ErrBlobDirRequired)
}

func TestQueueBackendSelection(t *testing.T) {
	cfg := Default()
	assert.Equal(t, QueueBackendDurable, cfg.Queue.Backend)

	cfg.Queue.Backend = QueueBackendBroker
	require.NoError(t, cfg.Validate())

	cfg.Queue.Backend = "rabbitmq"
	assert.ErrorIs(t, cfg.Validate(), ErrUnknownQueueBackend)
}
