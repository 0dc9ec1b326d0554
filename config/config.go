// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads process configuration from a YAML file with optional
// .env supplementation. A missing config file is not an error; defaults cover
// a fully local deployment (filesystem blobs, on-disk badger, local
// OpenAI-compatible model server).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig configures persistence paths.
type StorageConfig struct {
	DBPath   string `yaml:"db_path"`
	BlobDir  string `yaml:"blob_dir"`
	InMemory bool   `yaml:"in_memory"`
}

// ModelConfig configures the embedding and generation providers. APIKeyEnv
// names the environment variable holding the key so the key itself never
// lands in the config file.
type ModelConfig struct {
	EmbeddingHost   string `yaml:"embedding_host"`
	GenerationHost  string `yaml:"generation_host"`
	EmbeddingModel  string `yaml:"embedding_model"`
	GenerationModel string `yaml:"generation_model"`
	APIKeyEnv       string `yaml:"api_key_env"`
}

// APIKey resolves the provider key from the configured environment variable.
func (m ModelConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}

// Queue backend selectors.
const (
	QueueBackendDurable = "durable"
	QueueBackendBroker  = "broker"
)

// QueueConfig configures task delivery behavior. Backend selects the queue
// implementation: "durable" persists tasks in badger, "broker" keeps them
// in process memory.
type QueueConfig struct {
	Backend           string        `yaml:"backend"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxMessages       int           `yaml:"max_messages"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBase         time.Duration `yaml:"retry_base"`
	Retention         time.Duration `yaml:"retention"`
}

// IngestConfig configures chunking and embedding during ingestion.
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	BatchSize    int `yaml:"batch_size"`
	CacheSize    int `yaml:"cache_size"`
}

// SearchConfig configures retrieval defaults.
type SearchConfig struct {
	Limit    int     `yaml:"limit"`
	MinScore float32 `yaml:"min_score"`
}

// AppConfig is the root configuration structure.
type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Models  ModelConfig   `yaml:"models"`
	Queue   QueueConfig   `yaml:"queue"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Search  SearchConfig  `yaml:"search"`
}

// Validation errors for AppConfig.
var (
	// ErrStoragePathRequired is returned when neither a db path nor
	// in-memory mode is configured.
	ErrStoragePathRequired = errors.New("storage db path required")

	// ErrBlobDirRequired is returned when the blob directory is not set.
	ErrBlobDirRequired = errors.New("blob directory required")

	// ErrUnknownQueueBackend is returned for an unrecognized queue backend.
	ErrUnknownQueueBackend = errors.New("unknown queue backend")
)

// LoadEnv loads a .env file into the process environment if one exists.
// Variables already set in the environment win.
func LoadEnv() {
	_ = godotenv.Load()
}

// Load reads a config from the given path. A missing file yields defaults;
// a present but malformed file is an error.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration for a fully local deployment.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks fields that have no usable default.
func (c *AppConfig) Validate() error {
	if !c.Storage.InMemory && c.Storage.DBPath == "" {
		return ErrStoragePathRequired
	}
	if c.Storage.BlobDir == "" {
		return ErrBlobDirRequired
	}
	switch c.Queue.Backend {
	case QueueBackendDurable, QueueBackendBroker:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownQueueBackend, c.Queue.Backend)
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Storage.DBPath == "" && !cfg.Storage.InMemory {
		cfg.Storage.DBPath = "data/db"
	}
	if cfg.Storage.BlobDir == "" {
		cfg.Storage.BlobDir = "data/blobs"
	}
	if cfg.Models.EmbeddingHost == "" {
		cfg.Models.EmbeddingHost = "http://localhost:11434/v1"
	}
	if cfg.Models.GenerationHost == "" {
		cfg.Models.GenerationHost = cfg.Models.EmbeddingHost
	}
	if cfg.Models.EmbeddingModel == "" {
		cfg.Models.EmbeddingModel = "embeddinggemma"
	}
	if cfg.Models.GenerationModel == "" {
		cfg.Models.GenerationModel = "qwen2.5:3b"
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = QueueBackendDurable
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = 5 * time.Second
	}
	if cfg.Queue.VisibilityTimeout == 0 {
		cfg.Queue.VisibilityTimeout = 30 * time.Second
	}
	if cfg.Queue.MaxMessages == 0 {
		cfg.Queue.MaxMessages = 10
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.RetryBase == 0 {
		cfg.Queue.RetryBase = time.Second
	}
	if cfg.Queue.Retention == 0 {
		cfg.Queue.Retention = 24 * time.Hour
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 100
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 64
	}
	if cfg.Ingest.CacheSize == 0 {
		cfg.Ingest.CacheSize = 4096
	}
	if cfg.Search.Limit == 0 {
		cfg.Search.Limit = 10
	}
}
