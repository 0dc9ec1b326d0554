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


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/corpus/ai"
	"github.com/poiesic/corpus/ai/openai"
	"github.com/poiesic/corpus/blob"
	"github.com/poiesic/corpus/cache"
	"github.com/poiesic/corpus/chunk"
	"github.com/poiesic/corpus/config"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/extract"
	"github.com/poiesic/corpus/httpapi"
	"github.com/poiesic/corpus/ingest"
	"github.com/poiesic/corpus/notify"
	"github.com/poiesic/corpus/queue"
	"github.com/poiesic/corpus/queue/broker"
	"github.com/poiesic/corpus/queue/durable"
	"github.com/poiesic/corpus/search"
	"github.com/poiesic/corpus/storage"
	"github.com/poiesic/corpus/storage/badger"
	"github.com/poiesic/corpus/summarize"
	"github.com/poiesic/corpus/worker"
)

func main() {
	app := &cli.App{
		Name:  "corpus",
		Usage: "Multi-tenant document search and summarization service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Value:   "config.yaml",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with an embedded task worker",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides config)",
					},
				},
			},
			{
				Name:   "worker",
				Usage:  "Run only the task worker (the database must not be held by another process)",
				Action: workerCommand,
			},
			{
				Name:      "ingest",
				Usage:     "Ingest local files into a document set",
				ArgsUsage: "file [file ...]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "document-set",
						Aliases:  []string{"s"},
						Usage:    "Document set to ingest into",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "pipeline",
						Usage: "Extraction pipeline (standard, vlm)",
						Value: "standard",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search indexed chunks by semantic similarity",
				ArgsUsage: "query",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "document-set",
						Aliases: []string{"s"},
						Usage:   "Restrict the search to one document set",
						Value:   core.DocumentSetAll,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: search.DefaultLimit,
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Similarity threshold; negative uses the configured default",
						Value: -1,
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show the state of a task",
				ArgsUsage: "task-id",
				Action:    statusCommand,
			},
			{
				Name:      "summarize",
				Usage:     "Summarize a stored document",
				ArgsUsage: "filename",
				Action:    summarizeCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "document-set",
						Aliases:  []string{"s"},
						Usage:    "Document set holding the file",
						Required: true,
					},
				},
			},
			{
				Name:   "documents",
				Usage:  "List indexed documents and their chunk counts",
				Action: documentsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "document-set",
						Aliases: []string{"s"},
						Usage:   "Restrict the listing to one document set",
						Value:   core.DocumentSetAll,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	config.LoadEnv()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func modelProvider(cfg *config.AppConfig) (ai.AIProvider, error) {
	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(cfg.Models.EmbeddingHost),
		ai.WithGenerationHost(cfg.Models.GenerationHost),
		ai.WithEmbeddingModel(cfg.Models.EmbeddingModel),
		ai.WithGenerationModel(cfg.Models.GenerationModel),
		ai.WithAPIKey(cfg.Models.APIKey()),
	)
	return openai.NewProvider(aiConfig)
}

// newRegistry builds the extraction registry. Rich-format pipelines slot in
// here; until one is wired, both kinds extract plain text.
func newRegistry() (*extract.Registry, error) {
	plain := func() (extract.Extractor, error) {
		return extract.NewPlainExtractor(), nil
	}
	return extract.NewRegistry(plain, plain)
}

func buildPipeline(
	cfg *config.AppConfig,
	blobs blob.Store,
	registry *extract.Registry,
	embedder ai.Embedder,
	chunks storage.ChunkRepository,
	embeddings *cache.Cache,
) (*ingest.Pipeline, error) {
	return ingest.NewPipeline(blobs, registry, embedder, chunks,
		ingest.WithChunker(&chunk.Chunker{
			Size:    cfg.Ingest.ChunkSize,
			Overlap: cfg.Ingest.ChunkOverlap,
		}),
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithEmbeddingCache(embeddings),
	)
}

// buildQueue selects the queue backend from configuration. The broker
// backend holds tasks in process memory, so it only makes sense for serve,
// where submission and processing share a process.
func buildQueue(cfg *config.AppConfig, taskRepo storage.TaskRepository) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendBroker:
		return broker.New(
			broker.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
			broker.WithMaxAttempts(cfg.Queue.MaxAttempts),
			broker.WithRetryBase(cfg.Queue.RetryBase),
		)
	default:
		return durable.New(taskRepo,
			durable.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
			durable.WithMaxAttempts(cfg.Queue.MaxAttempts),
			durable.WithRetryBase(cfg.Queue.RetryBase),
		)
	}
}

func buildWorker(
	cfg *config.AppConfig,
	q queue.Queue,
	broadcaster *notify.Broadcaster,
	registry *extract.Registry,
	pipeline *ingest.Pipeline,
	retrieval *search.Service,
	summarizer *summarize.Summarizer,
) (*worker.Worker, error) {
	w, err := worker.New(q,
		worker.WithPollInterval(cfg.Queue.PollInterval),
		worker.WithMaxMessages(cfg.Queue.MaxMessages),
		worker.WithBroadcaster(broadcaster),
		worker.WithMaintenance(5*time.Minute, registry.Release),
	)
	if err != nil {
		return nil, err
	}

	handlers := map[core.TaskKind]worker.Handler{
		core.TaskIngest: func(ctx context.Context, task *core.Task) (string, error) {
			res, err := pipeline.Ingest(ctx, task.Payload.DocumentSet, task.Payload.Filename, extract.PipelineStandard)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("indexed %d chunks", res.ChunkCount), nil
		},
		core.TaskIngestVLM: func(ctx context.Context, task *core.Task) (string, error) {
			res, err := pipeline.Ingest(ctx, task.Payload.DocumentSet, task.Payload.Filename, extract.PipelineVLM)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("indexed %d chunks", res.ChunkCount), nil
		},
		core.TaskSummarize: func(ctx context.Context, task *core.Task) (string, error) {
			return summarizer.Summarize(ctx, task.Payload.DocumentSet, task.Payload.Filename)
		},
		core.TaskAnswerQuestion: func(ctx context.Context, task *core.Task) (string, error) {
			answer, err := retrieval.Answer(ctx, task.Payload.Query, task.Payload.DocumentSet, task.Payload.Limit, -1)
			if err != nil {
				return "", err
			}
			encoded, err := json.Marshal(map[string]any{
				"answer":  answer.Text,
				"sources": answer.Sources,
			})
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}
	for kind, handler := range handlers {
		if err := w.Register(kind, handler); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	backend, err := badger.OpenBackend(cfg.Storage.DBPath, cfg.Storage.InMemory)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	chunkRepo, err := badger.NewChunkRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create chunk repository: %w", err)
	}
	defer chunkRepo.Close()

	taskRepo, err := badger.NewTaskRepository(backend, badger.WithRetention(cfg.Queue.Retention))
	if err != nil {
		return fmt.Errorf("failed to create task repository: %w", err)
	}
	defer taskRepo.Close()

	blobs, err := blob.NewFilesystemStore(cfg.Storage.BlobDir)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	provider, err := modelProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	defer provider.Close()

	registry, err := newRegistry()
	if err != nil {
		return err
	}
	defer registry.Release()

	embeddings, err := cache.New(cfg.Ingest.CacheSize)
	if err != nil {
		return err
	}

	pipeline, err := buildPipeline(cfg, blobs, registry, provider.Embedder(), chunkRepo, embeddings)
	if err != nil {
		return err
	}

	retrieval, err := search.NewService(provider.Embedder(), chunkRepo, provider.Generator(),
		search.WithMinScore(cfg.Search.MinScore),
		search.WithEmbeddingCache(embeddings),
	)
	if err != nil {
		return err
	}

	summarizer, err := summarize.New(blobs, registry, provider.Generator())
	if err != nil {
		return err
	}

	q, err := buildQueue(cfg, taskRepo)
	if err != nil {
		return err
	}
	defer q.Close()

	broadcaster, err := notify.NewBroadcaster()
	if err != nil {
		return err
	}
	defer broadcaster.Close()

	w, err := buildWorker(cfg, q, broadcaster, registry, pipeline, retrieval, summarizer)
	if err != nil {
		return err
	}

	server, err := httpapi.New(q, blobs, retrieval, pipeline, chunkRepo,
		httpapi.WithBroadcaster(broadcaster),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- w.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serverErr:
		stop()
		<-workerDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown incomplete", "error", err)
	}
	return <-workerDone
}

func workerCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Queue.Backend == config.QueueBackendBroker {
		return fmt.Errorf("the broker queue backend is in-process only; use serve")
	}

	backend, err := badger.OpenBackend(cfg.Storage.DBPath, cfg.Storage.InMemory)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	chunkRepo, err := badger.NewChunkRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create chunk repository: %w", err)
	}
	defer chunkRepo.Close()

	taskRepo, err := badger.NewTaskRepository(backend, badger.WithRetention(cfg.Queue.Retention))
	if err != nil {
		return fmt.Errorf("failed to create task repository: %w", err)
	}
	defer taskRepo.Close()

	blobs, err := blob.NewFilesystemStore(cfg.Storage.BlobDir)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	provider, err := modelProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	defer provider.Close()

	registry, err := newRegistry()
	if err != nil {
		return err
	}
	defer registry.Release()

	embeddings, err := cache.New(cfg.Ingest.CacheSize)
	if err != nil {
		return err
	}

	pipeline, err := buildPipeline(cfg, blobs, registry, provider.Embedder(), chunkRepo, embeddings)
	if err != nil {
		return err
	}

	retrieval, err := search.NewService(provider.Embedder(), chunkRepo, provider.Generator(),
		search.WithMinScore(cfg.Search.MinScore),
		search.WithEmbeddingCache(embeddings),
	)
	if err != nil {
		return err
	}

	summarizer, err := summarize.New(blobs, registry, provider.Generator())
	if err != nil {
		return err
	}

	q, err := buildQueue(cfg, taskRepo)
	if err != nil {
		return err
	}
	defer q.Close()

	w, err := buildWorker(cfg, q, nil, registry, pipeline, retrieval, summarizer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("worker started", "poll_interval", cfg.Queue.PollInterval.String())
	return w.Run(ctx)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file argument is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	pipelineKind := extract.PipelineStandard
	switch strings.ToLower(c.String("pipeline")) {
	case "standard":
	case "vlm":
		pipelineKind = extract.PipelineVLM
	default:
		return fmt.Errorf("invalid pipeline %q: must be standard or vlm", c.String("pipeline"))
	}

	documentSet := c.String("document-set")
	if documentSet == core.DocumentSetAll {
		return fmt.Errorf("document set %q is reserved", core.DocumentSetAll)
	}

	backend, err := badger.OpenBackend(cfg.Storage.DBPath, cfg.Storage.InMemory)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	chunkRepo, err := badger.NewChunkRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create chunk repository: %w", err)
	}
	defer chunkRepo.Close()

	blobs, err := blob.NewFilesystemStore(cfg.Storage.BlobDir)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	provider, err := modelProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	defer provider.Close()

	registry, err := newRegistry()
	if err != nil {
		return err
	}
	defer registry.Release()

	embeddings, err := cache.New(cfg.Ingest.CacheSize)
	if err != nil {
		return err
	}

	pipeline, err := buildPipeline(cfg, blobs, registry, provider.Embedder(), chunkRepo, embeddings)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, path := range c.Args().Slice() {
		filename := filepath.Base(path)

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		putErr := blobs.Put(ctx, documentSet, filename, f)
		f.Close()
		if putErr != nil {
			return fmt.Errorf("failed to store %s: %w", filename, putErr)
		}

		res, err := pipeline.Ingest(ctx, documentSet, filename, pipelineKind)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", filename, err)
		}
		fmt.Fprintf(os.Stderr, "%s: %d chunks\n", filename, res.ChunkCount)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one query argument is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	backend, err := badger.OpenBackend(cfg.Storage.DBPath, cfg.Storage.InMemory)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	chunkRepo, err := badger.NewChunkRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create chunk repository: %w", err)
	}
	defer chunkRepo.Close()

	provider, err := modelProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	defer provider.Close()

	retrieval, err := search.NewService(provider.Embedder(), chunkRepo, provider.Generator(),
		search.WithMinScore(cfg.Search.MinScore),
	)
	if err != nil {
		return err
	}

	results, err := retrieval.Search(context.Background(), c.Args().First(), c.String("document-set"), c.Int("limit"), float32(c.Float64("min-score")))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(os.Stderr, "no results")
		return nil
	}

	for _, res := range results {
		fmt.Printf("%.4f  %s/%s #%d\n", res.Score, res.Chunk.DocumentSet, res.Chunk.Filename, res.Chunk.Index)
		fmt.Printf("        %s\n", firstLine(res.Chunk.Content))
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one task-id argument is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	backend, err := badger.OpenBackend(cfg.Storage.DBPath, cfg.Storage.InMemory)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	taskRepo, err := badger.NewTaskRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create task repository: %w", err)
	}
	defer taskRepo.Close()

	task, err := taskRepo.GetTask(context.Background(), c.Args().First())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("unknown task %s", c.Args().First())
		}
		return err
	}

	fmt.Printf("id:       %s\n", task.Id)
	fmt.Printf("kind:     %s\n", task.Kind)
	fmt.Printf("state:    %s\n", task.State)
	fmt.Printf("attempts: %d\n", task.Attempts)
	if task.Result != "" {
		fmt.Printf("result:   %s\n", task.Result)
	}
	if task.Error != "" {
		fmt.Printf("error:    %s\n", task.Error)
	}
	return nil
}

func summarizeCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one filename argument is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	blobs, err := blob.NewFilesystemStore(cfg.Storage.BlobDir)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	provider, err := modelProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	defer provider.Close()

	registry, err := newRegistry()
	if err != nil {
		return err
	}
	defer registry.Release()

	summarizer, err := summarize.New(blobs, registry, provider.Generator())
	if err != nil {
		return err
	}

	summary, err := summarizer.Summarize(context.Background(), c.String("document-set"), c.Args().First())
	if err != nil {
		return err
	}
	fmt.Println(summary)
	return nil
}

func documentsCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	backend, err := badger.OpenBackend(cfg.Storage.DBPath, cfg.Storage.InMemory)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	chunkRepo, err := badger.NewChunkRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create chunk repository: %w", err)
	}
	defer chunkRepo.Close()

	infos, err := chunkRepo.ListDocuments(context.Background(), c.String("document-set"))
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(os.Stderr, "no documents")
		return nil
	}

	for _, info := range infos {
		fmt.Printf("%s/%s  %d chunks\n", info.DocumentSet, info.Filename, info.ChunkCount)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 120
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
