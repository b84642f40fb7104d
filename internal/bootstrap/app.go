package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"gopherai-docqa/internal/ai"
	"gopherai-docqa/internal/answer"
	appsvc "gopherai-docqa/internal/app"
	"gopherai-docqa/internal/cache"
	"gopherai-docqa/internal/config"
	"gopherai-docqa/internal/extract"
	"gopherai-docqa/internal/index"
	"gopherai-docqa/internal/metrics"
	"gopherai-docqa/internal/model"
	mysqlClient "gopherai-docqa/internal/platform/mysql"
	rabbitmqClient "gopherai-docqa/internal/platform/rabbitmq"
	redisClient "gopherai-docqa/internal/platform/redis"
	sqliteClient "gopherai-docqa/internal/platform/sqlite"
	"gopherai-docqa/internal/repository"
	"gopherai-docqa/internal/retrieval"
	"gopherai-docqa/internal/storage"
	"gopherai-docqa/internal/summarize"
	"gopherai-docqa/internal/worker"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Documents *appsvc.DocumentService

	// Optional backends; nil when the configuration does not select them.
	MySQL    *gorm.DB
	SQLite   *sql.DB
	Redis    *redis.Client
	MQConn   *amqp.Connection
	Pool     *worker.Pool
	Consumer *worker.ProcessConsumer

	StartedAt time.Time
	cancel    context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return Build(ctx, cfg, NewLogger(cfg))
}

// Build wires the pipeline for cfg and starts its background workers.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	runCtx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Registry:  registry,
		Metrics:   metrics.New(registry),
		StartedAt: time.Now(),
		cancel:    cancel,
	}
	if err := a.wire(ctx, runCtx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("close partially built app failed", "error", closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx, runCtx context.Context) error {
	cfg := a.Config
	layout := storage.NewLayout(cfg.Storage.RootDir)

	documents, err := a.openDocuments(ctx, layout)
	if err != nil {
		return err
	}
	chunks, err := a.openChunks(ctx, layout)
	if err != nil {
		return err
	}
	summaryCache, limiter, err := a.openCache(ctx)
	if err != nil {
		return err
	}

	generator, embedder := NewCapability(cfg.LLM)
	if generator == nil {
		a.Logger.Info("llm disabled, summaries and answers are extractive")
	}

	indexer := index.NewIndexer(chunks, embedder, index.Config{
		ChunkSize:        cfg.Pipeline.ChunkSize,
		ChunkOverlap:     cfg.Pipeline.ChunkOverlap,
		EmbedTimeout:     cfg.LLM.EmbedTimeout(),
		EmbedConcurrency: cfg.Pipeline.EmbedConcurrency,
		EmbedBatchSize:   cfg.Pipeline.EmbedBatchSize,
	}, a.Logger.With("component", "indexer"))

	summarizer := summarize.New(generator, summaryCache, limiter, summarize.Config{
		MaxPromptChars: cfg.Pipeline.MaxSummaryPromptChars,
		Timeout:        cfg.LLM.GenerateTimeout(),
		MaxTokens:      summarize.DefaultConfig().MaxTokens,
		Temperature:    summarize.DefaultConfig().Temperature,
	}, a.Metrics, a.Logger.With("component", "summarizer"))

	answerer := answer.New(generator, answer.Config{
		MaxContextChars: cfg.Pipeline.MaxAnswerContextChars,
		Timeout:         cfg.LLM.GenerateTimeout(),
		MaxTokens:       answer.DefaultConfig().MaxTokens,
		Temperature:     answer.DefaultConfig().Temperature,
	}, a.Metrics, a.Logger.With("component", "answerer"))

	a.Documents = appsvc.NewDocumentService(appsvc.Pipeline{
		Documents:  documents,
		Blobs:      storage.NewBlobStore(layout),
		Contents:   storage.NewContentStore(layout),
		Extractor:  extract.New(),
		Indexer:    indexer,
		Retriever:  retrieval.NewRetriever(indexer, embedder, cfg.LLM.EmbedTimeout(), a.Logger.With("component", "retriever")),
		Summarizer: summarizer,
		Answerer:   answerer,
	}, appsvc.DocumentServiceConfig{
		TopK:             cfg.Pipeline.TopK,
		MaxAnswerContext: cfg.Pipeline.MaxAnswerContextChars,
	}, a.Metrics, a.Logger.With("component", "documents"))

	return a.startDispatcher(ctx, runCtx)
}

func (a *App) openDocuments(ctx context.Context, layout storage.Layout) (repository.DocumentRepository, error) {
	if a.Config.Storage.DocumentBackend != config.BackendMySQL {
		return repository.NewFileDocumentRepository(layout, a.Logger.With("component", "documents_repo")), nil
	}
	db, err := mysqlClient.New(ctx, a.Config.MySQLDSN())
	if err != nil {
		return nil, err
	}
	a.MySQL = db
	if err := db.AutoMigrate(&model.Document{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return repository.NewGormDocumentRepository(db), nil
}

func (a *App) openChunks(ctx context.Context, layout storage.Layout) (index.ChunkStore, error) {
	if a.Config.Storage.ChunkBackend != config.BackendSQLite {
		return index.NewFileChunkStore(layout), nil
	}
	db, err := sqliteClient.New(ctx, a.Config.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.SQLite = db
	return index.NewSQLiteChunkStore(ctx, db)
}

func (a *App) openCache(ctx context.Context) (summarize.Cache, summarize.Limiter, error) {
	p := a.Config.Pipeline
	if p.CacheBackend != config.BackendRedis {
		return cache.NewMemorySummaryCache(p.SummaryTTL()), cache.NewMemoryRateLimiter(p.RateLimitRequests, p.RateLimitWindow()), nil
	}
	client, err := redisClient.New(ctx, a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	a.Redis = client
	return cache.NewRedisSummaryCache(client, p.SummaryTTL()), cache.NewRedisRateLimiter(client, p.RateLimitRequests, p.RateLimitWindow()), nil
}

func (a *App) startDispatcher(ctx, runCtx context.Context) error {
	p := a.Config.Pipeline
	if p.Dispatcher != config.DispatchRabbit {
		a.Pool = worker.NewPool(p.Workers, p.QueueSize, a.Logger.With("component", "worker_pool"))
		if err := a.Pool.Start(runCtx, a.Documents.Process); err != nil {
			return fmt.Errorf("start worker pool failed: %w", err)
		}
		a.Documents.SetDispatcher(a.Pool)
		return nil
	}

	conn, err := rabbitmqClient.New(ctx, a.Config.RabbitMQ.URL)
	if err != nil {
		return err
	}
	a.MQConn = conn
	a.Consumer = worker.NewProcessConsumer(conn, a.Config.RabbitMQ.ProcessQueue, p.Workers, a.Logger.With("component", "process_consumer"))
	if err := a.Consumer.Start(runCtx, a.Documents.Process); err != nil {
		return fmt.Errorf("start process consumer failed: %w", err)
	}
	a.Documents.SetDispatcher(rabbitmqClient.NewTaskPublisher(conn, a.Config.RabbitMQ.ProcessQueue))
	return nil
}

// NewCapability returns the generator and embedder for cfg. The generator is
// nil when the backend is disabled; the embedder then fails every call with
// an invalid-kind error so retrieval falls back to leading content.
func NewCapability(cfg config.LLMConfig) (ai.Generator, ai.Embedder) {
	client := ai.NewOpenAICompatibleClient(ai.ClientOptions{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		HTTPTimeout:       cfg.HTTPTimeout(),
	})
	if cfg.Offline || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ai.NewCapability(client, ai.ChatConfig{}, ai.EmbeddingConfig{})
	}

	embeddingURL := cfg.EmbeddingBaseURL
	if embeddingURL == "" {
		embeddingURL = cfg.BaseURL
	}
	capability := ai.NewCapability(client,
		ai.ChatConfig{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Model: cfg.Model},
		ai.EmbeddingConfig{BaseURL: embeddingURL, APIKey: cfg.APIKey, Model: cfg.EmbeddingModel},
	)
	return capability, capability
}

// NewLogger returns a text logger in dev and a JSON logger elsewhere.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.App.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.IsDev() {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("app", cfg.App.Name)
}

// Close stops the workers first so no task runs against closed backends.
func (a *App) Close() error {
	var errs []error
	if a.Consumer != nil {
		a.Consumer.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq failed: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis failed: %w", err))
		}
	}
	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite failed: %w", err))
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close mysql failed: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
