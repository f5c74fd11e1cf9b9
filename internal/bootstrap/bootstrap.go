package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmquang/docchat/internal/config"
	"github.com/dmquang/docchat/internal/core/ports"
	"github.com/dmquang/docchat/internal/core/usecase"
	rediscache "github.com/dmquang/docchat/internal/infrastructure/cache/redis"
	"github.com/dmquang/docchat/internal/infrastructure/chunking"
	"github.com/dmquang/docchat/internal/infrastructure/extractor"
	pdfextractor "github.com/dmquang/docchat/internal/infrastructure/extractor/pdf"
	"github.com/dmquang/docchat/internal/infrastructure/extractor/plaintext"
	xlsxextractor "github.com/dmquang/docchat/internal/infrastructure/extractor/xlsx"
	"github.com/dmquang/docchat/internal/infrastructure/llm/ollama"
	"github.com/dmquang/docchat/internal/infrastructure/queue/nats"
	"github.com/dmquang/docchat/internal/infrastructure/repository/postgres"
	"github.com/dmquang/docchat/internal/infrastructure/resilience"
	"github.com/dmquang/docchat/internal/infrastructure/storage/localfs"
	"github.com/dmquang/docchat/internal/infrastructure/vector/pgvector"
	"github.com/dmquang/docchat/internal/observability/logging"
	"github.com/dmquang/docchat/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.HTTPServerMetrics

	Queue     ports.MessageQueue
	Repo      ports.DocumentRepository
	Cache     *rediscache.SemanticCache
	IngestUC  ports.DocumentIngestor
	ProcessUC ports.DocumentProcessor
	RemoveUC  ports.DocumentRemover
	Retriever ports.Retriever
	AnswerUC  ports.AnswerService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure documents schema: %w", err)
	}
	store := pgvector.NewStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure chunks schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(
		cfg.OllamaURL,
		cfg.OllamaGenModel,
		cfg.OllamaEmbedTextModel,
		cfg.OllamaEmbedMultiModel,
		executor,
	)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	var redisClient *goredis.Client
	var cache *rediscache.SemanticCache
	var queryCache ports.QueryResultCache
	if cfg.CacheEnabled {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cache = rediscache.NewSemanticCache(redisClient, embedder, cfg.CacheThreshold, logging.Component(logger, "cache"))
		queryCache = cache
	}

	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	extract := extractor.NewDispatcher(plaintext.NewExtractor(storage))
	extract.Register("pdf", pdfextractor.NewExtractor(storage))
	extract.Register("xlsx", xlsxextractor.NewExtractor(storage))

	ranker, err := usecase.NewRecencyRanker(
		cfg.RecencyWeight,
		time.Duration(cfg.RecencyHalfLifeHours)*time.Hour,
	)
	if err != nil {
		return nil, fmt.Errorf("init recency ranker: %w", err)
	}
	retrievalLogger := logging.Component(logger, "retrieval")
	fusion, err := usecase.NewFusion(cfg.FusionStrategy, retrievalLogger)
	if err != nil {
		return nil, fmt.Errorf("init fusion: %w", err)
	}
	variations := usecase.NewVariationGenerator(generator, cfg.NumVariations, retrievalLogger)

	serverMetrics := metrics.NewHTTPServerMetrics("api")
	instr := serverMetrics.Instrumentation("api")

	retriever, err := usecase.NewRetrievalOrchestrator(
		embedder, store, queryCache, variations, fusion, ranker,
		usecase.RetrievalOptions{
			MinSimilarity:   cfg.MinSimilarity,
			CacheTTL:        time.Duration(cfg.CacheTTLSecs) * time.Second,
			Timeout:         time.Duration(cfg.RetrievalTimeoutSecs) * time.Second,
			Instrumentation: instr,
		},
		retrievalLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("init retrieval orchestrator: %w", err)
	}

	ingestUC := usecase.NewIngestDocumentUseCase(repo, storage, queue)
	processUC := usecase.NewProcessDocumentUseCase(
		repo, extract, chunker, embedder, store, queryCache, cfg.MultimodalEnabled,
		logging.Component(logger, "ingestion"),
	)
	answerUC := usecase.NewAnswerUseCase(retriever, store, generator, cfg.MinAnswerScore, instr,
		logging.Component(logger, "answer"))
	removeUC := usecase.NewRemoveDocumentUseCase(repo, store, queryCache,
		logging.Component(logger, "ingestion"))

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: serverMetrics,

		Queue:     queue,
		Repo:      repo,
		Cache:     cache,
		IngestUC:  ingestUC,
		ProcessUC: processUC,
		RemoveUC:  removeUC,
		Retriever: retriever,
		AnswerUC:  answerUC,

		closeFn: func() {
			queue.Close()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
