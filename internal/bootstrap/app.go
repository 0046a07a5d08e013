package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"founderos-knowledge/internal/ai"
	"founderos-knowledge/internal/config"
	"founderos-knowledge/internal/ingest"
	"founderos-knowledge/internal/model"
	"founderos-knowledge/internal/objstore"
	postgresClient "founderos-knowledge/internal/platform/postgres"
	rabbitmqClient "founderos-knowledge/internal/platform/rabbitmq"
	redisClient "founderos-knowledge/internal/platform/redis"
	"founderos-knowledge/internal/repository"
)

type App struct {
	Config       *config.Config
	Postgres     *gorm.DB
	Redis        *redis.Client
	MQConn       *amqp.Connection
	ObjectStore  objstore.Store
	LLMClient    *ai.OpenAICompatibleClient
	Embedder     *ai.EmbeddingClient
	Generator    *ai.GenerationClient
	IngestWorker *ingest.Worker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	db, err := postgresClient.New(ctx, cfg.PostgresDSN())
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.Workspace{},
		&model.User{},
		&model.Document{},
		&model.DocumentChunk{},
		&model.Conversation{},
		&model.Message{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}
	if err := postgresClient.EnsureVectorIndex(db); err != nil {
		return nil, err
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	store, err := objstore.NewFileStore(cfg.Storage.UploadDir)
	if err != nil {
		return nil, err
	}

	llmClient := ai.NewOpenAICompatibleClient(cfg.LLM.MaxRetries)
	embedder := ai.NewEmbeddingClient(llmClient, ai.EmbeddingConfig{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.EmbeddingModel,
		MaxInputTokens: cfg.LLM.EmbeddingMaxTokens,
		MaxBatchSize:   cfg.Ingest.EmbeddingBatchSize,
	}, cfg.LLM.RequestsPerSecond)
	generator := ai.NewGenerationClient(llmClient, ai.ChatConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	})

	docRepo := repository.NewDocumentRepository(db)
	pipeline := ingest.NewPipeline(docRepo, store, embedder, ingest.PipelineConfig{
		ChunkTargetTokens:  cfg.Ingest.ChunkTargetTokens,
		ChunkOverlapTokens: cfg.Ingest.ChunkOverlapTokens,
		EmbeddingBatchSize: cfg.Ingest.EmbeddingBatchSize,
		DocumentTimeout:    time.Duration(cfg.Ingest.DocumentTimeoutSeconds) * time.Second,
	})
	ingestWorker := ingest.NewWorker(mqConn, pipeline, docRepo, ingest.WorkerConfig{
		QueueName:     cfg.RabbitMQ.IngestQueue,
		Workers:       cfg.Ingest.Workers,
		StaleAfter:    time.Duration(cfg.Ingest.StaleThresholdSeconds) * time.Second,
		SweepInterval: time.Duration(cfg.Ingest.SweepIntervalSeconds) * time.Second,
	})
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:       cfg,
		Postgres:     db,
		Redis:        redisCli,
		MQConn:       mqConn,
		ObjectStore:  store,
		LLMClient:    llmClient,
		Embedder:     embedder,
		Generator:    generator,
		IngestWorker: ingestWorker,
		StartedAt:    time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Postgres != nil {
		sqlDB, err := a.Postgres.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
