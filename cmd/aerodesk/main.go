package main

import (
	"context"
	"time"

	"aerodesk/internal/chat"
	deskconfig "aerodesk/internal/config"
	"aerodesk/internal/ingest"
	"aerodesk/internal/knowledge"
	"aerodesk/internal/metering"
	"aerodesk/internal/session"
	"aerodesk/pkg/config"
	"aerodesk/pkg/database"
	"aerodesk/pkg/llm"
	"aerodesk/pkg/logging"
	"aerodesk/pkg/monitoring"
	"aerodesk/pkg/server"

	"github.com/gin-gonic/gin"
)

const serviceVersion = "1.0.0"

func main() {
	logger := logging.NewLoggerWithService("aerodesk")

	config.LoadEnv(logger)

	logger.Info("Starting Aerodesk (aerospace customer support API)")

	cfg := deskconfig.LoadConfig()

	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db := database.MustConnect(dbConfig, logger)
	defer func() { _ = db.Close() }()

	healthChecker := monitoring.NewHealthChecker("aerodesk", serviceVersion)
	metricsCollector := monitoring.NewMetricsCollector("aerodesk", serviceVersion, "")

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
	}))

	var usagePublisher *metering.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := metering.NewPublisher(cfg.KafkaBrokers, cfg.KafkaClientID, cfg.BillingKafkaTopic, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to create billing Kafka publisher - usage events disabled")
		} else {
			usagePublisher = publisher
			defer usagePublisher.Close()
			healthChecker.AddCheck("kafka", func() monitoring.CheckResult {
				start := time.Now()
				if err := usagePublisher.HealthCheck(); err != nil {
					return monitoring.CheckResult{
						Status:  monitoring.StatusUnhealthy,
						Message: err.Error(),
						Latency: time.Since(start).String(),
					}
				}
				return monitoring.CheckResult{
					Status:  monitoring.StatusHealthy,
					Message: "Kafka producer connection healthy",
					Latency: time.Since(start).String(),
				}
			})
		}
	} else {
		logger.Warn("KAFKA_BROKERS not set - billing usage events disabled")
	}

	usageTracker := metering.NewUsageTracker(metering.UsageTrackerConfig{
		DB:            db,
		Publisher:     usagePublisher,
		Logger:        logger,
		Model:         cfg.LLMModel,
		FlushInterval: cfg.UsageFlushInterval,
	})
	usageTracker.Start()
	defer usageTracker.Stop()

	llmProvider, err := llm.NewProvider(llm.Config{
		Provider:  cfg.LLMProvider,
		Model:     cfg.LLMModel,
		APIKey:    cfg.LLMAPIKey,
		APIURL:    cfg.LLMAPIURL,
		MaxTokens: cfg.LLMMaxTokens,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize LLM provider")
	}

	embeddingClient, err := llm.NewEmbeddingClient(llm.Config{
		Provider: cfg.EmbeddingProvider,
		Model:    cfg.EmbeddingModel,
		APIKey:   cfg.EmbeddingAPIKey,
		APIURL:   cfg.EmbeddingAPIURL,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize embedding client")
	}

	embedder, err := knowledge.NewEmbedder(embeddingClient,
		knowledge.WithChunkSize(cfg.ChunkTokenLimit),
		knowledge.WithChunkOverlap(cfg.ChunkTokenOverlap),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize knowledge embedder")
	}

	dims := cfg.EmbeddingDimensions
	if dims <= 0 {
		probeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		dims, err = llm.ProbeEmbeddingDimensions(probeCtx, embeddingClient)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Failed to probe embedding dimensions - keeping current schema")
			dims = 0
		}
	}
	if dims > 0 {
		migrated, err := knowledge.EnsureEmbeddingDimensions(context.Background(), db, dims)
		if err != nil {
			logger.WithError(err).Fatal("Failed to align embedding schema")
		}
		if migrated {
			logger.WithField("dimensions", dims).Info("Embedding columns migrated")
		}
	}

	knowledgeStore := knowledge.NewStore(db)
	retriever := knowledge.NewRetriever(knowledgeStore, embedder, usageTracker, logger)

	sessionStore := session.NewStore()
	historyStore := session.NewHistoryStore(db)

	specialists := make(map[knowledge.Domain]*chat.Specialist, len(knowledge.AllDomains()))
	for _, domain := range knowledge.AllDomains() {
		specialists[domain] = &chat.Specialist{
			Domain:    domain,
			Provider:  llmProvider,
			Retriever: retriever,
			Sessions:  sessionStore,
			Logger:    logger,
		}
	}

	chatRouter := &chat.Router{
		Provider:        llmProvider,
		Specialists:     specialists,
		Logger:          logger,
		MaxRounds:       cfg.MaxToolRounds,
		EscalationEmail: cfg.EscalationEmail,
	}

	chatHandler := chat.NewChatHandler(historyStore, sessionStore, chatRouter, knowledgeStore, logger)
	chatHandler.Metering = usageTracker
	chatHandler.MaxHistoryMessages = cfg.MaxHistoryMessages

	ingestHandler := &ingest.Handler{
		Pipeline: ingest.NewPipeline(embedder, knowledgeStore, logger),
		Deleter:  knowledgeStore,
	}

	router := server.SetupServiceRouter(logger, "aerodesk", healthChecker, metricsCollector)

	apiGroup := router.Group("/api/aerodesk")
	registerAPI(apiGroup, chatHandler, ingestHandler)

	serverConfig := server.DefaultConfig("aerodesk", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

func registerAPI(group *gin.RouterGroup, chatHandler *chat.ChatHandler, ingestHandler *ingest.Handler) {
	chat.RegisterRoutes(group, chatHandler)
	ingest.RegisterRoutes(group, ingestHandler)
}
