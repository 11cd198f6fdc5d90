package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/api/handlers"
	"github.com/ehr-chatbot/backend/internal/cache/redis"
	"github.com/ehr-chatbot/backend/internal/chat"
	"github.com/ehr-chatbot/backend/internal/embedding"
	"github.com/ehr-chatbot/backend/internal/metrics"
	"github.com/ehr-chatbot/backend/internal/retriever"
	"github.com/ehr-chatbot/backend/internal/router"
	"github.com/ehr-chatbot/backend/internal/storage/sqlite"
	"github.com/ehr-chatbot/backend/internal/vector/milvus"
	"github.com/ehr-chatbot/backend/pkg/config"
	applogger "github.com/ehr-chatbot/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := applogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer applogger.Sync()

	applogger.Info("Starting EHR chatbot API server")

	metrics.Init()

	historyDB, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		applogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer historyDB.Close()

	if err := historyDB.InitSchema(); err != nil {
		applogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var embeddingCache embedding.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			applogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		embeddingCache = redisClient
	}

	embedder, err := embedding.NewClient(
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dimension,
		cfg.Embedding.BatchSize,
		cfg.Embedding.TimeoutSec,
		embeddingCache,
	)
	if err != nil {
		applogger.Fatal("Failed to initialize embedding model", zap.Error(err))
	}

	index, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Embedding.Dimension,
		cfg.Milvus.DistanceMetric,
	)
	if err != nil {
		applogger.Fatal("Vector index unavailable; run `indexer build` first", zap.Error(err))
	}
	defer index.Close()

	if err := index.Ready(context.Background()); err != nil {
		applogger.Fatal("Vector index not ready; run `indexer build` first", zap.Error(err))
	}

	engine, err := retriever.New(embedder, index, cfg.Search)
	if err != nil {
		applogger.Fatal("Failed to create retriever", zap.Error(err))
	}

	if stats, err := engine.Stats(context.Background()); err == nil {
		applogger.Info("Retrieval engine ready",
			zap.Int64("items", stats.TotalItems),
			zap.Int("dimension", stats.EmbeddingDimension),
		)
		metrics.ItemsIndexed.Set(float64(stats.TotalItems))
	}

	responseRouter := router.New(engine, cfg.Search)
	chatService := chat.NewService(responseRouter, historyDB)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	chatHandler := handlers.NewChatHandler(chatService, historyDB)
	statsHandler := handlers.NewStatsHandler(engine)
	wsHandler := handlers.NewWebSocketHandler(chatService)

	api := app.Group("/api/v1")

	api.Post("/chat", chatHandler.HandleChat)
	api.Get("/chat/history", chatHandler.GetHistory)
	api.Post("/feedback", chatHandler.SubmitFeedback)
	api.Get("/stats", statsHandler.GetStats)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	applogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			applogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	applogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	applogger.Info("Server stopped")
}
