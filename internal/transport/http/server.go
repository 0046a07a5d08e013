package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "founderos-knowledge/internal/app"
	"founderos-knowledge/internal/bootstrap"
	"founderos-knowledge/internal/cache"
	rabbitmqClient "founderos-knowledge/internal/platform/rabbitmq"
	"founderos-knowledge/internal/repository"
	"founderos-knowledge/internal/transport/http/handler"
	"founderos-knowledge/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.Postgres)
	workspaceRepo := repository.NewWorkspaceRepository(app.Postgres)
	docRepo := repository.NewDocumentRepository(app.Postgres)
	chunkRepo := repository.NewChunkRepository(app.Postgres)
	conversationRepo := repository.NewConversationRepository(app.Postgres)
	messageRepo := repository.NewMessageRepository(app.Postgres)

	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	ingestPublisher := rabbitmqClient.NewIngestPublisher(app.MQConn, app.Config.RabbitMQ.IngestQueue)

	authService := appsvc.NewAuthService(
		userRepo,
		workspaceRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	documentService := appsvc.NewDocumentService(
		docRepo,
		app.ObjectStore,
		ingestPublisher,
		app.Config.Storage.MaxFileSizeBytes,
	)
	retrievalService := appsvc.NewRetrievalService(chunkRepo, app.Embedder, app.Config.Chat.TopK)
	chatService := appsvc.NewChatService(
		conversationRepo,
		messageRepo,
		retrievalService,
		app.Generator,
		historyCache,
	)

	authHandler := handler.NewAuthHandler(authService)
	documentHandler := handler.NewDocumentHandler(documentService)
	chatHandler := handler.NewChatHandler(chatService)

	authJWT := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", authJWT, authHandler.Me)

	documentGroup := v1.Group("/documents")
	documentGroup.Use(authJWT)
	documentGroup.POST("", documentHandler.Upload)
	documentGroup.GET("", documentHandler.List)
	documentGroup.GET("/:id", documentHandler.Get)
	documentGroup.GET("/:id/status", documentHandler.Status)
	documentGroup.DELETE("/:id", documentHandler.Delete)
	documentGroup.POST("/:id/retry", documentHandler.Retry)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(authJWT)
	chatGroup.POST("/conversations", chatHandler.CreateConversation)
	chatGroup.GET("/conversations", chatHandler.ListConversations)
	chatGroup.DELETE("/conversations/:id", chatHandler.DeleteConversation)
	chatGroup.GET("/conversations/:id/messages", chatHandler.GetMessages)
	chatGroup.POST("/conversations/:id/messages", chatHandler.SendMessage)

	return router
}
