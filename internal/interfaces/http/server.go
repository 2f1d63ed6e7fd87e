package http

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/log"
	"github.com/casefile/backend/internal/interfaces/http/handler"
	"github.com/casefile/backend/internal/interfaces/http/middleware"

	_ "github.com/casefile/backend/docs" // Swagger docs
)

// HTTPServer HTTP 服务器
type HTTPServer struct {
	router   *gin.Engine
	httpPort string
	server   *http.Server
	logger   *slog.Logger
}

// NewServer 创建 HTTP 服务器
func NewServer(
	cfg *config.ServerConfig,
	documentHandler *handler.DocumentHandler,
	chatHandler *handler.ChatHandler,
) *HTTPServer {
	router := gin.Default()
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	logger := log.NewModuleLogger("http", "server")

	// 注册路由
	api := router.Group("/api/v1")
	{
		// 文档相关路由
		documents := api.Group("/documents")
		{
			documents.POST("", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/stats", documentHandler.Stats)
			documents.GET("/:id", documentHandler.Get)
			documents.GET("/:id/content", documentHandler.Content)
			documents.DELETE("/:id", documentHandler.Delete)
		}

		// 会话相关路由
		sessions := api.Group("/chat/sessions")
		{
			sessions.POST("", chatHandler.CreateSession)
			sessions.GET("", chatHandler.ListSessions)
			sessions.GET("/:sessionId", chatHandler.GetSession)
			sessions.DELETE("/:sessionId", chatHandler.DeleteSession)
			sessions.POST("/:sessionId/messages", chatHandler.StreamMessage)
			sessions.GET("/:sessionId/ws", chatHandler.StreamWS)
		}
	}

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return &HTTPServer{
		router:   router,
		httpPort: cfg.HTTPPort,
		logger:   logger,
	}
}

// Start 启动服务器
func (s *HTTPServer) Start() error {
	s.server = &http.Server{
		Addr:    s.httpPort,
		Handler: s.router,
	}

	s.logger.Info("HTTP server starting",
		"port", s.httpPort,
	)

	return s.server.ListenAndServe()
}

// Shutdown 优雅关闭
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Stop 停止服务器
func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
