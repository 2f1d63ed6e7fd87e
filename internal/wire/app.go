package wire

import (
	"database/sql"

	"log/slog"

	appchat "github.com/casefile/backend/internal/application/chat"
	appdocument "github.com/casefile/backend/internal/application/document"
	applog "github.com/casefile/backend/internal/infrastructure/log"
	"github.com/casefile/backend/internal/infrastructure/watcher"
	"github.com/casefile/backend/internal/interfaces"
)

// App 应用主结构，组合所有服务
type App struct {
	HTTPServer  *interfaces.HTTPServer
	chatService *appchat.Service
	docService  *appdocument.Service
	blobWatcher *watcher.BlobWatcher
	db          *sql.DB
	logger      *slog.Logger
}

// NewApp 创建应用实例
func NewApp(
	httpServer *interfaces.HTTPServer,
	chatService *appchat.Service,
	docService *appdocument.Service,
	blobWatcher *watcher.BlobWatcher,
	db *sql.DB,
) *App {
	return &App{
		HTTPServer:  httpServer,
		chatService: chatService,
		docService:  docService,
		blobWatcher: blobWatcher,
		db:          db,
		logger:      applog.NewModuleLogger("app", "main"),
	}
}

// Start 启动所有服务
func (a *App) Start() error {
	a.logger.Info("Starting casefile backend application")

	// 启动恢复：上次进程终止时遗留的 streaming 消息标记为 incomplete
	if err := a.chatService.RecoverInterrupted(); err != nil {
		a.logger.Error("Failed to recover interrupted streams", "error", err)
	}

	// 完整性清扫：核对文档元数据与内容存储
	if err := a.docService.Sweep(); err != nil {
		a.logger.Error("Failed to sweep document storage", "error", err)
	}

	// 启动内容目录监听
	if a.blobWatcher != nil {
		if err := a.blobWatcher.Start(); err != nil {
			a.logger.Error("Failed to start content directory watcher", "error", err)
		}
	}

	// 启动 HTTP 服务器（goroutine）
	go func() {
		if err := a.HTTPServer.Start(); err != nil {
			a.logger.Error("HTTP server stopped", "error", err)
		}
	}()

	a.logger.Info("casefile backend application started successfully")
	return nil
}

// Stop 停止所有服务
func (a *App) Stop() error {
	a.logger.Info("Stopping casefile backend application")

	if a.blobWatcher != nil {
		a.blobWatcher.Stop()
	}

	if err := a.HTTPServer.Stop(); err != nil {
		a.logger.Error("Failed to stop HTTP server", "error", err)
		return err
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database connection", "error", err)
			return err
		}
	}

	a.logger.Info("casefile backend application stopped successfully")
	return nil
}
