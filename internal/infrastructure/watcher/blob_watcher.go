// Package watcher 监听内容存储目录，发现外部改动时触发核对
package watcher

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"

	appdocument "github.com/casefile/backend/internal/application/document"
	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/log"
)

// debounceDelay 防抖延迟
// 写入通过临时文件 + 重命名发布，rename 紧跟 create，合并后只核对一次
const debounceDelay = 500 * time.Millisecond

// BlobWatcher 内容目录监听器
// 用户手动删除或放入文件会破坏元数据与内容的一致性，
// 监听器把受影响的键交给文档服务逐个核对
type BlobWatcher struct {
	dir     string
	docs    *appdocument.Service
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBlobWatcher 创建内容目录监听器
func NewBlobWatcher(cfg *config.StorageConfig, docs *appdocument.Service) (*BlobWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &BlobWatcher{
		dir:            cfg.BlobDir,
		docs:           docs,
		watcher:        fsWatcher,
		logger:         log.NewModuleLogger("watcher", "blob_watcher"),
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
	}, nil
}

// Start 启动监听
func (w *BlobWatcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	w.logger.Info("watching content directory", "dir", w.dir)

	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop 停止监听
func (w *BlobWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	w.wg.Wait()

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	w.debounceMu.Unlock()

	w.logger.Info("content directory watcher stopped")
}

// watchLoop 事件监听循环
func (w *BlobWatcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent 处理文件系统事件（带防抖）
func (w *BlobWatcher) handleFsEvent(event fsnotify.Event) {
	key := filepath.Base(event.Name)
	if !isBlobKey(key) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[key]; exists {
		timer.Stop()
	}

	w.debounceTimers[key] = time.AfterFunc(debounceDelay, func() {
		w.reconcile(key)

		w.debounceMu.Lock()
		delete(w.debounceTimers, key)
		w.debounceMu.Unlock()
	})
}

// reconcile 核对单个内容键
func (w *BlobWatcher) reconcile(key string) {
	if err := w.docs.ReconcileKey(key); err != nil {
		w.logger.Error("failed to reconcile content key", "key", key, "error", err)
	}
}

// isBlobKey 判断文件名是否为内容键
// 内容键是 64 位十六进制摘要，发布前的临时文件带 .tmp 后缀
func isBlobKey(name string) bool {
	if strings.HasSuffix(name, ".tmp") {
		return false
	}
	if len(name) != 64 {
		return false
	}
	for _, c := range name {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
