package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/casefile/backend/internal/domain/document"
	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/log"
	"github.com/google/uuid"
)

// tmpSuffix 未发布临时文件的后缀
const tmpSuffix = ".tmp"

// fileBlobStore 基于本地文件系统的内容寻址存储
// 写入先落临时文件，元数据提交后再原子重命名发布，
// 目录里不带 .tmp 后缀的文件一定是完整内容
type fileBlobStore struct {
	dir    string
	logger *slog.Logger
}

// NewBlobStore 创建内容寻址存储
func NewBlobStore(cfg *config.StorageConfig) (document.BlobStore, error) {
	if err := os.MkdirAll(cfg.BlobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &fileBlobStore{
		dir:    cfg.BlobDir,
		logger: log.NewModuleLogger("storage", "blobstore"),
	}, nil
}

// path 返回 key 对应的发布路径
func (s *fileBlobStore) path(key string) string {
	return filepath.Join(s.dir, key)
}

// Write 写入内容并原子发布
// 同 key 并发写入无害：内容按构造相同，后写者覆盖等价字节
func (s *fileBlobStore) Write(key string, data []byte) error {
	// 临时文件名带随机段，避免并发写同一 key 时互相截断
	tmpPath := s.path(key) + "." + uuid.NewString()[:8] + tmpSuffix

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to publish blob: %w", err)
	}

	s.logger.Debug("blob published", "key", key, "size", len(data))
	return nil
}

// Read 读取内容
func (s *fileBlobStore) Read(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, document.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Remove 删除内容，key 不存在时视为成功
func (s *fileBlobStore) Remove(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// Exists 检查内容是否存在
func (s *fileBlobStore) Exists(key string) bool {
	info, err := os.Stat(s.path(key))
	return err == nil && !info.IsDir()
}

// Keys 返回所有已发布的 key（跳过临时文件）
func (s *fileBlobStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list blob directory: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), tmpSuffix) {
			continue
		}
		keys = append(keys, entry.Name())
	}
	return keys, nil
}

// Dir 返回存储目录
func (s *fileBlobStore) Dir() string {
	return s.dir
}
