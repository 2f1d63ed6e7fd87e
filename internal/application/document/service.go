package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/casefile/backend/internal/domain/document"
	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/log"
)

// Service 文档应用服务（用例编排）
// 文档按内容寻址：ID 为文件内容的 SHA-256 摘要，
// 相同内容的重复上传解析为同一条记录，元数据先写者胜
type Service struct {
	repo     document.Repository
	blobs    document.BlobStore
	maxBytes int64
	logger   *slog.Logger

	// digestLocks 按摘要串行化同内容的并发上传
	digestLocks sync.Map
}

// NewService 创建文档应用服务
func NewService(repo document.Repository, blobs document.BlobStore, cfg *config.UploadConfig) *Service {
	return &Service{
		repo:     repo,
		blobs:    blobs,
		maxBytes: cfg.MaxUploadBytes(),
		logger:   log.NewModuleLogger("document", "service"),
	}
}

// Store 存储一份上传的文件
// 返回的 Document 可能是本次创建的，也可能是早先同内容上传创建的
func (s *Service) Store(filename, contentType string, data []byte) (*document.Document, error) {
	if len(data) == 0 {
		return nil, document.ErrEmptyContent
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", document.ErrTooLarge, len(data), s.maxBytes)
	}

	filename = sanitizeFilename(filename)
	contentType = resolveContentType(contentType, data)

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	// 同摘要的并发上传串行执行，避免临时文件互相覆盖
	lock := s.lockFor(digest)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := s.repo.FindByID(digest); err != nil {
		return nil, fmt.Errorf("failed to check existing document: %w", err)
	} else if existing != nil {
		s.logger.Info("duplicate upload resolved to existing document",
			"id", digest,
			"filename", filename,
			"existing_filename", existing.OriginalFilename,
		)
		return existing, nil
	}

	blobExisted := s.blobs.Exists(digest)
	if !blobExisted {
		if err := s.blobs.Write(digest, data); err != nil {
			return nil, fmt.Errorf("failed to write document content: %w", err)
		}
	}

	doc := &document.Document{
		ID:               digest,
		OriginalFilename: filename,
		ContentType:      contentType,
		SizeBytes:        int64(len(data)),
		UploadTime:       time.Now(),
		StorageKey:       digest,
	}

	saved, err := s.repo.Save(doc)
	if err != nil {
		// 元数据写入失败时回滚本次新写的内容，保持两边一致
		if !blobExisted {
			if rmErr := s.blobs.Remove(digest); rmErr != nil {
				s.logger.Error("failed to roll back blob after metadata failure",
					"id", digest,
					"error", rmErr,
				)
			}
		}
		return nil, fmt.Errorf("failed to save document metadata: %w", err)
	}

	s.logger.Info("document stored",
		"id", saved.ID,
		"filename", saved.OriginalFilename,
		"size_bytes", saved.SizeBytes,
	)
	return saved, nil
}

// Get 查找文档元数据
func (s *Service) Get(id string) (*document.Document, error) {
	doc, err := s.repo.FindByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	if doc == nil {
		return nil, document.ErrNotFound
	}
	return doc, nil
}

// GetContent 读取文档内容
func (s *Service) GetContent(id string) (*document.Document, []byte, error) {
	doc, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.blobs.Read(doc.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read document content: %w", err)
	}
	return doc, data, nil
}

// List 按上传顺序列出全部文档
func (s *Service) List() ([]*document.Document, error) {
	docs, err := s.repo.FindAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// Delete 删除文档的元数据与内容
// 元数据删除成功后即认为删除成立，内容残留交给完整性清扫兜底
func (s *Service) Delete(id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	existed, err := s.repo.Delete(id)
	if err != nil {
		return fmt.Errorf("failed to delete document metadata: %w", err)
	}
	if !existed {
		return document.ErrNotFound
	}

	if err := s.blobs.Remove(id); err != nil {
		s.logger.Error("failed to remove document content, sweep will reclaim it",
			"id", id,
			"error", err,
		)
	}

	s.logger.Info("document deleted", "id", id)
	return nil
}

// Stats 返回存储统计信息
func (s *Service) Stats() (*document.StorageStats, error) {
	docs, err := s.repo.FindAll()
	if err != nil {
		return nil, fmt.Errorf("failed to collect storage stats: %w", err)
	}

	stats := &document.StorageStats{
		TotalDocuments: len(docs),
		StoragePath:    s.blobs.Dir(),
	}
	for _, doc := range docs {
		stats.TotalSizeBytes += doc.SizeBytes
	}
	stats.TotalSizeMB = float64(stats.TotalSizeBytes) / (1024 * 1024)
	return stats, nil
}

// Sweep 双向核对元数据与内容存储
// 缺内容的元数据记录和无元数据的内容文件都会被清除
func (s *Service) Sweep() error {
	ids, err := s.repo.AllIDs()
	if err != nil {
		return fmt.Errorf("failed to list document ids: %w", err)
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	pruned := 0
	for _, id := range ids {
		if s.blobs.Exists(id) {
			continue
		}
		if _, err := s.repo.Delete(id); err != nil {
			s.logger.Error("failed to prune metadata without content", "id", id, "error", err)
			continue
		}
		pruned++
		s.logger.Warn("pruned metadata record missing its content", "id", id)
	}

	keys, err := s.blobs.Keys()
	if err != nil {
		return fmt.Errorf("failed to list content keys: %w", err)
	}

	orphaned := 0
	for _, key := range keys {
		if known[key] {
			continue
		}
		if err := s.blobs.Remove(key); err != nil {
			s.logger.Error("failed to remove orphaned content", "key", key, "error", err)
			continue
		}
		orphaned++
		s.logger.Warn("removed content file without metadata", "key", key)
	}

	if pruned > 0 || orphaned > 0 {
		s.logger.Info("storage sweep finished", "pruned_metadata", pruned, "orphaned_blobs", orphaned)
	}
	return nil
}

// ReconcileKey 核对单个内容键（供目录监控使用）
// 缺内容的元数据记录被删除，无元数据的内容文件被清除
func (s *Service) ReconcileKey(key string) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.repo.FindByID(key)
	if err != nil {
		return fmt.Errorf("failed to check metadata for key %s: %w", key, err)
	}
	hasBlob := s.blobs.Exists(key)

	switch {
	case doc != nil && !hasBlob:
		if _, err := s.repo.Delete(key); err != nil {
			return fmt.Errorf("failed to prune metadata without content: %w", err)
		}
		s.logger.Warn("pruned metadata record missing its content", "id", key)
	case doc == nil && hasBlob:
		if err := s.blobs.Remove(key); err != nil {
			return fmt.Errorf("failed to remove orphaned content: %w", err)
		}
		s.logger.Warn("removed content file without metadata", "key", key)
	}
	return nil
}

// lockFor 获取指定摘要的互斥锁
func (s *Service) lockFor(digest string) *sync.Mutex {
	v, _ := s.digestLocks.LoadOrStore(digest, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// sanitizeFilename 清理客户端提交的文件名
// 去掉路径部分与控制字符，空结果回退为 unnamed
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "unnamed"
	}
	return name
}

// resolveContentType 结合文件头签名确定内容类型
// 客户端声明缺失或与签名冲突时，以签名嗅探结果为准
func resolveContentType(declared string, data []byte) string {
	sniffed := baseMediaType(http.DetectContentType(data))
	declaredBase := baseMediaType(declared)

	switch {
	case declaredBase == "" || declaredBase == "application/octet-stream":
		return sniffed
	case sniffed == "application/octet-stream" || sniffed == "text/plain":
		// 签名无法识别，或内容是无签名可言的纯文本，信任声明
		return declared
	case sniffed == declaredBase || compatibleContainer(sniffed, declaredBase):
		return declared
	default:
		return sniffed
	}
}

// baseMediaType 去掉媒体类型的参数部分（如 charset）
func baseMediaType(contentType string) string {
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// compatibleContainer Office 文档是 zip 容器，签名只能看到外层
func compatibleContainer(sniffed, declared string) bool {
	return sniffed == "application/zip" &&
		strings.HasPrefix(declared, "application/vnd.openxmlformats-officedocument.")
}
