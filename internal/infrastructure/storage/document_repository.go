package storage

import (
	"database/sql"
	"fmt"
	"time"

	"log/slog"

	"github.com/casefile/backend/internal/domain/document"
	"github.com/casefile/backend/internal/infrastructure/log"
)

// documentRepository 文档元数据 SQLite 仓储实现
type documentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDocumentRepository 创建文档元数据仓储实例
func NewDocumentRepository(db *sql.DB) (document.Repository, error) {
	if err := initDocumentTable(db); err != nil {
		return nil, err
	}
	return &documentRepository{
		db:     db,
		logger: log.NewModuleLogger("storage", "documents"),
	}, nil
}

// initDocumentTable 初始化文档元数据表
// rowid 保留插入顺序，列表查询按其排序
func initDocumentTable(db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		original_filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		upload_time INTEGER NOT NULL,
		storage_key TEXT NOT NULL
	);`

	if _, err := db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	createIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_documents_upload_time ON documents(upload_time);`

	if _, err := db.Exec(createIndexSQL); err != nil {
		return fmt.Errorf("failed to create documents index: %w", err)
	}

	return nil
}

// Save 保存元数据记录
// id 冲突时不覆盖（先写者胜），返回已存在的记录
func (r *documentRepository) Save(doc *document.Document) (*document.Document, error) {
	query := `
		INSERT INTO documents (id, original_filename, content_type, size_bytes, upload_time, storage_key)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	res, err := r.db.Exec(query,
		doc.ID,
		doc.OriginalFilename,
		doc.ContentType,
		doc.SizeBytes,
		doc.UploadTime.UnixMilli(),
		doc.StorageKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save document metadata: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// 已存在，返回既有记录
		existing, err := r.FindByID(doc.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	return doc, nil
}

// FindByID 根据 ID 查找元数据
func (r *documentRepository) FindByID(id string) (*document.Document, error) {
	query := `
		SELECT id, original_filename, content_type, size_bytes, upload_time, storage_key
		FROM documents
		WHERE id = ?`

	doc, err := scanDocument(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	return doc, nil
}

// FindAll 按插入顺序返回全部元数据
func (r *documentRepository) FindAll() ([]*document.Document, error) {
	query := `
		SELECT id, original_filename, content_type, size_bytes, upload_time, storage_key
		FROM documents
		ORDER BY rowid`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete 删除元数据记录
func (r *documentRepository) Delete(id string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete document metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

// AllIDs 返回全部文档 ID
func (r *documentRepository) AllIDs() ([]string, error) {
	rows, err := r.db.Query(`SELECT id FROM documents ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// rowScanner sql.Row 与 sql.Rows 的公共 Scan 接口
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocument 扫描单条文档记录
func scanDocument(row rowScanner) (*document.Document, error) {
	var doc document.Document
	var uploadTime int64

	if err := row.Scan(
		&doc.ID,
		&doc.OriginalFilename,
		&doc.ContentType,
		&doc.SizeBytes,
		&uploadTime,
		&doc.StorageKey,
	); err != nil {
		return nil, err
	}

	doc.UploadTime = time.UnixMilli(uploadTime)
	return &doc, nil
}
