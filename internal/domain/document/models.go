package document

import "time"

// Document 文档元数据
// ID 与 StorageKey 均由文件内容的 SHA-256 摘要推导，
// 相同内容的文件无论上传多少次都解析为同一条记录
type Document struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	ContentType      string    `json:"content_type"`
	SizeBytes        int64     `json:"size_bytes"`
	UploadTime       time.Time `json:"upload_time"`
	StorageKey       string    `json:"storage_key"`
}

// SizeMB 返回文件大小（MB）
func (d *Document) SizeMB() float64 {
	return float64(d.SizeBytes) / (1024 * 1024)
}

// StorageStats 存储统计信息
type StorageStats struct {
	TotalDocuments int     `json:"total_documents"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	TotalSizeMB    float64 `json:"total_size_mb"`
	StoragePath    string  `json:"storage_path"`
}
