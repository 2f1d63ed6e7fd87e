package document

// Repository 文档元数据仓储接口
type Repository interface {
	// Save 保存元数据记录，ID 冲突时返回已存在的记录（先写者胜）
	Save(doc *Document) (*Document, error)
	// FindByID 根据内容摘要 ID 查找，不存在时返回 nil
	FindByID(id string) (*Document, error)
	// FindAll 按插入顺序返回全部元数据
	FindAll() ([]*Document, error)
	// Delete 删除元数据记录，返回是否存在
	Delete(id string) (bool, error)
	// AllIDs 返回全部文档 ID（用于完整性清扫）
	AllIDs() ([]string, error)
}

// BlobStore 内容寻址的文件内容存储接口
// Key 即内容摘要，写入通过临时文件 + 原子重命名发布
type BlobStore interface {
	Write(key string, data []byte) error
	Read(key string) ([]byte, error)
	Remove(key string) error
	Exists(key string) bool
	Keys() ([]string, error)
	Dir() string
}
