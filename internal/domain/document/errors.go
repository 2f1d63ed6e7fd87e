package document

import "errors"

var (
	// ErrNotFound 文档不存在
	ErrNotFound = errors.New("document not found")
	// ErrEmptyContent 文件内容为空
	ErrEmptyContent = errors.New("document content is empty")
	// ErrTooLarge 文件超出大小限制
	ErrTooLarge = errors.New("document exceeds size limit")
)
