package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	appdocument "github.com/casefile/backend/internal/application/document"
	"github.com/casefile/backend/internal/domain/document"
	"github.com/casefile/backend/internal/interfaces/http/response"
)

// DocumentHandler 文档处理器
type DocumentHandler struct {
	service *appdocument.Service
}

// NewDocumentHandler 创建文档处理器
func NewDocumentHandler(service *appdocument.Service) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// UploadResult 单个文件的上传结果
type UploadResult struct {
	Filename string             `json:"filename"`
	Document *document.Document `json:"document,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Upload 上传文档（支持多文件，逐个返回结果）
// @Summary 上传文档
// @Tags 文档
// @Accept multipart/form-data
// @Produce json
// @Param files formData file true "文档文件（可多个）"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Router /documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, codeBadRequest, "参数错误")
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		response.Error(c, http.StatusBadRequest, codeBadRequest, "缺少上传文件")
		return
	}

	results := make([]UploadResult, 0, len(files))
	succeeded := 0
	for _, fh := range files {
		result := UploadResult{Filename: fh.Filename}

		doc, err := h.storeOne(fh)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Document = doc
			succeeded++
		}
		results = append(results, result)
	}

	response.Success(c, gin.H{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(files) - succeeded,
	})
}

// storeOne 存储单个上传文件
func (h *DocumentHandler) storeOne(fh *multipart.FileHeader) (*document.Document, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return h.service.Store(fh.Filename, contentType, data)
}

// List 列出全部文档
// @Summary 文档列表
// @Tags 文档
// @Produce json
// @Success 200 {object} response.Response
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.service.List()
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.Success(c, docs)
}

// Get 查询文档元数据
// @Summary 文档详情
// @Tags 文档
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.service.Get(c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.Success(c, doc)
}

// Content 下载文档内容
// @Summary 下载文档
// @Tags 文档
// @Produce octet-stream
// @Param id path string true "文档 ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.ErrorResponse
// @Router /documents/{id}/content [get]
func (h *DocumentHandler) Content(c *gin.Context) {
	doc, data, err := h.service.GetContent(c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.OriginalFilename))
	c.Data(http.StatusOK, doc.ContentType, data)
}

// Delete 删除文档
// @Summary 删除文档
// @Tags 文档
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Param("id")); err != nil {
		writeDomainError(c, err)
		return
	}
	response.Success(c, nil)
}

// Stats 存储统计
// @Summary 存储统计
// @Tags 文档
// @Produce json
// @Success 200 {object} response.Response
// @Router /documents/stats [get]
func (h *DocumentHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats()
	if err != nil {
		writeDomainError(c, err)
		return
	}
	response.Success(c, stats)
}
