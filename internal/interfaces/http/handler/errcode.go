package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/internal/domain/document"
	"github.com/casefile/backend/internal/interfaces/http/response"
)

// 错误码约定：1xxxxx 通用，2xxxxx 文档，3xxxxx 会话
const (
	codeBadRequest = 100001
	codeInternal   = 100002

	codeDocNotFound = 200001
	codeDocEmpty    = 200002
	codeDocTooLarge = 200003

	codeSessionNotFound = 300001
	codeEmptyMessage    = 300002
	codeInvalidMode     = 300003
	codeUnknownDocument = 300004
	codeTurnInProgress  = 300005
	codeUpstream        = 300006
)

// writeDomainError 把领域错误映射为 HTTP 响应
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, document.ErrNotFound):
		response.Error(c, http.StatusNotFound, codeDocNotFound, "文档不存在")
	case errors.Is(err, document.ErrEmptyContent):
		response.Error(c, http.StatusBadRequest, codeDocEmpty, "文件内容为空")
	case errors.Is(err, document.ErrTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, codeDocTooLarge, "文件超出大小限制")
	case errors.Is(err, chat.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, codeSessionNotFound, "会话不存在")
	case errors.Is(err, chat.ErrEmptyMessage):
		response.Error(c, http.StatusBadRequest, codeEmptyMessage, "消息内容为空")
	case errors.Is(err, chat.ErrInvalidMode):
		response.Error(c, http.StatusBadRequest, codeInvalidMode, "非法的对话模式")
	case errors.Is(err, chat.ErrUnknownDocument):
		response.Error(c, http.StatusBadRequest, codeUnknownDocument, "引用的文档不存在")
	case errors.Is(err, chat.ErrTurnInProgress):
		response.Error(c, http.StatusConflict, codeTurnInProgress, "会话已有进行中的对话")
	case errors.Is(err, chat.ErrUpstreamUnavailable):
		response.Error(c, http.StatusServiceUnavailable, codeUpstream, "模型服务不可用")
	default:
		response.ErrorWithDetail(c, http.StatusInternalServerError, codeInternal, "内部错误", err.Error())
	}
}
