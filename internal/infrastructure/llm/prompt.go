package llm

import (
	"fmt"
	"strings"

	"log/slog"

	"github.com/casefile/backend/internal/domain/chat"
	"github.com/casefile/backend/internal/infrastructure/config"
	"github.com/casefile/backend/internal/infrastructure/log"
)

const basePrompt = `You are an AI Legal Assistant designed to help with legal document analysis and research. You provide accurate, helpful, and professional assistance with legal matters.

Key capabilities:
- Analyze legal documents and contracts
- Provide summaries and key point extraction
- Answer questions about legal concepts and procedures
- Offer research assistance and document review

Important guidelines:
- Always maintain professional tone and accuracy
- Cite specific document sections when referencing uploaded documents
- Clearly distinguish between factual information and legal interpretation
- Recommend consulting with qualified legal professionals for specific legal advice
- Never provide definitive legal conclusions without proper qualification`

const regularModePrompt = `REGULAR MODE: Provide clear, concise responses that:
- Address the user's question directly and efficiently
- Include key relevant information from documents when applicable
- Use accessible language while maintaining accuracy
- Provide practical guidance and next steps when appropriate`

const deepResearchModePrompt = `DEEP RESEARCH MODE: Provide comprehensive, detailed analysis with:
- Thorough examination of all relevant document sections
- Multiple perspectives and considerations
- Detailed citations with specific page/section references
- Comprehensive background context and legal principles
- Step-by-step reasoning for complex issues
- Identification of potential risks, opportunities, and alternatives`

// PromptBuilder 构建系统提示词并按 Token 预算裁剪历史
type PromptBuilder struct {
	cfg       *config.LLMConfig
	estimator *TokenEstimator
	logger    *slog.Logger
}

// NewPromptBuilder 创建提示词构建器
// tiktoken 编码加载失败时降级为按字符数估算
func NewPromptBuilder(cfg *config.LLMConfig) *PromptBuilder {
	logger := log.NewModuleLogger("llm", "prompt")
	est, err := GetTokenEstimator()
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, falling back to character estimate", "error", err)
		est = nil
	}
	return &PromptBuilder{
		cfg:       cfg,
		estimator: est,
		logger:    logger,
	}
}

// BuildSystemPrompt 按对话模式拼装系统提示词
// regular 模式只列出文档元信息；deep_research 模式额外内联文档正文
func (b *PromptBuilder) BuildSystemPrompt(mode chat.Mode, docs []chat.DocumentContext) string {
	parts := []string{basePrompt}

	switch mode {
	case chat.ModeDeepResearch:
		parts = append(parts, deepResearchModePrompt)
	default:
		parts = append(parts, regularModePrompt)
	}

	if len(docs) > 0 {
		parts = append(parts, b.buildDocumentContext(mode, docs))
	}

	return strings.Join(parts, "\n\n")
}

// buildDocumentContext 构建文档上下文段落
func (b *PromptBuilder) buildDocumentContext(mode chat.Mode, docs []chat.DocumentContext) string {
	var sb strings.Builder
	sb.WriteString("AVAILABLE DOCUMENTS:\n")

	for i, doc := range docs {
		id := doc.Meta.ID
		if len(id) > 16 {
			id = id[:16] + "..."
		}
		fmt.Fprintf(&sb, "%d. **%s** (ID: %s)\n", i+1, doc.Meta.OriginalFilename, id)
		fmt.Fprintf(&sb, "   - Type: %s\n", doc.Meta.ContentType)
		fmt.Fprintf(&sb, "   - Size: %.2f MB\n", doc.Meta.SizeMB())
		fmt.Fprintf(&sb, "   - Uploaded: %s\n", doc.Meta.UploadTime.Format("2006-01-02 15:04"))

		if mode == chat.ModeDeepResearch && doc.Text != "" {
			fmt.Fprintf(&sb, "   - Content:\n---\n%s\n---\n", doc.Text)
		}
	}

	sb.WriteString("\nWhen referencing these documents, use the filename and document ID. Provide specific citations where possible.")
	return sb.String()
}

// TrimHistory 从最旧消息开始裁剪，使历史整体不超过上下文 Token 预算
// 最新一条消息永远保留
func (b *PromptBuilder) TrimHistory(history []*chat.Message) []*chat.Message {
	budget := b.cfg.ContextBudgetTokens
	if budget <= 0 || len(history) == 0 {
		return history
	}

	total := 0
	// 从最新往回累计，超预算即停
	cut := 0
	for i := len(history) - 1; i >= 0; i-- {
		total += b.countTokens(history[i].Content)
		if total > budget && i < len(history)-1 {
			cut = i + 1
			break
		}
	}

	if cut > 0 {
		b.logger.Info("trimmed chat history to fit context budget",
			"dropped", cut,
			"kept", len(history)-cut,
			"budget", budget,
		)
	}
	return history[cut:]
}

// countTokens 估算单条消息的 Token 数量
func (b *PromptBuilder) countTokens(text string) int {
	if b.estimator != nil {
		return b.estimator.CountTokens(text)
	}
	// 粗略估算：平均每 4 个字符一个 token
	return len(text)/4 + 1
}
