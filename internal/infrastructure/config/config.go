package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Upload   UploadConfig   `yaml:"upload"`
	LLM      LLMConfig      `yaml:"llm"`
	Stream   StreamConfig   `yaml:"stream"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTPPort 固定端口，同时用于单例锁
	HTTPPort string `yaml:"http_port"`
	// AllowedOrigins 允许的 CORS 来源
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Path SQLite 文件路径，留空表示 <datadir>/casefile.db
	Path string `yaml:"path"`
}

// StorageConfig 文档存储配置
type StorageConfig struct {
	// BlobDir 内容寻址文件目录，留空表示 <datadir>/documents/blobs
	BlobDir string `yaml:"blob_dir"`
}

// UploadConfig 上传配置
type UploadConfig struct {
	// MaxSizeMB 单文件大小上限（MB）
	MaxSizeMB int `yaml:"max_size_mb"`
}

// LLMConfig 模型网关配置
type LLMConfig struct {
	// BaseURL OpenAI 兼容 API 地址
	BaseURL string `yaml:"base_url"`
	// APIKey API 密钥（通常来自 OPENAI_API_KEY 环境变量）
	APIKey string `yaml:"api_key"`
	// Model 模型名称
	Model string `yaml:"model"`
	// MaxTokens 单次回复 token 上限
	MaxTokens int `yaml:"max_tokens"`
	// Temperature 采样温度
	Temperature float32 `yaml:"temperature"`
	// ContextBudgetTokens 上下文 token 预算（历史裁剪用）
	ContextBudgetTokens int `yaml:"context_budget_tokens"`
	// MaxAttempts 首 token 前的最大尝试次数
	MaxAttempts int `yaml:"max_attempts"`
	// InitialBackoff 重试初始等待
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	// MaxBackoff 重试等待上限
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// StreamConfig 流协调器配置
type StreamConfig struct {
	// FlushEveryTokens 每收到多少 token 把部分内容刷入账本
	FlushEveryTokens int `yaml:"flush_every_tokens"`
	// MaxReplyBytes 单条助手回复的累积器上限
	MaxReplyBytes int `yaml:"max_reply_bytes"`
	// KeepaliveInterval SSE 保活间隔
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// ConfigFileName 配置文件名（位于数据目录下）
const ConfigFileName = "config.yaml"

// NewConfig 创建配置：默认值 + 可选 YAML 文件 + 环境变量覆盖
func NewConfig() *Config {
	cfg := defaultConfig()

	// 配置文件可选，缺失或损坏时保持默认值
	path := filepath.Join(GetDataDir(), ConfigFileName)
	if data, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(data, cfg)
	}

	cfg.applyEnv()
	cfg.fillDerived()
	return cfg
}

// defaultConfig 默认配置
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       ":19970",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Upload: UploadConfig{
			MaxSizeMB: 50,
		},
		LLM: LLMConfig{
			BaseURL:             "https://api.openai.com/v1",
			Model:               "gpt-4o-mini",
			MaxTokens:           1024,
			Temperature:         0.7,
			ContextBudgetTokens: 6000,
			MaxAttempts:         3,
			InitialBackoff:      time.Second,
			MaxBackoff:          30 * time.Second,
		},
		Stream: StreamConfig{
			FlushEveryTokens:  20,
			MaxReplyBytes:     1 << 20,
			KeepaliveInterval: 15 * time.Second,
		},
	}
}

// applyEnv 环境变量覆盖
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("CASEFILE_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("CASEFILE_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("CASEFILE_HTTP_PORT"); v != "" {
		c.Server.HTTPPort = normalizePort(v)
	}
	if v := os.Getenv("CASEFILE_UPLOAD_MAX_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Upload.MaxSizeMB = n
		}
	}
}

// fillDerived 填充由数据目录派生的默认路径
func (c *Config) fillDerived() {
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(GetDataDir(), "casefile.db")
	}
	if c.Storage.BlobDir == "" {
		c.Storage.BlobDir = filepath.Join(GetDataDir(), "documents", "blobs")
	}
}

// MaxUploadBytes 单文件大小上限（字节）
func (c *UploadConfig) MaxUploadBytes() int64 {
	return int64(c.MaxSizeMB) << 20
}

// normalizePort 规范化端口写法，支持 "19970" 与 ":19970"
func normalizePort(p string) string {
	if p == "" || p[0] == ':' {
		return p
	}
	return fmt.Sprintf(":%s", p)
}

// NewServerConfig 创建服务器配置
func NewServerConfig(cfg *Config) *ServerConfig {
	return &cfg.Server
}

// NewDatabaseConfig 创建数据库配置
func NewDatabaseConfig(cfg *Config) *DatabaseConfig {
	return &cfg.Database
}

// NewStorageConfig 创建文档存储配置
func NewStorageConfig(cfg *Config) *StorageConfig {
	return &cfg.Storage
}

// NewUploadConfig 创建上传配置
func NewUploadConfig(cfg *Config) *UploadConfig {
	return &cfg.Upload
}

// NewLLMConfig 创建模型网关配置
func NewLLMConfig(cfg *Config) *LLMConfig {
	return &cfg.LLM
}

// NewStreamConfig 创建流协调器配置
func NewStreamConfig(cfg *Config) *StreamConfig {
	return &cfg.Stream
}
