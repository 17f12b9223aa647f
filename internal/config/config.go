package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 NegoChain 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Market   MarketConfig   `json:"market"`
	Ledger   LedgerConfig   `json:"ledger"`
	Auth     AuthConfig     `json:"auth"`
	Alerting AlertingConfig `json:"alerting"`
	Logging  LoggingConfig  `json:"logging"`
}

// AuthConfig 控制 API 的访问令牌校验。Keys 的键是令牌，值是调用方名称。
type AuthConfig struct {
	Enabled bool              `json:"enabled"`
	Keys    map[string]string `json:"keys"`
}

// AlertingConfig 配置会话处理失败告警的通知渠道。所有 webhook 都为空时
// 不派发告警。Slack 的 incoming webhook 自带默认频道，slack_channel 仅在
// 需要覆盖时配置。
type AlertingConfig struct {
	DingTalkWebhook string `json:"dingtalk_webhook"`
	SlackWebhook    string `json:"slack_webhook"`
	SlackChannel    string `json:"slack_channel"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述会话持久化后端的连接信息。
type StorageConfig struct {
	SessionStore SessionStoreConfig `json:"session_store"`
}

// SessionStoreConfig 支持 memory 与 mysql 两种驱动。
type SessionStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述会话队列的驱动与连接参数。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接信息。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// MarketConfig 用于配置行情来源。
type MarketConfig struct {
	Provider        string             `json:"provider"`
	APIKey          string             `json:"api_key"`
	APIKeyEnv       string             `json:"api_key_env"`
	BaseURL         string             `json:"base_url"`
	TimeoutSeconds  int                `json:"timeout_seconds"`
	CacheTTLSeconds int                `json:"cache_ttl_seconds"`
	StaticQuotes    map[string]float64 `json:"static_quotes"`
}

// Timeout 返回行情请求超时时间。
func (c MarketConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL 返回行情缓存有效期。
func (c MarketConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LedgerConfig 包含链上登记协议指纹所需的信息。
type LedgerConfig struct {
	Enabled       bool   `json:"enabled"`
	Chain         string `json:"chain"`
	ChainsFile    string `json:"chains_file"`
	PrivateKey    string `json:"private_key"`
	PrivateKeyEnv string `json:"private_key_env"`
}

// LoggingConfig 控制结构化日志与审计日志的输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       AuditLog `json:"audit"`
}

// AuditLog 控制审计日志文件与轮转策略。
type AuditLog struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.SessionStore.Driver == "" {
		c.Storage.SessionStore.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}

	if c.Market.Provider == "" {
		c.Market.Provider = "none"
	}
	if c.Market.APIKeyEnv == "" {
		c.Market.APIKeyEnv = "ALPHA_VANTAGE_API_KEY"
	}

	if c.Ledger.Chain == "" {
		c.Ledger.Chain = "local"
	}
	if c.Ledger.ChainsFile == "" {
		c.Ledger.ChainsFile = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Ledger.ChainsFile) {
		c.Ledger.ChainsFile = filepath.Join(baseDir, c.Ledger.ChainsFile)
	}
	if c.Ledger.PrivateKeyEnv == "" {
		c.Ledger.PrivateKeyEnv = "NEGOCHAIN_LEDGER_KEY"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
