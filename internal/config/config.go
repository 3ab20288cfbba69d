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

// Config 描述 ChainBazaar 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Events   EventsConfig   `json:"events"`
	Alerting AlertingConfig `json:"alerting"`
	LLM      LLMConfig      `json:"llm"`
	Web3     Web3Config     `json:"web3"`
	Payment  PaymentConfig  `json:"payment"`
	Registry RegistryConfig `json:"registry"`
	Demo     DemoConfig     `json:"demo"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
	// MetricsAddress 非空时在独立端口暴露 Prometheus 文本格式指标。
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 控制结构化日志与审计日志的输出。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// StorageConfig 描述市场数据的持久化后端与限流用的 Redis。
type StorageConfig struct {
	Driver                 string      `json:"driver"`
	DSN                    string      `json:"dsn"`
	MaxOpenConns           int         `json:"max_open_conns"`
	MaxIdleConns           int         `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int         `json:"conn_max_lifetime_seconds"`
	Redis                  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。地址为空时限流退化为全放行。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// EventsConfig 描述用量事件流的驱动及其参数。
type EventsConfig struct {
	Driver   string `json:"driver"`
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Capacity int    `json:"capacity"`
}

// AlertingConfig 控制工具连续失败告警。
type AlertingConfig struct {
	Enabled          bool `json:"enabled"`
	FailureThreshold int  `json:"failure_threshold"`
	WindowSeconds    int  `json:"window_seconds"`
}

// Window 返回告警统计窗口。
func (c AlertingConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。APIKeyEnv 非空时
// 优先从该环境变量读取密钥,避免密钥落入配置文件。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回单次推理调用的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Web3Config 包含访问区块链节点所需的参数。ChainConfig 指向链定义
// 文件;未提供时可以用 RPCURL 直连单条链。
type Web3Config struct {
	ChainConfig   string `json:"chain_config"`
	DefaultChain  string `json:"default_chain"`
	RPCURL        string `json:"rpc_url"`
	PrivateKey    string `json:"private_key"`
	PrivateKeyEnv string `json:"private_key_env"`
}

// PaymentConfig 描述平台的收款条件。Network 必须是链定义文件里的
// 一条链,代币合约与精度取自链定义。
type PaymentConfig struct {
	Recipient string `json:"recipient"`
	Network   string `json:"network"`
}

// RegistryConfig 描述内置工具目录的加载位置。
type RegistryConfig struct {
	CatalogPath string `json:"catalog_path"`
}

// DemoConfig 控制演示智能体。演示会用 Web3 配置的私钥真实付款。
type DemoConfig struct {
	Enabled       bool   `json:"enabled"`
	WalletAddress string `json:"wallet_address"`
	AgentName     string `json:"agent_name"`
	// RateLimit 与 WindowSeconds 约束单个来源每窗口可启动的会话数。
	RateLimit     int `json:"rate_limit"`
	WindowSeconds int `json:"window_seconds"`
}

// Window 返回演示会话限流窗口。
func (c DemoConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.WindowSeconds) * time.Second
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

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}

	if c.Alerting.FailureThreshold <= 0 {
		c.Alerting.FailureThreshold = 3
	}
	if c.Alerting.WindowSeconds <= 0 {
		c.Alerting.WindowSeconds = 300
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.PrivateKey == "" && c.Web3.PrivateKeyEnv != "" {
		c.Web3.PrivateKey = os.Getenv(c.Web3.PrivateKeyEnv)
	}

	if c.Registry.CatalogPath != "" && !filepath.IsAbs(c.Registry.CatalogPath) {
		c.Registry.CatalogPath = filepath.Join(baseDir, c.Registry.CatalogPath)
	}

	if c.Demo.AgentName == "" {
		c.Demo.AgentName = "Autonomous Demo Agent"
	}
	if c.Demo.RateLimit <= 0 {
		c.Demo.RateLimit = 3
	}
}
