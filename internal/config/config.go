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

// EnvConfigPath 指定配置文件路径的环境变量名。
const EnvConfigPath = "AUDITAGENT_CONFIG"

// Config 描述审计智能体启动阶段需要加载的全部配置。
type Config struct {
	Agent      AgentConfig      `json:"agent"`
	Server     ServerConfig     `json:"server"`
	Transport  TransportConfig  `json:"transport"`
	Checkpoint CheckpointConfig `json:"checkpoint"`
	Storage    StorageConfig    `json:"storage"`
	Engine     EngineConfig     `json:"engine"`
	Fetcher    FetcherConfig    `json:"fetcher"`
	Sandbox    SandboxConfig    `json:"sandbox"`
	Knowledge  KnowledgeConfig  `json:"knowledge"`
	Alerting   AlertingConfig   `json:"alerting"`
	Logging    LoggingConfig    `json:"logging"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// AgentConfig 描述智能体在共识网络中的身份。
type AgentConfig struct {
	AccountID      string `json:"account_id"`
	InboundTopicID string `json:"inbound_topic_id"`
	// InboundTopicMemo 在入站主题尚不存在时用于创建。
	InboundTopicMemo string `json:"inbound_topic_memo"`
	MaxTurns         int    `json:"max_turns"`
	Workers          int    `json:"workers"`
}

// ServerConfig 控制状态 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// TransportConfig 选择共识日志传输驱动，目前支持 memory 与 redis。
type TransportConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接信息，传输层与检查点共用。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// CheckpointConfig 选择恢复检查点的存储驱动，支持 file 与 redis。
type CheckpointConfig struct {
	Driver string      `json:"driver"`
	Path   string      `json:"path"`
	Key    string      `json:"key"`
	Redis  RedisConfig `json:"redis"`
}

// StorageConfig 统一描述审计记录仓库的后端。
type StorageConfig struct {
	AuditStore AuditStoreConfig `json:"audit_store"`
}

// AuditStoreConfig 提供内存实现，也可以切换到真正的 MySQL。
type AuditStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// EngineConfig 配置推理引擎的调用方式。
type EngineConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述兼容 OpenAI 接口的推理服务。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// FetcherConfig 描述合约源码获取所需的镜像节点与源码服务地址。
type FetcherConfig struct {
	MirrorBaseURL  string `json:"mirror_base_url"`
	SourceBaseURL  string `json:"source_base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SandboxConfig 描述分析工具沙箱的运行参数。
type SandboxConfig struct {
	CatalogPath      string `json:"catalog_path"`
	WorkspaceDir     string `json:"workspace_dir"`
	DynamicTestImage string `json:"dynamic_test_image"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
}

// KnowledgeConfig 描述静态知识库文件。
type KnowledgeConfig struct {
	Path string `json:"path"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	Channels []string       `json:"channels"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接与队列。
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// LoggingConfig 控制日志级别与审计日志目录。
type LoggingConfig struct {
	Level    string `json:"level"`
	AuditDir string `json:"audit_dir"`
}

// RuntimeConfig 放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 解析指定路径的 JSON 配置文件。路径为空时回退到
// AUDITAGENT_CONFIG 环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
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

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// EngineTimeout 返回推理请求超时。
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.OpenAI.TimeoutSeconds) * time.Second
}

// FetcherTimeout 返回源码获取超时。
func (c *Config) FetcherTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// SandboxTimeout 返回单次工具执行超时。
func (c *Config) SandboxTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSeconds) * time.Second
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Agent.MaxTurns <= 0 {
		c.Agent.MaxTurns = 15
	}
	if c.Agent.Workers <= 0 {
		c.Agent.Workers = 1
	}
	if c.Agent.InboundTopicMemo == "" {
		c.Agent.InboundTopicMemo = "audit-agent:inbound"
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Transport.Driver == "" {
		c.Transport.Driver = "memory"
	}
	if c.Transport.Redis.Address == "" {
		c.Transport.Redis.Address = "127.0.0.1:6379"
	}

	if c.Checkpoint.Driver == "" {
		c.Checkpoint.Driver = "file"
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = filepath.Join(baseDir, "data", "checkpoint.json")
	} else if !filepath.IsAbs(c.Checkpoint.Path) {
		c.Checkpoint.Path = filepath.Join(baseDir, c.Checkpoint.Path)
	}
	if c.Checkpoint.Redis.Address == "" {
		c.Checkpoint.Redis.Address = c.Transport.Redis.Address
	}

	if c.Storage.AuditStore.Driver == "" {
		c.Storage.AuditStore.Driver = "memory"
	}

	if c.Engine.Provider == "" {
		c.Engine.Provider = "openai"
	}
	if c.Engine.OpenAI.TimeoutSeconds <= 0 {
		c.Engine.OpenAI.TimeoutSeconds = 120
	}

	if c.Fetcher.MirrorBaseURL == "" {
		c.Fetcher.MirrorBaseURL = "https://testnet.mirrornode.hedera.com"
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		c.Fetcher.TimeoutSeconds = 30
	}

	if c.Sandbox.CatalogPath == "" {
		c.Sandbox.CatalogPath = filepath.Join(baseDir, "tools.yaml")
	} else if !filepath.IsAbs(c.Sandbox.CatalogPath) {
		c.Sandbox.CatalogPath = filepath.Join(baseDir, c.Sandbox.CatalogPath)
	}
	if c.Sandbox.WorkspaceDir == "" {
		c.Sandbox.WorkspaceDir = os.TempDir()
	}
	if c.Sandbox.DynamicTestImage == "" {
		c.Sandbox.DynamicTestImage = "ghcr.io/foundry-rs/foundry:latest"
	}
	if c.Sandbox.TimeoutSeconds <= 0 {
		c.Sandbox.TimeoutSeconds = 120
	}

	if c.Knowledge.Path != "" && !filepath.IsAbs(c.Knowledge.Path) {
		c.Knowledge.Path = filepath.Join(baseDir, c.Knowledge.Path)
	}

	if len(c.Alerting.Channels) == 0 {
		c.Alerting.Channels = []string{"log"}
	}
	if c.Alerting.RabbitMQ.Queue == "" {
		c.Alerting.RabbitMQ.Queue = "auditagent.alerts"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.AuditDir == "" {
		c.Logging.AuditDir = filepath.Join(baseDir, "logs")
	} else if !filepath.IsAbs(c.Logging.AuditDir) {
		c.Logging.AuditDir = filepath.Join(baseDir, c.Logging.AuditDir)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// validate 校验驱动取值与必填身份字段。
func (c *Config) validate() error {
	if c.Agent.AccountID == "" {
		return errors.New("agent.account_id 不能为空")
	}

	switch c.Transport.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("不支持的传输驱动: %q", c.Transport.Driver)
	}

	switch c.Checkpoint.Driver {
	case "file", "redis":
	default:
		return fmt.Errorf("不支持的检查点驱动: %q", c.Checkpoint.Driver)
	}

	switch c.Storage.AuditStore.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("不支持的审计记录存储驱动: %q", c.Storage.AuditStore.Driver)
	}

	if c.Engine.Provider != "openai" {
		return fmt.Errorf("不支持的推理引擎: %q", c.Engine.Provider)
	}

	return nil
}
