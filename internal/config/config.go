package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 KlimaFlow 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Wallet    WalletConfig    `json:"wallet"`
	Chain     ChainConfig     `json:"chain"`
	Contracts ContractsConfig `json:"contracts"`
	LLM       LLMConfig       `json:"llm"`
	Agent     AgentConfig     `json:"agent"`
	Storage   StorageConfig   `json:"storage"`
	RunQueue  RunQueueConfig  `json:"run_queue"`
	Auth      AuthConfig      `json:"auth"`
	Logging   LoggingConfig   `json:"logging"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// WalletConfig 描述进程持有的唯一签名账户。
// 私钥仅允许通过环境变量注入，配置文件中只保留地址与导出文件位置。
type WalletConfig struct {
	Address        string `json:"address"`
	ExportFile     string `json:"export_file"`
	PrivateKeyHex  string `json:"-"`
	PrivateKeyEnv  string `json:"private_key_env"`
	NetworkID      string `json:"network_id"`
}

// ChainConfig 包含访问区块链节点所需的 RPC 地址与超时参数。
type ChainConfig struct {
	Name                   string `json:"name"`
	RPCURL                 string `json:"rpc_url"`
	DefinitionsFile        string `json:"definitions_file"`
	EstimateTimeoutSeconds int    `json:"estimate_timeout_seconds"`
	SendTimeoutSeconds     int    `json:"send_timeout_seconds"`
}

// ContractsConfig 记录链上依赖的合约地址。
type ContractsConfig struct {
	Token  string `json:"token"`
	Pool   string `json:"pool"`
	Market string `json:"market"`
}

// LLMConfig 用于配置对话网关的大模型调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述通过 OpenAI Chat Completions 完成推理时所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"-"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AgentConfig 控制对话网关的记忆深度与知识库来源。
type AgentConfig struct {
	MemoryDepth         int    `json:"memory_depth"`
	KnowledgeFile       string `json:"knowledge_file"`
	KnowledgeMaxResults int    `json:"knowledge_max_results"`
}

// Timeout 返回 OpenAI 请求超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig 统一描述运行记录的持久化后端。
type StorageConfig struct {
	RunStore RunStoreConfig `json:"run_store"`
}

// RunStoreConfig 目前提供内存实现与 MySQL 实现。
type RunStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// RunQueueConfig 描述策略执行队列的驱动。
type RunQueueConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"-"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// AuthConfig 控制 API 鉴权模式。
type AuthConfig struct {
	Mode string   `json:"mode"`
	Keys []string `json:"keys"`
}

// LoggingConfig 控制日志输出行为。
type LoggingConfig struct {
	Level   string   `json:"level"`
	Format  string   `json:"format"`
	Outputs []string `json:"outputs"`
	Audit   struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"audit"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件并注入环境变量中的密钥。
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
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Wallet.PrivateKeyEnv == "" {
		c.Wallet.PrivateKeyEnv = "KLIMAFLOW_PRIVATE_KEY"
	}
	if c.Wallet.NetworkID == "" {
		c.Wallet.NetworkID = "base-sepolia"
	}
	if c.Wallet.ExportFile == "" {
		c.Wallet.ExportFile = "wallet_data.txt"
	}

	if c.Chain.Name == "" {
		c.Chain.Name = "ethereum"
	}
	if c.Chain.EstimateTimeoutSeconds <= 0 {
		c.Chain.EstimateTimeoutSeconds = 15
	}
	if c.Chain.SendTimeoutSeconds <= 0 {
		c.Chain.SendTimeoutSeconds = 30
	}
	if c.Chain.DefinitionsFile != "" && !filepath.IsAbs(c.Chain.DefinitionsFile) {
		c.Chain.DefinitionsFile = filepath.Join(baseDir, c.Chain.DefinitionsFile)
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}

	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 5
	}
	if c.Agent.KnowledgeFile != "" && !filepath.IsAbs(c.Agent.KnowledgeFile) {
		c.Agent.KnowledgeFile = filepath.Join(baseDir, c.Agent.KnowledgeFile)
	}

	if c.Storage.RunStore.Driver == "" {
		c.Storage.RunStore.Driver = "memory"
	}
	if c.RunQueue.Driver == "" {
		c.RunQueue.Driver = "memory"
	}
	if c.RunQueue.Workers <= 0 {
		c.RunQueue.Workers = 1
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if !filepath.IsAbs(c.Wallet.ExportFile) {
		c.Wallet.ExportFile = filepath.Join(c.Runtime.DataDir, c.Wallet.ExportFile)
	}
}

// applyEnv 从环境变量读取不允许落盘的敏感信息。
func (c *Config) applyEnv() {
	if key := strings.TrimSpace(os.Getenv(c.Wallet.PrivateKeyEnv)); key != "" {
		c.Wallet.PrivateKeyHex = key
	}
	if key := strings.TrimSpace(os.Getenv(c.LLM.OpenAI.APIKeyEnv)); key != "" {
		c.LLM.OpenAI.APIKey = key
	}
	if pw := strings.TrimSpace(os.Getenv("KLIMAFLOW_REDIS_PASSWORD")); pw != "" {
		c.RunQueue.Redis.Password = pw
	}
}

// validate 检查缺失时无法继续启动的字段。
func (c *Config) validate() error {
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		return errors.New("未配置链 RPC 地址")
	}
	if strings.TrimSpace(c.Contracts.Token) == "" {
		return errors.New("未配置 KLIMA 代币合约地址")
	}
	if strings.TrimSpace(c.Contracts.Pool) == "" {
		return errors.New("未配置质押池合约地址")
	}
	return nil
}
