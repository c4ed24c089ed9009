package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 StableWatch 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Dedupe   DedupeConfig   `json:"dedupe"`
	Notifier NotifierConfig `json:"notifier"`
	LLM      LLMConfig      `json:"llm"`
	Web3     Web3Config     `json:"web3"`
	Monitor  MonitorConfig  `json:"monitor"`
	Plugins  PluginsConfig  `json:"plugins"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制管理 API 的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig 控制管理接口的认证方式，mode 取 disabled 或 jwt。
type AuthConfig struct {
	Mode  string     `json:"mode"`
	JWT   JWTConfig  `json:"jwt"`
	Seeds []AuthSeed `json:"seeds"`
}

// JWTConfig 描述本地 JWT 签发参数。
type JWTConfig struct {
	Secret            string   `json:"secret"`
	Issuer            string   `json:"issuer"`
	Audience          []string `json:"audience"`
	AccessTTLSeconds  int64    `json:"access_ttl_seconds"`
	RefreshTTLSeconds int64    `json:"refresh_ttl_seconds"`
}

// AuthSeed 描述启动时注入的账号。
type AuthSeed struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	TenantID    string   `json:"tenant_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// LoggingConfig 控制进程日志与审计日志。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制滚动切割的审计日志输出。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// StorageConfig 统一描述监控数据的持久化后端。
type StorageConfig struct {
	MonitorStore MonitorStoreConfig `json:"monitor_store"`
}

// MonitorStoreConfig 支持内存实现与 MySQL，driver 取 memory 或 mysql。
type MonitorStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// DedupeConfig 描述事件去重后端，driver 取 memory 或 redis。
type DedupeConfig struct {
	Driver     string `json:"driver"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// NotifierConfig 描述外部告警渠道。
type NotifierConfig struct {
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述告警队列的连接信息。
type RabbitMQConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// LLMConfig 用于配置告警研判的大模型调用方式，provider 取 openai 或 none。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 接口所需的信息。
type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// Web3Config 包含访问区块链节点所需的信息。ChainConfig 指向 YAML 的
// 多链定义文件；仅配置 RPCURL 时作为单一 ethereum 节点使用。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	RPCURL       string `json:"rpc_url"`
	DefaultChain string `json:"default_chain"`
}

// MonitorConfig 描述监控智能体的调度与检测参数。CronExpr 非空时优先于
// 间隔调度。
type MonitorConfig struct {
	IntervalMinutes int              `json:"interval_minutes"`
	CronExpr        string           `json:"cron_expr"`
	LookbackBlocks  uint64           `json:"lookback_blocks"`
	CatalogPath     string           `json:"catalog_path"`
	Coins           []CoinConfig     `json:"coins"`
	Thresholds      ThresholdsConfig `json:"thresholds"`
}

// CoinConfig 描述一个被监控的稳定币。
type CoinConfig struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Network  string `json:"network"`
	Active   bool   `json:"active"`
}

// ThresholdsConfig 描述异常判定阈值，零值字段使用内置默认值。
type ThresholdsConfig struct {
	LargeMint           int64 `json:"large_mint"`
	LargeBurn           int64 `json:"large_burn"`
	LargeTransfer       int64 `json:"large_transfer"`
	SupplyChangePercent int64 `json:"supply_change_percent"`
	FrequencyPerHour    int   `json:"frequency_per_hour"`
}

// PluginsConfig 指向通知插件的 YAML 管理配置，为空时不加载插件。
type PluginsConfig struct {
	ConfigPath string `json:"config_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Storage.MonitorStore.Driver == "" {
		c.Storage.MonitorStore.Driver = "memory"
	}

	if c.Dedupe.Driver == "" {
		c.Dedupe.Driver = "memory"
	}
	if c.Dedupe.TTLMinutes <= 0 {
		c.Dedupe.TTLMinutes = 24 * 60
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}

	if c.Monitor.IntervalMinutes <= 0 && c.Monitor.CronExpr == "" {
		c.Monitor.IntervalMinutes = 5
	}
	if c.Monitor.LookbackBlocks == 0 {
		c.Monitor.LookbackBlocks = 100
	}

	if chainCfg := c.Web3.ChainConfig; chainCfg != "" && !filepath.IsAbs(chainCfg) {
		c.Web3.ChainConfig = filepath.Join(baseDir, chainCfg)
	}
	if catalogPath := c.Monitor.CatalogPath; catalogPath != "" && !filepath.IsAbs(catalogPath) {
		c.Monitor.CatalogPath = filepath.Join(baseDir, catalogPath)
	}
	if pluginCfg := c.Plugins.ConfigPath; pluginCfg != "" && !filepath.IsAbs(pluginCfg) {
		c.Plugins.ConfigPath = filepath.Join(baseDir, pluginCfg)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
