package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置。Load 在默认值上合并配置文件与环境变量。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Store    StoreConfig    `yaml:"store"`
	Intel    IntelConfig    `yaml:"intel"`
	Contract ContractConfig `yaml:"contract"`
	Tickets  TicketsConfig  `yaml:"tickets"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AllowedOrigins 是 CORS 与 WebSocket 升级都认的来源白名单。
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Diagnostics 打开后 /api/chat 响应携带 debug 负载。
	Diagnostics bool `yaml:"diagnostics"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type SessionConfig struct {
	DefaultLocale string `yaml:"default_locale"`
	// IdleTTL 之后无活动的会话可被存储回收。
	IdleTTL time.Duration `yaml:"idle_ttl"`
	// MaxAttempts 是同一阶段连续前置失败升级人工前的上限。
	MaxAttempts int `yaml:"max_attempts"`
	// FlushInterval 是写回清扫周期。
	FlushInterval time.Duration `yaml:"flush_interval"`
	// CriticalReasons 里的迁移原因跳过延迟写、立即落库。
	// 空列表表示沿用内置默认集，不是关闭关键落库。
	CriticalReasons []string `yaml:"critical_reasons"`
	// MaxContextTurns 是送给智能协作方的近期对话条数。
	MaxContextTurns int `yaml:"max_context_turns"`
}

type StoreConfig struct {
	// Backend 可选 memory 或 redis。
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type IntelConfig struct {
	// Enabled 为 false 时全部走确定性回复，不建外呼客户端。
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	// Timeout 是逐轮软超时，超过即放弃建议、走确定性兜底。
	Timeout time.Duration `yaml:"timeout"`
	// HardTimeout 是 HTTP 客户端的硬上限。
	HardTimeout time.Duration `yaml:"hard_timeout"`
}

type ContractConfig struct {
	// StagesPath 指向阶段契约表的 YAML 覆盖文件，空则用内置表。
	StagesPath string `yaml:"stages_path"`
}

type TicketsConfig struct {
	// WhatsAppPhone 是 wa.me 链接里的接待号码，仅数字与国家码。
	WhatsAppPhone string `yaml:"whatsapp_phone"`
}

type AuditConfig struct {
	// TrailPath 是 CSV 审计文件路径，空则只保留进程内的实时流。
	TrailPath string `yaml:"trail_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default 返回可直接运行的默认配置（内存存储、智能协作关闭）。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		Session: SessionConfig{
			DefaultLocale:   "es-AR",
			IdleTTL:         30 * time.Minute,
			MaxAttempts:     3,
			FlushInterval:   5 * time.Second,
			MaxContextTurns: 6,
		},
		Store: StoreConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Intel: IntelConfig{
			Timeout:     2500 * time.Millisecond,
			HardTimeout: 10 * time.Second,
		},
		Tickets: TicketsConfig{
			WhatsAppPhone: "5493415550000",
		},
		Audit: AuditConfig{
			TrailPath: "flow-audit.csv",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load 读取配置文件并套用环境变量覆盖。path 为空时返回默认配置。
// 敏感信息（智能协作方密钥、Redis 口令）优先取环境变量，避免进文件。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("INTEL_ENDPOINT"); v != "" {
		cfg.Intel.Endpoint = v
	}
	if v := os.Getenv("INTEL_API_KEY"); v != "" {
		cfg.Intel.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate 检查配置自洽性。
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for redis backend")
		}
	default:
		return fmt.Errorf("store.backend %q not supported (memory|redis)", c.Store.Backend)
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("session.idle_ttl must be positive")
	}
	if c.Session.MaxAttempts < 1 {
		return fmt.Errorf("session.max_attempts must be at least 1")
	}
	if c.Session.FlushInterval <= 0 {
		return fmt.Errorf("session.flush_interval must be positive")
	}
	if c.Session.MaxContextTurns < 0 {
		return fmt.Errorf("session.max_context_turns must not be negative")
	}
	if c.Intel.Enabled && c.Intel.Endpoint == "" {
		return fmt.Errorf("intel.endpoint is required when intel is enabled")
	}
	return nil
}
