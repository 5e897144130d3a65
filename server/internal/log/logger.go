package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config 是全局日志器的一次性配置。
type Config struct {
	Level   string    // debug / info / warn / error，空则读 LOG_LEVEL 环境变量
	Output  io.Writer // 默认 os.Stdout
	Service string    // 附加到每条日志的服务名
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure 初始化全局日志器，仅首次调用生效。
// main 必须在任何组件打日志之前调用，否则组件会以默认配置抢先完成初始化。
func Configure(cfg Config) {
	once.Do(func() {
		level := zerolog.InfoLevel
		if cfg.Level != "" {
			if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		} else if env := os.Getenv("LOG_LEVEL"); env != "" {
			if parsed, err := zerolog.ParseLevel(env); err == nil {
				level = parsed
			}
		}
		zerolog.SetGlobalLevel(level)
		zerolog.TimeFieldFormat = time.RFC3339

		writer := cfg.Output
		if writer == nil {
			writer = os.Stdout
		}

		service := cfg.Service
		if service == "" {
			service = "stibot"
		}

		base = zerolog.New(writer).With().
			Timestamp().
			Str("service", service).
			Logger()
	})
}

func logger() zerolog.Logger {
	Configure(Config{})
	return base
}

// Base 返回配置好的基础日志器。
func Base() zerolog.Logger {
	return logger()
}

// WithComponent 返回带组件名的子日志器。
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str("component", component).Logger()
}
