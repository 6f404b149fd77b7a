package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Users   UsersConfig   `envPrefix:"USERS_"`
	GraphQL GraphQLConfig `envPrefix:"GRAPHQL_"`
	Log     LogConfig     `envPrefix:"LOG_"`
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if cfg.Users.Count < 0 {
		return nil, fmt.Errorf("invalid USERS_COUNT value: %d", cfg.Users.Count)
	}
	if cfg.Server.EventBuffer < 1 {
		cfg.Server.EventBuffer = 1
	}
	return &cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Addr        string
	EventBuffer int    `env:"EVENTS_BUFFER" envDefault:"64"`
}

// UsersConfig 描述演示数据的生成方式。
type UsersConfig struct {
	Seed  int64 `env:"SEED" envDefault:"18"`
	Count int   `env:"COUNT" envDefault:"2000"`
}

// GraphQLConfig 限制查询执行。
type GraphQLConfig struct {
	MaxDepth       int `env:"MAX_DEPTH" envDefault:"12"`
	MaxParallelism int `env:"MAX_PARALLELISM" envDefault:"10"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}
