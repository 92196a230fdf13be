// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/query-canvas/chain-engine/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Agent 后端
	AgentWSURL        string `env:"AGENT_WS_URL" default:"ws://127.0.0.1:8765/stream"`
	AgentDialTimeout  int    `env:"AGENT_DIAL_TIMEOUT_SEC" default:"10" min:"1"`
	AgentPingInterval int    `env:"AGENT_PING_INTERVAL_SEC" default:"20" min:"1"`

	// PostgreSQL
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`

	// 链加载
	ChainLoadDebounceMS int `env:"CHAIN_LOAD_DEBOUNCE_MS" default:"300" min:"0"`
	ChainFetchLimit     int `env:"CHAIN_FETCH_LIMIT" default:"200" min:"1"`

	// HTTP API
	HTTPAddr       string `env:"HTTP_ADDR" default:":8080"`
	SSEBufferSize  int    `env:"SSE_BUFFER_SIZE" default:"32" min:"1"`
	SSEKeepaliveMS int    `env:"SSE_KEEPALIVE_MS" default:"15000" min:"1000"`

	// 日志
	LogEnv string `env:"LOG_ENV" default:"production"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
