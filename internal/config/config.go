package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8882"
	DefaultJWTExpiresIn   = "24h"
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "omnihub"
	DefaultPGSSLMode      = "disable"
	DefaultAgentTimeout   = 60
	DefaultChunkLimit     = 2000
	DefaultSplitDelayMin  = 300
	DefaultSplitDelayMax  = 1000
	DefaultRetryMax       = 3
	DefaultRetryBackoffMs = 500
	DefaultRouterLanes    = 8
	DefaultLaneDepth      = 64
	DefaultAccessCacheTTL = 30
	DefaultTraceRetention = 30
	DefaultTraceCleanup   = "0 3 * * *"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Admin    AdminConfig    `toml:"admin"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Agent    AgentConfig    `toml:"agent"`
	Outbound OutboundConfig `toml:"outbound"`
	Router   RouterConfig   `toml:"router"`
	Access   AccessConfig   `toml:"access"`
	Trace    TraceConfig    `toml:"trace"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// AgentConfig carries defaults applied when an instance leaves agent
// settings unset. Per-instance values always win.
type AgentConfig struct {
	DefaultTimeoutSeconds int `toml:"default_timeout_seconds" validate:"gte=1"`
}

type OutboundConfig struct {
	ChunkLimit     int `toml:"chunk_limit" validate:"gte=1"`
	SplitDelayMin  int `toml:"split_delay_min_ms" validate:"gte=0"`
	SplitDelayMax  int `toml:"split_delay_max_ms" validate:"gte=0"`
	RetryMax       int `toml:"retry_max"`
	RetryBackoffMs int `toml:"retry_backoff_ms"`
}

// RouterConfig sizes the sharded dispatch lanes. Messages from the same
// (instance, sender) pair always land on the same lane.
type RouterConfig struct {
	Lanes     int `toml:"lanes" validate:"gte=1"`
	LaneDepth int `toml:"lane_depth" validate:"gte=1"`
}

type AccessConfig struct {
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
}

type TraceConfig struct {
	RetentionDays int    `toml:"retention_days"`
	CleanupCron   string `toml:"cleanup_cron"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Agent: AgentConfig{
			DefaultTimeoutSeconds: DefaultAgentTimeout,
		},
		Outbound: OutboundConfig{
			ChunkLimit:     DefaultChunkLimit,
			SplitDelayMin:  DefaultSplitDelayMin,
			SplitDelayMax:  DefaultSplitDelayMax,
			RetryMax:       DefaultRetryMax,
			RetryBackoffMs: DefaultRetryBackoffMs,
		},
		Router: RouterConfig{
			Lanes:     DefaultRouterLanes,
			LaneDepth: DefaultLaneDepth,
		},
		Access: AccessConfig{
			CacheTTLSeconds: DefaultAccessCacheTTL,
		},
		Trace: TraceConfig{
			RetentionDays: DefaultTraceRetention,
			CleanupCron:   DefaultTraceCleanup,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
