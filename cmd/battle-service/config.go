package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codebattle/internal/common/cache"
	"codebattle/internal/common/db"
	"codebattle/internal/common/mq"
	"codebattle/internal/common/storage"
	"codebattle/internal/problem"
	"codebattle/internal/realtime/session"
	"codebattle/internal/stats"
	"codebattle/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultSweepInterval   = time.Minute
	defaultJudgePoolSize   = 8
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds producer settings plus the stats topic.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
	StatsTopic   string        `yaml:"statsTopic"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

// JudgeConfig holds sandbox and worker pool settings.
type JudgeConfig struct {
	Backend    string `yaml:"backend"` // docker or process
	PoolSize   int    `yaml:"poolSize"`
	PullImages bool   `yaml:"pullImages"`
}

// SessionConfig holds WebSocket session settings.
type SessionConfig struct {
	PingInterval  time.Duration `yaml:"pingInterval"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	ReadLimit     int64         `yaml:"readLimit"`
	SendBuffer    int           `yaml:"sendBuffer"`
	SubmitRetries int           `yaml:"submitRetries"`
}

// SweepConfig holds background staleness sweep settings.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// AppConfig holds battle-service config.
type AppConfig struct {
	Server   ServerConfig             `yaml:"server"`
	Logger   logger.Config            `yaml:"logger"`
	Database db.MySQLConfig           `yaml:"database"`
	Redis    cache.RedisConfig        `yaml:"redis"`
	Kafka    KafkaConfig              `yaml:"kafka"`
	MinIO    storage.MinIOConfig      `yaml:"minio"`
	Problems problem.MinIOStoreConfig `yaml:"problems"`
	Auth     AuthConfig               `yaml:"auth"`
	Judge    JudgeConfig              `yaml:"judge"`
	Session  SessionConfig            `yaml:"session"`
	Sweep    SweepConfig              `yaml:"sweep"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwtSecret is required")
	}
	applyRedisDefaults(&cfg.Redis)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Problems.Bucket == "" {
		cfg.Problems.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Kafka.StatsTopic == "" {
		cfg.Kafka.StatsTopic = stats.DefaultTopic
	}
	if cfg.Judge.Backend == "" {
		cfg.Judge.Backend = "process"
	}
	switch strings.ToLower(cfg.Judge.Backend) {
	case "docker", "process":
	default:
		return nil, fmt.Errorf("unknown judge backend %q", cfg.Judge.Backend)
	}
	if cfg.Judge.PoolSize <= 0 {
		cfg.Judge.PoolSize = defaultJudgePoolSize
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = defaultSweepInterval
	}
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (s SessionConfig) toSessionConfig() session.Config {
	return session.Config{
		PingInterval:  s.PingInterval,
		WriteTimeout:  s.WriteTimeout,
		ReadLimit:     s.ReadLimit,
		SendBuffer:    s.SendBuffer,
		SubmitRetries: s.SubmitRetries,
	}
}
