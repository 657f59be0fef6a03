package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Storage  StorageConfig
	Log      LogConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RelayConfig 中继传输配置
type RelayConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MinCallInterval    time.Duration `mapstructure:"min_call_interval"`    // 同一凭证两次调用的最小间隔
	UpdatePollInterval time.Duration `mapstructure:"update_poll_interval"` // 入站事件轮询间隔
}

// StorageConfig 分块存储配置
type StorageConfig struct {
	ChunkSizeBytes int64 `mapstructure:"chunk_size_bytes"` // 分块大小（默认 20 MiB）
	ForkWorkers    int   `mapstructure:"fork_workers"`     // fork 任务 worker 数量
}

type LogConfig struct {
	Level            string        `mapstructure:"level"`
	Format           string        `mapstructure:"format"`
	Output           string        `mapstructure:"output"`
	File             FileLogConfig `mapstructure:"file"`
	EnableCaller     bool          `mapstructure:"enablecaller"`
	EnableStacktrace bool          `mapstructure:"enablestacktrace"`
}

type FileLogConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"maxsize"`
	MaxAge     int    `mapstructure:"maxage"`
	MaxBackups int    `mapstructure:"maxbackups"`
	Compress   bool   `mapstructure:"compress"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

const (
	// DefaultChunkSize 默认分块大小 20 MiB
	DefaultChunkSize = 20 * 1024 * 1024

	// DefaultMinCallInterval 同一凭证的默认限流间隔
	DefaultMinCallInterval = 3 * time.Second
)

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.ChunkSizeBytes <= 0 {
		c.Storage.ChunkSizeBytes = DefaultChunkSize
	}
	if c.Storage.ForkWorkers <= 0 {
		c.Storage.ForkWorkers = 2
	}
	if c.Relay.Timeout <= 0 {
		c.Relay.Timeout = 60 * time.Second
	}
	if c.Relay.MinCallInterval <= 0 {
		c.Relay.MinCallInterval = DefaultMinCallInterval
	}
	if c.Relay.UpdatePollInterval <= 0 {
		c.Relay.UpdatePollInterval = 30 * time.Second
	}
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
