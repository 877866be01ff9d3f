package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	AI       AIConfig       `mapstructure:"ai"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver       string `mapstructure:"driver"`
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN prefers an explicit URL over the individual fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type AIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Provider is "anthropic", "command" or "mock".
	Provider          string `mapstructure:"provider"`
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	CommandPath       string `mapstructure:"command_path"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	MaxRetries        int    `mapstructure:"max_retries"`
}

// Active reports whether a completion client can be built. When false every
// generation and judgement trigger is a no-op.
func (a AIConfig) Active() bool {
	if !a.Enabled {
		return false
	}
	if a.Provider == "anthropic" && a.APIKey == "" {
		return false
	}
	return true
}

type StorageConfig struct {
	// Type is "local" or "minio".
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioUseSSL   bool   `mapstructure:"minio_use_ssl"`
}

type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// File enables a rotating JSON log file next to console output.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_grace", 15*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "studyhub")
	v.SetDefault("database.password", "studyhub")
	v.SetDefault("database.name", "studyhub")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 15*time.Minute)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.provider", "anthropic")
	v.SetDefault("ai.model", "claude-sonnet-4-5")
	v.SetDefault("ai.command_path", "llm")
	v.SetDefault("ai.requests_per_minute", 30)
	v.SetDefault("ai.max_retries", 2)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "uploads")
	v.SetDefault("storage.minio_bucket", "uploads")
	v.SetDefault("storage.minio_use_ssl", false)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_backoff", 5*time.Second)
	v.SetDefault("worker.stale_after", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
}

// Load reads config.yaml from path when present, then applies environment
// overrides. Every key can be set as STUDYHUB_<SECTION>_<KEY>; the common
// deployment variables are bound under their conventional names too.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("STUDYHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"server.port":              {"STUDYHUB_SERVER_PORT", "PORT"},
		"database.url":             {"STUDYHUB_DATABASE_URL", "DATABASE_URL"},
		"database.host":            {"STUDYHUB_DATABASE_HOST", "DB_HOST"},
		"database.port":            {"STUDYHUB_DATABASE_PORT", "DB_PORT"},
		"database.user":            {"STUDYHUB_DATABASE_USER", "DB_USER"},
		"database.password":        {"STUDYHUB_DATABASE_PASSWORD", "DB_PASSWORD"},
		"database.name":            {"STUDYHUB_DATABASE_NAME", "DB_NAME"},
		"database.sslmode":         {"STUDYHUB_DATABASE_SSLMODE", "DB_SSLMODE"},
		"redis.addr":               {"STUDYHUB_REDIS_ADDR", "REDIS_ADDR"},
		"redis.password":           {"STUDYHUB_REDIS_PASSWORD", "REDIS_PASSWORD"},
		"ai.api_key":               {"STUDYHUB_AI_API_KEY", "ANTHROPIC_API_KEY"},
		"ai.model":                 {"STUDYHUB_AI_MODEL", "ANTHROPIC_MODEL"},
		"auth.jwt_secret":          {"STUDYHUB_AUTH_JWT_SECRET", "JWT_SECRET"},
		"storage.minio_endpoint":   {"STUDYHUB_STORAGE_MINIO_ENDPOINT", "MINIO_ENDPOINT"},
		"storage.minio_access_key": {"STUDYHUB_STORAGE_MINIO_ACCESS_KEY", "MINIO_ACCESS_KEY"},
		"storage.minio_secret_key": {"STUDYHUB_STORAGE_MINIO_SECRET_KEY", "MINIO_SECRET_KEY"},
		"storage.minio_bucket":     {"STUDYHUB_STORAGE_MINIO_BUCKET", "MINIO_BUCKET"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		return fmt.Errorf("database.driver must be 'postgres' or 'memory', got %q", c.Database.Driver)
	}
	switch c.AI.Provider {
	case "anthropic", "command", "mock":
	default:
		return fmt.Errorf("ai.provider must be 'anthropic', 'command' or 'mock', got %q", c.AI.Provider)
	}
	if c.Storage.Type != "local" && c.Storage.Type != "minio" {
		return fmt.Errorf("storage.type must be 'local' or 'minio', got %q", c.Storage.Type)
	}
	if c.Server.Mode == "release" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret is too short (%d chars), must be at least 32 characters in release mode", len(c.Auth.JWTSecret))
	}
	if c.Worker.Concurrency < 1 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.MaxAttempts < 1 {
		c.Worker.MaxAttempts = 1
	}
	// A regeneration lease must outlive the task claim it runs under.
	if c.Redis.LockTTL < c.Worker.StaleAfter {
		c.Redis.LockTTL = c.Worker.StaleAfter
	}
	return nil
}
