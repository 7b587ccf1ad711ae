package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server       Server       `mapstructure:"server"`
	Storage      Storage      `mapstructure:"storage"`
	Editor       Editor       `mapstructure:"editor"`
	Notification Notification `mapstructure:"notification"`
	Registry     Registry     `mapstructure:"registry"`
	Kafka        Kafka        `mapstructure:"kafka"`
	Retry        Retry        `mapstructure:"retry"`
	Auth         Auth         `mapstructure:"auth"`
	RateLimit    RateLimit    `mapstructure:"rate_limit"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort       string   `mapstructure:"http_port"`        // HTTP port to listen on
	UploadDir      string   `mapstructure:"upload_dir"`       // Directory for per-request temp files
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"` // Upload size cap
	CORSOrigins    []string `mapstructure:"cors_origins"`
}

// Storage holds configuration for the object storage bucket used for staging.
type Storage struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	Scheme     string `mapstructure:"scheme"` // Handle scheme, e.g. "s3" or "gs"
	Prefix     string `mapstructure:"prefix"` // Key prefix for staged uploads
}

// Editor holds configuration for the external image-edit API.
type Editor struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	NormalizePNG  bool          `mapstructure:"normalize_png"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"` // 0 means unlimited
}

// Notification holds push delivery configuration.
type Notification struct {
	Mode      string `mapstructure:"mode"`      // direct, queue or disabled
	TokenURL  string `mapstructure:"token_url"` // Internal service issuing push bearer credentials
	PushURL   string `mapstructure:"push_url"`  // FCM v1 messages:send endpoint
	Title     string `mapstructure:"title"`
	ChannelID string `mapstructure:"channel_id"`
}

// Registry selects and configures the device token store.
type Registry struct {
	Driver   string   `mapstructure:"driver"` // postgres, sqlite or mongo
	Postgres Database `mapstructure:"postgres"`
	SQLite   SQLite   `mapstructure:"sqlite"`
	Mongo    Mongo    `mapstructure:"mongo"`
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// SQLite holds the path of a local database file.
type SQLite struct {
	Path string `mapstructure:"path"`
}

// Mongo holds MongoDB connection parameters.
type Mongo struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// Kafka holds configuration for the Kafka message queue.
type Kafka struct {
	GroupID string   `mapstructure:"group_id"` // Consumer group ID
	Topic   string   `mapstructure:"topic"`    // Kafka topic name
	Brokers []string `mapstructure:"brokers"`  // List of Kafka broker addresses
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Auth configures bearer-token validation for protected routes.
type Auth struct {
	Enabled        bool          `mapstructure:"enabled"`
	TokenInfoURL   string        `mapstructure:"tokeninfo_url"`
	AcceptIDTokens bool          `mapstructure:"accept_id_tokens"`
	CacheSize      int           `mapstructure:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// RateLimit configures the per-IP limiter on /generate. Every == 0 disables it.
type RateLimit struct {
	Every time.Duration `mapstructure:"every"`
	Burst int           `mapstructure:"burst"`
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// Addr returns the listen address, accepting a bare port such as "8080".
func (s Server) Addr() string {
	if s.HTTPPort != "" && !strings.Contains(s.HTTPPort, ":") {
		return ":" + s.HTTPPort
	}

	return s.HTTPPort
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", ":8080")
	v.SetDefault("server.upload_dir", "./uploads")
	v.SetDefault("server.max_upload_bytes", 50<<20)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("storage.scheme", "s3")
	v.SetDefault("storage.prefix", "uploads")

	v.SetDefault("editor.base_url", "https://api.openai.com/v1")
	v.SetDefault("editor.model", "gpt-image-1")
	v.SetDefault("editor.timeout", 2*time.Minute)
	v.SetDefault("editor.normalize_png", true)

	v.SetDefault("notification.mode", "direct")
	v.SetDefault("notification.title", "Image Ready!")
	v.SetDefault("notification.channel_id", "image-processing")

	v.SetDefault("registry.driver", "postgres")
	v.SetDefault("registry.sqlite.path", "./pixmix.db")
	v.SetDefault("registry.mongo.database", "pixmix")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", time.Second)
	v.SetDefault("retry.backoff", 2.0)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.tokeninfo_url", "https://oauth2.googleapis.com/tokeninfo")
	v.SetDefault("auth.accept_id_tokens", true)
	v.SetDefault("auth.cache_size", 1024)
	v.SetDefault("auth.cache_ttl", 5*time.Minute)
}

// bindEnv binds secrets and deployment-specific settings to environment variables.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"server.http_port":              "PORT",
		"storage.endpoint":              "STORAGE_ENDPOINT",
		"storage.access_key":            "STORAGE_ACCESS_KEY",
		"storage.secret_key":            "STORAGE_SECRET_KEY",
		"storage.bucket_name":           "STORAGE_BUCKET_NAME",
		"editor.api_key":                "OPENAI_API_KEY",
		"notification.token_url":        "AUTH_SERVICE_TOKEN_URL",
		"notification.push_url":         "FCM_API_URL",
		"registry.postgres.master.host": "DB_HOST",
		"registry.postgres.master.port": "DB_PORT",
		"registry.postgres.master.user": "DB_USER",
		"registry.postgres.master.pass": "DB_PASSWORD",
		"registry.postgres.master.name": "DB_NAME",
		"registry.mongo.uri":            "MONGO_URI",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration file at path, applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}
