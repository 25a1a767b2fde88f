package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"filedrop/internal/archive"
)

// ConfigFileEnv names an optional config file read on top of the
// environment.
const ConfigFileEnv = "FILEDROP_CONFIG"

type Config struct {
	ServerAddr       string
	FilesDir         string
	WorkDir          string
	ArchiveFormat    string
	MaxConnections   int
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	AuditDB          string

	OutputDir       string
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	ChunkTimeout    time.Duration

	LogLevel string

	ApiURL     string
	AccessKey  string
	SecretKey  string
	BucketName string
	Region     string
}

var defaults = map[string]any{
	"server_addr":       "localhost:12345",
	"files_dir":         "server_files",
	"work_dir":          "",
	"archive_format":    "zip",
	"max_connections":   64,
	"idle_timeout":      "0s",
	"handshake_timeout": "30s",
	"audit_db":          "download_log.db",
	"output_dir":        "output",
	"connect_timeout":   "30s",
	"response_timeout":  "30s",
	"chunk_timeout":     "5s",
	"log_level":         "info",
	"api_url":           "",
	"access_key":        "",
	"secret_key":        "",
	"bucket_name":       "",
	"region":            "",
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found, using environment variables only")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		slog.Debug("Using config file", "path", v.ConfigFileUsed())
	}

	config := &Config{
		ServerAddr:       v.GetString("server_addr"),
		FilesDir:         v.GetString("files_dir"),
		WorkDir:          v.GetString("work_dir"),
		ArchiveFormat:    v.GetString("archive_format"),
		MaxConnections:   v.GetInt("max_connections"),
		IdleTimeout:      v.GetDuration("idle_timeout"),
		HandshakeTimeout: v.GetDuration("handshake_timeout"),
		AuditDB:          v.GetString("audit_db"),
		OutputDir:        v.GetString("output_dir"),
		ConnectTimeout:   v.GetDuration("connect_timeout"),
		ResponseTimeout:  v.GetDuration("response_timeout"),
		ChunkTimeout:     v.GetDuration("chunk_timeout"),
		LogLevel:         v.GetString("log_level"),
		ApiURL:           v.GetString("api_url"),
		AccessKey:        v.GetString("access_key"),
		SecretKey:        v.GetString("secret_key"),
		BucketName:       v.GetString("bucket_name"),
		Region:           v.GetString("region"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if _, err := archive.ParseFormat(c.ArchiveFormat); err != nil {
		return fmt.Errorf("invalid ARCHIVE_FORMAT: %w", err)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("IDLE_TIMEOUT must not be negative, got %s", c.IdleTimeout)
	}

	positive := map[string]time.Duration{
		"HANDSHAKE_TIMEOUT": c.HandshakeTimeout,
		"CONNECT_TIMEOUT":   c.ConnectTimeout,
		"RESPONSE_TIMEOUT":  c.ResponseTimeout,
		"CHUNK_TIMEOUT":     c.ChunkTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel ("debug", "info", "warn" or "error").
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// MirrorEnabled reports whether an S3 bucket is configured.
func (c *Config) MirrorEnabled() bool {
	return c.BucketName != ""
}
