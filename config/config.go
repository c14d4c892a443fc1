package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Push    PushConfig    `yaml:"push"`
	Store   StoreConfig   `yaml:"store"`
	Upload  UploadConfig  `yaml:"upload"`
	Minio   MinioConfig   `yaml:"minio"`
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
}

// BackendConfig points at the contract processing API.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// PushConfig controls the live progress connection.
type PushConfig struct {
	URL                  string `yaml:"url"`
	ReconnectIntervalMs  int    `yaml:"reconnect_interval_ms"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	WriteTimeoutMs       int    `yaml:"write_timeout_ms"`
	Resubscribe          *bool  `yaml:"resubscribe"`
}

type StoreConfig struct {
	MaxContracts int `yaml:"max_contracts"`
}

type UploadConfig struct {
	UploadedBy        string   `yaml:"uploaded_by"`
	MaxSizeMB         int      `yaml:"max_size_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig is only read by the simulated backend.
type ServerConfig struct {
	Port                 int `yaml:"port"`
	StepDelayMs          int `yaml:"step_delay_ms"`
	UploadLimitPerMinute int `yaml:"upload_limit_per_minute"` // 0 = unlimited
}

// DefaultAllowedExtensions mirrors the formats the upload form accepts.
var DefaultAllowedExtensions = []string{".pdf", ".docx", ".doc", ".jpg", ".jpeg", ".png"}

// Load reads a YAML file and applies defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:8001/api"
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 30
	}
	if c.Push.URL == "" {
		c.Push.URL = "ws://localhost:8001/ws"
	}
	if c.Push.ReconnectIntervalMs == 0 {
		c.Push.ReconnectIntervalMs = 2000
	}
	if c.Push.WriteTimeoutMs == 0 {
		c.Push.WriteTimeoutMs = 5000
	}
	if c.Push.Resubscribe == nil {
		on := true
		c.Push.Resubscribe = &on
	}
	if c.Store.MaxContracts < 0 {
		c.Store.MaxContracts = 0
	}
	if c.Upload.UploadedBy == "" {
		c.Upload.UploadedBy = "current user"
	}
	if c.Upload.MaxSizeMB == 0 {
		c.Upload.MaxSizeMB = 50
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = append([]string(nil), DefaultAllowedExtensions...)
	}
	if c.Minio.Region == "" {
		c.Minio.Region = "us-east-1"
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8001
	}
	if c.Server.StepDelayMs == 0 {
		c.Server.StepDelayMs = 800
	}
}

// Timeout returns the HTTP request timeout.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// ReconnectInterval returns zero when reconnection is disabled (negative in YAML).
func (p PushConfig) ReconnectInterval() time.Duration {
	if p.ReconnectIntervalMs < 0 {
		return 0
	}
	return time.Duration(p.ReconnectIntervalMs) * time.Millisecond
}

func (p PushConfig) WriteTimeout() time.Duration {
	return time.Duration(p.WriteTimeoutMs) * time.Millisecond
}

// ResubscribeEnabled reports whether observations are re-sent after a reconnect.
func (p PushConfig) ResubscribeEnabled() bool {
	return p.Resubscribe == nil || *p.Resubscribe
}

// MaxSizeBytes returns the upload limit in bytes.
func (u UploadConfig) MaxSizeBytes() int64 {
	return int64(u.MaxSizeMB) * 1024 * 1024
}

// StepDelay returns the simulated pipeline pace.
func (s ServerConfig) StepDelay() time.Duration {
	return time.Duration(s.StepDelayMs) * time.Millisecond
}
