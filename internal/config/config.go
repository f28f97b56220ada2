// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Agents       AgentsConfig       `mapstructure:"agents"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Export       ExportConfig       `mapstructure:"export"`
	Report       ReportConfig       `mapstructure:"report"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Integration  IntegrationConfig  `mapstructure:"integration"`
}

// DatabaseConfig holds all database configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeLevel      bool   `mapstructure:"include_level"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"` // Level at which to include stack trace
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
}

// LLMConfig configures the text-generation backend. Any OpenAI-compatible
// endpoint works; the default points at a local Ollama instance.
type LLMConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int64         `mapstructure:"max_tokens"`
}

// AgentsConfig holds runtime settings shared by every agent.
type AgentsConfig struct {
	InboxCapacity int           `mapstructure:"inbox_capacity"`
	PollInterval  time.Duration `mapstructure:"poll_interval"` // Upper bound on how long a stop request can go unnoticed
}

// OrchestratorConfig holds manager settings.
type OrchestratorConfig struct {
	StageTimeout    time.Duration `mapstructure:"stage_timeout"`
	HistorySize     int           `mapstructure:"history_size"`
	DefaultWorkflow string        `mapstructure:"default_workflow"`
}

// ExportConfig holds settings for the export service.
type ExportConfig struct {
	Dir     string `mapstructure:"dir"`
	MaxRows int    `mapstructure:"max_rows"`
}

// ReportConfig holds report rendering defaults.
type ReportConfig struct {
	DefaultFormat string `mapstructure:"default_format"` // "html", "markdown" or "json"
}

// IntegrationConfig bounds what the interface management agent may read:
// file imports are confined to ImportDir and responses from external
// systems are capped at MaxResponseBytes.
type IntegrationConfig struct {
	ImportDir        string        `mapstructure:"import_dir"` // Empty disables file imports
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig controls OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	// Set config file if provided, otherwise search in standard locations
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/edumesh/")
		v.AddConfigPath("$HOME/.edumesh")
	}

	v.SetEnvPrefix("EDUMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configPath != "" && os.IsNotExist(err)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvKeys registers the keys that are commonly overridden from the
// environment. AutomaticEnv only resolves keys viper already knows about,
// and with no config file on disk it knows none.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"database.driver", "database.host", "database.port", "database.username",
		"database.password", "database.database", "database.ssl_mode",
		"log.level",
		"server.host", "server.port",
		"llm.enabled", "llm.base_url", "llm.model", "llm.api_key", "llm.timeout",
		"agents.inbox_capacity", "agents.poll_interval",
		"orchestrator.stage_timeout", "orchestrator.history_size", "orchestrator.default_workflow",
		"export.dir", "export.max_rows",
		"telemetry.enabled", "telemetry.endpoint",
		"integration.import_dir", "integration.max_response_bytes", "integration.timeout",
	} {
		_ = v.BindEnv(key)
	}
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Database: "edumesh.db",
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/edumesh.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: true,
				},
			},
			Levels: map[string]string{
				"orchestrator": "INFO",
				"agent":        "INFO",
				"database":     "INFO",
				"api":          "INFO",
				"llm":          "INFO",
				"export":       "INFO",
			},
			Context: LogContextConfig{
				IncludeCaller:     true,
				IncludeTimestamp:  true,
				IncludeLevel:      true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		LLM: LLMConfig{
			Enabled:     false,
			BaseURL:     "http://localhost:11434/v1",
			Model:       "qwen3:4b",
			APIKey:      "ollama",
			Timeout:     120 * time.Second,
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Agents: AgentsConfig{
			InboxCapacity: 1024,
			PollInterval:  time.Second,
		},
		Orchestrator: OrchestratorConfig{
			StageTimeout:    5 * time.Minute,
			HistorySize:     1000,
			DefaultWorkflow: "complete_analysis",
		},
		Export: ExportConfig{
			Dir:     "./exports",
			MaxRows: 100000,
		},
		Report: ReportConfig{
			DefaultFormat: "html",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			Insecure:    true,
			ServiceName: "edumesh",
		},
		Integration: IntegrationConfig{
			ImportDir:        "./imports",
			MaxResponseBytes: 10 << 20,
			Timeout:          30 * time.Second,
		},
	}
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	if c.Export.Dir != "" {
		c.Export.Dir = expandPath(c.Export.Dir)
	}
	if c.Integration.ImportDir != "" {
		c.Integration.ImportDir = expandPath(c.Integration.ImportDir)
	}
	for i := range c.Log.Output {
		if c.Log.Output[i].Path != "" {
			c.Log.Output[i].Path = expandPath(c.Log.Output[i].Path)
		}
	}
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	if c.Database.Driver == "" {
		return errors.New("database driver is required")
	}

	validLogLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Agents.InboxCapacity <= 0 {
		return fmt.Errorf("agents.inbox_capacity must be positive, got: %d", c.Agents.InboxCapacity)
	}
	if c.Agents.PollInterval <= 0 {
		return fmt.Errorf("agents.poll_interval must be positive, got: %s", c.Agents.PollInterval)
	}

	if c.Orchestrator.StageTimeout <= 0 {
		return fmt.Errorf("orchestrator.stage_timeout must be positive, got: %s", c.Orchestrator.StageTimeout)
	}
	if c.Orchestrator.HistorySize <= 0 {
		return fmt.Errorf("orchestrator.history_size must be positive, got: %d", c.Orchestrator.HistorySize)
	}

	if c.LLM.Enabled && c.LLM.BaseURL == "" {
		return errors.New("llm.base_url is required when llm is enabled")
	}

	switch c.Report.DefaultFormat {
	case "html", "markdown", "json":
	default:
		return fmt.Errorf("report.default_format must be 'html', 'markdown' or 'json', got: %s", c.Report.DefaultFormat)
	}

	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be positive, got: %d", c.Export.MaxRows)
	}

	if c.Integration.MaxResponseBytes <= 0 {
		return fmt.Errorf("integration.max_response_bytes must be positive, got: %d", c.Integration.MaxResponseBytes)
	}

	return nil
}

// Default returns the built-in configuration without reading files or the
// environment. Useful for tests and embedded use.
func Default() *AppConfig {
	cfg := defaultConfig()
	return &cfg
}

// GetDSN returns the database connection string.
func (dc *DatabaseConfig) GetDSN() string {
	switch dc.Driver {
	case "sqlite":
		dsn := dc.Database
		if dsn == ":memory:" {
			dsn = "file::memory:?cache=shared"
		}
		return dsn
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			dc.Host, dc.Port, dc.Username, dc.Password, dc.Database, dc.SSLMode)
	default:
		return dc.Database
	}
}
