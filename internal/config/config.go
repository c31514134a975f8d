// Package config loads service configuration from a YAML file, an optional .env file
// and environment variables, in that order of increasing priority.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Limits   LimitsConfig      `yaml:"limits"`
	Timeouts TimeoutsConfig    `yaml:"timeouts"`
	WorkDir  string            `yaml:"work_dir"`
	Log      LogConfig         `yaml:"log"`
	Tools    map[string]string `yaml:"tools"`
	RemoveBG RemoveBGConfig    `yaml:"removebg"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	CORSOrigins      []string      `yaml:"cors_origins"`
}

// LimitsConfig bounds what a single request may carry.
type LimitsConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	MaxParamLength int   `yaml:"max_param_length"`
}

// TimeoutsConfig holds the maximum duration per operation class.
type TimeoutsConfig struct {
	Image time.Duration `yaml:"image"`
	PDF   time.Duration `yaml:"pdf"`
	Media time.Duration `yaml:"media"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// RemoveBGConfig selects and configures the background-removal backend.
type RemoveBGConfig struct {
	Backend        string        `yaml:"backend"` // local or replicate
	RembgURL       string        `yaml:"rembg_url"`
	ReplicateToken string        `yaml:"replicate_token"`
	ReplicateModel string        `yaml:"replicate_model"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPolls       int           `yaml:"max_polls"`
}

// ToolEnv maps each external tool to the environment variable that pins its path.
var ToolEnv = map[string]string{
	"ffmpeg":     "FFMPEG_PATH",
	"yt-dlp":     "YTDLP_BIN",
	"youtube-dl": "YOUTUBEDL_BIN",
	"gs":         "GS_BIN",
	"qpdf":       "QPDF_BIN",
	"pdfunite":   "PDFUNITE_BIN",
	"pdftotext":  "PDFTOTEXT_BIN",
	"cwebp":      "CWEBP_BIN",
}

// Load reads configuration from a YAML file and applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	_ = godotenv.Load() // .env is optional

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":5060",
			GracefulShutdown: 10 * time.Second,
			CORSOrigins:      []string{"*"},
		},
		Limits: LimitsConfig{
			MaxUploadBytes: 150 << 20,
			MaxParamLength: 256,
		},
		Timeouts: TimeoutsConfig{
			Image: 60 * time.Second,
			PDF:   120 * time.Second,
			Media: 300 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tools: map[string]string{},
		RemoveBG: RemoveBGConfig{
			Backend:        "local",
			RembgURL:       "http://127.0.0.1:7000",
			ReplicateModel: "cjwbw/rembg",
			PollInterval:   1200 * time.Millisecond,
			MaxPolls:       50,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		if mb, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MaxUploadBytes = mb << 20
		}
	}
	if v := os.Getenv("WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if cfg.Tools == nil {
		cfg.Tools = map[string]string{}
	}
	for tool, env := range ToolEnv {
		if v := os.Getenv(env); v != "" {
			cfg.Tools[tool] = v
		}
	}
	if v := os.Getenv("BG_BACKEND"); v != "" {
		cfg.RemoveBG.Backend = v
	}
	if v := os.Getenv("REMBG_URL"); v != "" {
		cfg.RemoveBG.RembgURL = v
	}
	if v := os.Getenv("REPLICATE_API_TOKEN"); v != "" {
		cfg.RemoveBG.ReplicateToken = v
	}
	if v := os.Getenv("REPLICATE_MODEL"); v != "" {
		cfg.RemoveBG.ReplicateModel = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Limits.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.Limits.MaxUploadBytes)
	}
	if c.Limits.MaxParamLength <= 0 {
		return fmt.Errorf("max_param_length must be positive, got %d", c.Limits.MaxParamLength)
	}
	if c.Timeouts.Image <= 0 || c.Timeouts.PDF <= 0 || c.Timeouts.Media <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	if c.RemoveBG.Backend != "local" && c.RemoveBG.Backend != "replicate" {
		return fmt.Errorf("invalid removebg backend: %s", c.RemoveBG.Backend)
	}
	for tool := range c.Tools {
		if _, ok := ToolEnv[tool]; !ok {
			return fmt.Errorf("unknown tool override: %s", tool)
		}
	}
	return nil
}
