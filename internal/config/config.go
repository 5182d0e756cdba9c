package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Limits    LimitsConfig    `yaml:"limits"`
	Paths     PathsConfig     `yaml:"paths"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type WebhookConfig struct {
	VerifyToken string `yaml:"verify_token"`
}

type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	APIBase       string `yaml:"api_base"`
}

type GeminiConfig struct {
	APIKeys []string `yaml:"api_keys"`
	Model   string   `yaml:"model"`
}

type RateLimitConfig struct {
	WindowMs int `yaml:"window_ms"`
}

type LimitsConfig struct {
	MaxConcurrent     int `yaml:"max_concurrent"`
	ProcessTimeoutSec int `yaml:"process_timeout_sec"`
}

type PathsConfig struct {
	Data       string `yaml:"data"`
	Temp       string `yaml:"temp"`
	OptOutFile string `yaml:"optout_file"`
	UsageLog   string `yaml:"usage_log"`
}

type FFmpegConfig struct {
	Binary       string `yaml:"binary"`
	AudioBitrate string `yaml:"audio_bitrate"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML config file (if present), applies environment
// overrides, and validates the result. A missing file is not an error:
// deployments that configure everything through the environment run
// without one.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only deployment
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("VERIFY_TOKEN"); v != "" {
		c.Webhook.VerifyToken = v
	}
	if v := os.Getenv("WHATSAPP_TOKEN"); v != "" {
		c.WhatsApp.AccessToken = v
	}
	if v := os.Getenv("WHATSAPP_PHONE_NUMBER_ID"); v != "" {
		c.WhatsApp.PhoneNumberID = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKeys = []string{v}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.RateLimit.WindowMs = ms
		}
	}
}

// Validate applies defaults and reports structural problems. Missing
// secrets are NOT errors here: the process must still start so the
// health and verification endpoints stay up (see MissingSecrets).
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.WhatsApp.APIBase == "" {
		c.WhatsApp.APIBase = "https://graph.facebook.com/v20.0"
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash"
	}
	if c.RateLimit.WindowMs == 0 {
		c.RateLimit.WindowMs = 15000
	}
	if c.RateLimit.WindowMs < 0 {
		return fmt.Errorf("ratelimit.window_ms must be positive")
	}
	if c.Limits.MaxConcurrent == 0 {
		c.Limits.MaxConcurrent = 4
	}
	if c.Limits.ProcessTimeoutSec == 0 {
		c.Limits.ProcessTimeoutSec = 300
	}
	if c.Paths.Data == "" {
		c.Paths.Data = "data"
	}
	if c.Paths.Temp == "" {
		c.Paths.Temp = filepath.Join(c.Paths.Data, "temp")
	}
	if c.Paths.OptOutFile == "" {
		c.Paths.OptOutFile = filepath.Join(c.Paths.Data, "optout.json")
	}
	if c.Paths.UsageLog == "" {
		c.Paths.UsageLog = filepath.Join(c.Paths.Data, "usage.ndjson")
	}
	if c.FFmpeg.Binary == "" {
		c.FFmpeg.Binary = "ffmpeg"
	}
	if c.FFmpeg.AudioBitrate == "" {
		c.FFmpeg.AudioBitrate = "64k"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	return nil
}

// MissingSecrets lists required credentials that are not set. Callers
// log these as warnings at startup; the corresponding outbound calls
// will fail until the secrets are provided.
func (c *Config) MissingSecrets() []string {
	var missing []string
	if c.Webhook.VerifyToken == "" {
		missing = append(missing, "webhook.verify_token (VERIFY_TOKEN)")
	}
	if c.WhatsApp.AccessToken == "" {
		missing = append(missing, "whatsapp.access_token (WHATSAPP_TOKEN)")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		missing = append(missing, "whatsapp.phone_number_id (WHATSAPP_PHONE_NUMBER_ID)")
	}
	if len(c.Gemini.APIKeys) == 0 {
		missing = append(missing, "gemini.api_keys (GEMINI_API_KEY)")
	}
	return missing
}

// Window returns the admission window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.RateLimit.WindowMs) * time.Millisecond
}

// ProcessTimeout returns the per-message pipeline timeout.
func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.Limits.ProcessTimeoutSec) * time.Second
}
