// Package config loads tagview settings from tagview.yaml, a .env file and
// TAGVIEW_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const FileName = "tagview.yaml"

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

type Config struct {
	BackendURL string `yaml:"backend_url"`
	// UploadPath differs between backend versions: /image/upload/ or /image/.
	UploadPath     string        `yaml:"upload_path"`
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`
	Language               string  `yaml:"language"`
	AnalyticsLimit         int     `yaml:"analytics_limit"`
	AnalyticsMinConfidence float64 `yaml:"analytics_min_confidence"`

	SessionStore string        `yaml:"session_store"` // memory or redis
	SessionTTL   time.Duration `yaml:"session_ttl"`
	MaxSessions  int           `yaml:"max_sessions"`
	Redis        RedisConfig   `yaml:"redis"`

	ThumbDir  string `yaml:"thumb_dir,omitempty"`
	ThumbSize int    `yaml:"thumb_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // console or json
}

func Default() Config {
	return Config{
		BackendURL:             "http://localhost:8000",
		UploadPath:             "/image/upload/",
		Addr:                   ":8080",
		RequestTimeout:         60 * time.Second,
		ConfidenceThreshold:    30,
		Language:               "en",
		AnalyticsLimit:         5,
		AnalyticsMinConfidence: 30,
		SessionStore:           "memory",
		SessionTTL:             24 * time.Hour,
		MaxSessions:            1000,
		Redis:                  RedisConfig{Addr: "localhost:6379"},
		ThumbSize:              600,
		LogLevel:               "info",
		LogFormat:              "console",
	}
}

// Load reads path if it exists. A missing file is not an error; defaults
// and the environment still apply.
func Load(path string) (Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, "", fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	source := "defaults"
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, "", fmt.Errorf("parsing %s: %w", path, err)
		}
		source, _ = filepath.Abs(path)
	case !os.IsNotExist(err):
		return Config{}, "", fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, "", err
	}
	if cfg.ThumbDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			cacheDir = os.TempDir()
		}
		cfg.ThumbDir = filepath.Join(cacheDir, "tagview", "thumbs")
	}
	return cfg, source, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("TAGVIEW_BACKEND_URL", &c.BackendURL)
	str("TAGVIEW_UPLOAD_PATH", &c.UploadPath)
	str("TAGVIEW_ADDR", &c.Addr)
	str("TAGVIEW_LANGUAGE", &c.Language)
	str("TAGVIEW_SESSION_STORE", &c.SessionStore)
	str("TAGVIEW_REDIS_ADDR", &c.Redis.Addr)
	str("TAGVIEW_REDIS_PASSWORD", &c.Redis.Password)
	str("TAGVIEW_THUMB_DIR", &c.ThumbDir)
	str("TAGVIEW_LOG_LEVEL", &c.LogLevel)
	str("TAGVIEW_LOG_FORMAT", &c.LogFormat)

	if v, ok := lookup("PORT"); ok && v != "" {
		c.Addr = ":" + v
	}
	if v, ok := lookup("TAGVIEW_CONFIDENCE_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TAGVIEW_CONFIDENCE_THRESHOLD: %w", err)
		}
		c.ConfidenceThreshold = f
	}
	if v, ok := lookup("TAGVIEW_REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TAGVIEW_REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	if v, ok := lookup("TAGVIEW_SESSION_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TAGVIEW_SESSION_TTL: %w", err)
		}
		c.SessionTTL = d
	}
	return nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend_url must be an absolute http(s) URL, got %q", c.BackendURL)
	}
	if !strings.HasPrefix(c.UploadPath, "/") {
		return fmt.Errorf("upload_path must start with /, got %q", c.UploadPath)
	}
	// 0 would read as unset downstream and silently become the default
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 100 {
		return fmt.Errorf("confidence_threshold must be above 0 and at most 100, got %v", c.ConfidenceThreshold)
	}
	if c.AnalyticsMinConfidence <= 0 || c.AnalyticsMinConfidence > 100 {
		return fmt.Errorf("analytics_min_confidence must be above 0 and at most 100, got %v", c.AnalyticsMinConfidence)
	}
	if c.AnalyticsLimit < 1 {
		return fmt.Errorf("analytics_limit must be positive")
	}
	switch c.SessionStore {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when session_store is redis")
		}
	default:
		return fmt.Errorf("session_store must be memory or redis, got %q", c.SessionStore)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// WriteExample writes a commented starting config.
func WriteExample(path string) error {
	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	header := "# tagview configuration\n# backend_url points at the image-tagging backend.\n# Every field can be overridden with TAGVIEW_<FIELD> in the environment or .env.\n\n"
	return os.WriteFile(path, []byte(header+string(data)), 0644)
}
