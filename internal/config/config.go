// Package config loads service configuration from an optional YAML file
// overlaid with INKWELL_-prefixed environment variables.
package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Storage  StorageConfig  `koanf:"storage"`
	Stream   StreamConfig   `koanf:"stream"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

// UpstreamConfig points at the model-serving backend.
type UpstreamConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// StreamConfig tunes the streaming pipeline.
type StreamConfig struct {
	// IdleTimeout is how long the stream may go without a frame before
	// the generation is failed. Duration string like "60s".
	IdleTimeout string `koanf:"idle_timeout"`
	// HistoryTokenLimit caps the token count of outbound history.
	HistoryTokenLimit int `koanf:"history_token_limit"`
}

// IdleTimeoutDuration parses the idle timeout, falling back to a minute
// on a missing or malformed value.
func (c StreamConfig) IdleTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// Load reads config.yaml (if present) and the environment.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile reads the given YAML file (if present) and the environment.
// Env vars override file values: INKWELL_SERVER__PORT=9000 sets
// server.port.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// Missing file is fine; env vars carry the config.
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("INKWELL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "INKWELL_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Upstream.APIKey = substituteEnvVars(cfg.Upstream.APIKey)

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("upstream.model") {
		k.Set("upstream.model", "gpt-4o")
	}
	if !k.Exists("storage.sqlite.path") {
		k.Set("storage.sqlite.path", "./data/inkwell.db")
	}
	if !k.Exists("stream.idle_timeout") {
		k.Set("stream.idle_timeout", "60s")
	}
	if !k.Exists("stream.history_token_limit") {
		k.Set("stream.history_token_limit", 32000)
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
