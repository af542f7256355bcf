// server/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string   `yaml:"addr"`
	DatabaseURL string   `yaml:"database_url"`
	AdminKey    string   `yaml:"admin_key"`
	LogLevel    string   `yaml:"log_level"`
	LogPretty   bool     `yaml:"log_pretty"`
	CORSOrigins []string `yaml:"cors_origins"`
}

func Default() Config {
	return Config{
		Addr:        ":8080",
		LogLevel:    "info",
		CORSOrigins: []string{"*"},
	}
}

// Load reads .env (if present), then the optional YAML file at path, then
// HAKU_* environment variables. Later sources win.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("HAKU_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("HAKU_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("HAKU_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("HAKU_ADMIN_KEY"); v != "" {
		cfg.AdminKey = v
	}
	if v := os.Getenv("HAKU_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HAKU_LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse HAKU_LOG_PRETTY: %w", err)
		}
		cfg.LogPretty = pretty
	}
	if v := os.Getenv("HAKU_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("config: addr must not be empty")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	return nil
}

// Level returns the configured log level. Validate has already rejected bad
// values.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
