package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envConfig = "TRADEPOLICY_CONFIG"

// Config is the tradepolicy configuration file
// (~/.config/tradepolicy/config.yaml or config.toml).
// Non-string fields are pointers so we can distinguish "not set" from zero
// values.
type Config struct {
	Store     string `yaml:"store" toml:"store"`
	StorePath string `yaml:"store_path" toml:"store_path"`

	// Output
	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"`

	// Server
	ServerAddress  string   `yaml:"server_address" toml:"server_address"`
	CompileOnStart *bool    `yaml:"compile_on_start" toml:"compile_on_start"`
	ModelFile      string   `yaml:"model_file" toml:"model_file"`
	WatchModel     *bool    `yaml:"watch_model" toml:"watch_model"`
	RateLimit      *float64 `yaml:"rate_limit" toml:"rate_limit"`
	AdminTokenHash string   `yaml:"admin_token_hash" toml:"admin_token_hash"`
}

// configPath returns $TRADEPOLICY_CONFIG, or the first of config.yaml and
// config.toml found in the user config dir.
func configPath() string {
	if p := strings.TrimSpace(os.Getenv(envConfig)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		p := filepath.Join(dir, "tradepolicy", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; a file that does not parse is an error.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyGlobalConfig applies config file defaults to the global flags when the
// corresponding flag was not explicitly set.
func applyGlobalConfig(c *cli.Command, cfg Config) {
	if cfg.Store != "" && !c.IsSet("store") {
		storeKind = cfg.Store
	}
	if cfg.StorePath != "" && !c.IsSet("store-path") {
		storePath = cfg.StorePath
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, opts *serveOptions) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		opts.addr = cfg.ServerAddress
	}
	if cfg.CompileOnStart != nil && !c.IsSet("compile-on-start") {
		opts.compileOnStart = *cfg.CompileOnStart
	}
	if cfg.ModelFile != "" && !c.IsSet("model") {
		opts.modelFile = cfg.ModelFile
	}
	if cfg.WatchModel != nil && !c.IsSet("watch") {
		opts.watch = *cfg.WatchModel
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		opts.rateLimit = *cfg.RateLimit
	}
	if cfg.AdminTokenHash != "" && !c.IsSet("admin-token-hash") {
		opts.adminTokenHash = cfg.AdminTokenHash
	}
}
