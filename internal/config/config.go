package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"contact-radar/internal/blob"
	"contact-radar/internal/engine"
	"contact-radar/internal/export"
	"contact-radar/internal/jobs"
	"contact-radar/internal/logging"
	"contact-radar/internal/notifier"
	"contact-radar/internal/provider"
	"contact-radar/internal/scheduler"
	"contact-radar/internal/storage"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultPath 未指定配置文件时的位置。
const DefaultPath = "config.yaml"

// Config 应用配置。
type Config struct {
	Server    ServerConfig         `yaml:"server" toml:"server"`
	Database  storage.Config       `yaml:"database" toml:"database"`
	Storage   blob.Config          `yaml:"storage" toml:"storage"`
	Provider  provider.Config      `yaml:"provider" toml:"provider"`
	Engine    engine.Config        `yaml:"engine" toml:"engine"`
	Scheduler scheduler.Config     `yaml:"scheduler" toml:"scheduler"`
	Lock      LockConfig           `yaml:"lock" toml:"lock"`
	Jobs      jobs.Config          `yaml:"jobs" toml:"jobs"`
	Export    export.Config        `yaml:"export" toml:"export"`
	Progress  ProgressConfig       `yaml:"progress" toml:"progress"`
	Email     notifier.EmailConfig `yaml:"email" toml:"email"`
	Logging   logging.Config       `yaml:"logging" toml:"logging"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr" toml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// LockConfig 任务锁配置，driver 为 memory 或 redis。
type LockConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	URL    string `yaml:"url" toml:"url"`
	Prefix string `yaml:"prefix" toml:"prefix"`
}

// ProgressConfig 控制结果内联保存的上限。
type ProgressConfig struct {
	InlineThreshold int `yaml:"inline_threshold" toml:"inline_threshold"`
}

// Load 按扩展名解析 YAML 或 TOML；文件不存在时使用默认配置。
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	cfg.ApplyDefaults()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse toml %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("BLOB_SIGNING_KEY"); v != "" {
		cfg.Storage.SigningKey = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Lock.URL = v
	}
}

// ApplyDefaults 补全未配置的字段。
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "5s"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "data/contacts.db"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "fs"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/files"
	}
	if c.Storage.BaseURL == "" {
		c.Storage.BaseURL = "http://localhost" + c.Server.Addr
	}
	if c.Storage.URLTTL == "" {
		c.Storage.URLTTL = "1h"
	}
	if c.Scheduler.Interval == "" {
		c.Scheduler.Interval = "@every 30s"
	}
	if c.Engine.Timeout == "" {
		c.Engine.Timeout = "60s"
	}
	if c.Engine.CheckpointEveryRecords == 0 {
		c.Engine.CheckpointEveryRecords = 500
	}
	if c.Engine.CheckpointEveryQueries == 0 {
		c.Engine.CheckpointEveryQueries = 5
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = "memory"
		if c.Lock.URL != "" {
			c.Lock.Driver = "redis"
		}
	}
	if c.Lock.Prefix == "" {
		c.Lock.Prefix = "contact-radar:lock:"
	}
	if c.Progress.InlineThreshold == 0 {
		c.Progress.InlineThreshold = 5000
	}
	if c.Export.BatchSize == 0 {
		c.Export.BatchSize = 1000
	}
	if c.Export.LargeThreshold == 0 {
		c.Export.LargeThreshold = c.Progress.InlineThreshold
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate 检查运行服务所必需的配置。
func (c Config) Validate() error {
	var errs []error
	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("provider.api_key is required"))
	}
	if c.Storage.SigningKey == "" {
		errs = append(errs, errors.New("storage.signing_key is required"))
	}
	if c.Lock.Driver == "redis" && c.Lock.URL == "" {
		errs = append(errs, errors.New("lock.url is required for redis driver"))
	}
	return errors.Join(errs...)
}
