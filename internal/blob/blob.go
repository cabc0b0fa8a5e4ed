package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrNotFound = errors.New("blob not found")

// Store 抽象对象存储，供检查点与导出文件使用。
type Store interface {
	Put(ctx context.Context, path string, r io.Reader, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	Verify(path, expires, sig string) error
	Close() error
}

// Config 存储配置。
// - Driver: fs（本地目录）或 badger（嵌入式 KV）
// - BaseURL: 签名链接的对外前缀
// - URLTTL: 下载链接有效期
type Config struct {
	Driver     string `yaml:"driver" toml:"driver"`
	Path       string `yaml:"path" toml:"path"`
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	SigningKey string `yaml:"signing_key" toml:"signing_key"`
	URLTTL     string `yaml:"url_ttl" toml:"url_ttl"`
}

// TTL 解析链接有效期，默认 1 小时。
func (c Config) TTL() time.Duration {
	if d, err := time.ParseDuration(c.URLTTL); err == nil && d > 0 {
		return d
	}
	return time.Hour
}

// Open 按 Driver 打开存储。
func Open(cfg Config) (Store, error) {
	signer := NewSigner(cfg.SigningKey, cfg.BaseURL)
	switch cfg.Driver {
	case "", "fs":
		path := cfg.Path
		if path == "" {
			path = "data/blobs"
		}
		return NewFSStore(path, signer)
	case "badger":
		path := cfg.Path
		if path == "" {
			path = "data/blobs.badger"
		}
		return NewBadgerStore(path, signer)
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}
