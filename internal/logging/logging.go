package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// Config 日志配置。Output 可包含 console 与 file。
type Config struct {
	Level  string   `yaml:"level" toml:"level"`
	Output []string `yaml:"output" toml:"output"`
	File   string   `yaml:"file" toml:"file"`
}

// New 按配置构造 arbor 日志器，未指定输出时写控制台。
func New(cfg Config) arbor.ILogger {
	logger := arbor.NewLogger()

	console, file := false, false
	for _, out := range cfg.Output {
		switch strings.ToLower(strings.TrimSpace(out)) {
		case "console", "stdout":
			console = true
		case "file":
			file = true
		}
	}
	if !console && !file {
		console = true
	}

	if file {
		name := cfg.File
		if name == "" {
			name = filepath.Join("logs", "contact-radar.log")
		}
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create log dir: %v\n", err)
			console = true
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   name,
				TimeFormat: "15:04:05",
				MaxSize:    100 * 1024 * 1024,
				MaxBackups: 3,
			})
		}
	}
	if console {
		logger = logger.WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: "15:04:05",
		})
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	return logger.WithLevelFromString(level)
}
