package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"contact-radar/internal/blob"
	"contact-radar/internal/model"

	"github.com/ternarybob/arbor"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var contentTypes = map[string]string{
	FormatJSON: "application/json",
	FormatCSV:  "text/csv",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Config 导出配置。
// - BatchSize: 大结果集分批写出的批大小
// - LargeThreshold: 超过该规模按批写出，列只从前 SampleSize 条推断
// - Formats: JSON 之外的附加格式，失败不影响任务完成
type Config struct {
	BatchSize      int      `yaml:"batch_size" toml:"batch_size"`
	LargeThreshold int      `yaml:"large_threshold" toml:"large_threshold"`
	SampleSize     int      `yaml:"sample_size" toml:"sample_size"`
	Formats        []string `yaml:"formats" toml:"formats"`
}

// ProgressFunc 接收 0-99 的导出进度。
type ProgressFunc = func(pct int)

// Exporter 将最终结果写成 JSON/CSV/XLSX 并保存到存储。
type Exporter struct {
	store  blob.Store
	cfg    Config
	logger arbor.ILogger
}

func New(store blob.Store, cfg Config, logger arbor.ILogger) *Exporter {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.LargeThreshold <= 0 {
		cfg.LargeThreshold = 5000
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	if cfg.Formats == nil {
		cfg.Formats = []string{FormatCSV, FormatXLSX}
	}
	return &Exporter{store: store, cfg: cfg, logger: logger}
}

type writerFunc func(w io.Writer, columns []string, batches *Batches, onBatch func()) error

// Generate 生成全部导出文件，返回格式到存储路径的映射。
// JSON 失败返回错误；其他格式失败只记录日志并跳过。
func (e *Exporter) Generate(ctx context.Context, jobID, name string, records []model.Record, progress ProgressFunc) (map[string]string, error) {
	large := len(records) > e.cfg.LargeThreshold
	sample := len(records)
	if large {
		sample = e.cfg.SampleSize
	}
	columns := Columns(records, sample)

	formats := []string{FormatJSON}
	for _, f := range e.cfg.Formats {
		if f != FormatJSON && writerFor(f) != nil {
			formats = append(formats, f)
		}
	}

	batchSize := len(records)
	if large {
		batchSize = e.cfg.BatchSize
	}
	perFormat := batchCount(len(records), batchSize)
	total := perFormat * len(formats)
	done := 0
	onBatch := func() {
		done++
		if progress != nil && total > 0 {
			progress(min(99, done*100/total))
		}
	}

	paths := make(map[string]string, len(formats))
	for i, format := range formats {
		path := blob.ExportPath(jobID, name, format)
		batches := NewBatches(records, batchSize)
		err := e.spool(ctx, path, contentTypes[format], func(w io.Writer) error {
			return writerFor(format)(w, columns, batches, onBatch)
		})
		if err != nil {
			if format == FormatJSON {
				return nil, fmt.Errorf("export json: %w", err)
			}
			e.logger.Warn().Err(err).Str("job_id", jobID).Str("format", format).Msg("export skipped")
			done = (i + 1) * perFormat
			continue
		}
		paths[format] = path
		e.logger.Info().Str("job_id", jobID).Str("format", format).Str("path", path).Int("records", len(records)).Msg("export written")
	}
	return paths, nil
}

// spool 先写入临时文件，再整体上传，内存占用与批大小相关而非结果规模。
func (e *Exporter) spool(ctx context.Context, path, contentType string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp("", "contact-export-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp file: %w", err)
	}
	if err := e.store.Put(ctx, path, tmp, contentType); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

func writerFor(format string) writerFunc {
	switch format {
	case FormatJSON:
		return writeJSON
	case FormatCSV:
		return writeCSV
	case FormatXLSX:
		return writeXLSX
	default:
		return nil
	}
}

func batchCount(n, size int) int {
	if n == 0 || size <= 0 {
		return 1
	}
	return (n + size - 1) / size
}
