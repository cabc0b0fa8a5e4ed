package blob

import (
	"regexp"
	"strings"
)

// JobPrefix 任务文件的公共前缀。
func JobPrefix(jobID string) string {
	return "databases/" + jobID
}

// CheckpointPath 中间结果检查点位置。
func CheckpointPath(jobID string) string {
	return JobPrefix(jobID) + "/interim_results.json"
}

// ExportPath 导出文件位置，文件名来自任务名称。
func ExportPath(jobID, name, ext string) string {
	base := SanitizeFileName(name)
	if base == "" {
		base = "contacts"
	}
	return JobPrefix(jobID) + "/" + base + "." + ext
}

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	repeated    = regexp.MustCompile(`_{2,}`)
)

// SanitizeFileName 去掉非 ASCII 字符，其余不安全字符替换为下划线并压缩。
func SanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	s := unsafeChars.ReplaceAllString(strings.TrimSpace(b.String()), "_")
	s = repeated.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
