package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"contact-radar/internal/model"
)

// preferred 常用字段放在前面，其余按字母序。
var preferred = []string{
	"name", "full_address", "street", "city", "postal_code", "state", "country",
	"phone", "site", "domain", "email_1", "email_2", "email_3",
	"category", "type", "rating", "reviews", "latitude", "longitude",
	"place_id", "google_id",
}

// Columns 从前 sample 条记录推断列集合（展平后的键的并集）。
func Columns(records []model.Record, sample int) []string {
	if sample > len(records) {
		sample = len(records)
	}
	seen := make(map[string]bool)
	for _, r := range records[:sample] {
		for k := range FlattenRecord(r) {
			seen[k] = true
		}
	}

	cols := make([]string, 0, len(seen))
	for _, k := range preferred {
		if seen[k] {
			cols = append(cols, k)
			delete(seen, k)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

// FlattenRecord 展平嵌套对象为 parent_child 键，标量数组以 ", " 连接。
func FlattenRecord(r model.Record) map[string]string {
	out := make(map[string]string, len(r))
	flattenInto(out, "", map[string]any(r))
	return out
}

func flattenInto(out map[string]string, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = cellValue(v)
	}
}

func cellValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			switch item.(type) {
			case map[string]any, []any:
				b, _ := json.Marshal(item)
				parts = append(parts, string(b))
			default:
				parts = append(parts, cellValue(item))
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}

func row(r model.Record, columns []string) []string {
	flat := FlattenRecord(r)
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = flat[c]
	}
	return out
}
