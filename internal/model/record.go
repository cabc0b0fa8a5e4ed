package model

import (
	"encoding/json"
	"strconv"
)

// Record 是供应商返回的一条商家记录，字段不固定。
type Record map[string]any

// String 以字符串读取字段，缺失或非标量时返回空串。
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
