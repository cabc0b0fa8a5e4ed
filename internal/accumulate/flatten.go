package accumulate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"contact-radar/internal/model"
)

// Flatten 解析供应商返回的数据，展开任意层数组嵌套，只保留对象记录，并补充派生字段。
func Flatten(raw json.RawMessage) ([]model.Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}

	var out []model.Record
	collect(payload, &out)
	Annotate(out)
	return out, nil
}

func collect(v any, out *[]model.Record) {
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			collect(item, out)
		}
	case map[string]any:
		*out = append(*out, model.Record(x))
	}
}

// DecodeRecords 解析快照/检查点中的记录数组。
func DecodeRecords(raw []byte) ([]model.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []model.Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}
