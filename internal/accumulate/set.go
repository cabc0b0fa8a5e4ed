package accumulate

import (
	"encoding/json"

	"contact-radar/internal/model"
)

// Key 计算去重键，优先级：place_id > google_id > name+full_address > name+address > 整条记录的规范 JSON。
func Key(r model.Record) string {
	if id := r.String("place_id"); id != "" {
		return "place:" + id
	}
	if id := r.String("google_id"); id != "" {
		return "google:" + id
	}
	name := r.String("name")
	if name != "" {
		if addr := r.String("full_address"); addr != "" {
			return "full:" + name + "|" + addr
		}
		if addr := r.String("address"); addr != "" {
			return "addr:" + name + "|" + addr
		}
	}
	// encoding/json 对 map 键排序，输出稳定。
	b, err := json.Marshal(r)
	if err != nil {
		return "raw:" + name
	}
	return "raw:" + string(b)
}

// Set 是按去重键索引的记录集合，保持首次插入顺序，重复键后写覆盖。
type Set struct {
	keys  []string
	items map[string]model.Record
}

func NewSet(records ...model.Record) *Set {
	s := &Set{items: make(map[string]model.Record, len(records))}
	s.Merge(records)
	return s
}

// Add 插入或覆盖记录，返回是否为新键。
func (s *Set) Add(r model.Record) bool {
	k := Key(r)
	_, exists := s.items[k]
	if !exists {
		s.keys = append(s.keys, k)
	}
	s.items[k] = r
	return !exists
}

// Merge 合并一页记录，返回新增数量。
func (s *Set) Merge(records []model.Record) int {
	added := 0
	for _, r := range records {
		if s.Add(r) {
			added++
		}
	}
	return added
}

func (s *Set) Len() int {
	return len(s.keys)
}

// Records 按插入顺序返回记录。
func (s *Set) Records() []model.Record {
	out := make([]model.Record, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.items[k])
	}
	return out
}
