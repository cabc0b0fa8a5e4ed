package model

import "strings"

// LocationKind 描述位置的表达方式。
type LocationKind string

const (
	LocationSimple     LocationKind = "simple"
	LocationStructured LocationKind = "structured"
	LocationFreeText   LocationKind = "free_text"
)

// 通配值：表示"该层级下全部"。
const (
	AllCities = "all_cities"
	AllStates = "all_states"
)

// Location 是任务的地理范围描述。
// Cities/States 为待展开的队列，每发出一个查询弹出一项。
type Location struct {
	Kind      LocationKind `json:"kind"`
	Country   string       `json:"country,omitempty"`
	State     string       `json:"state,omitempty"`
	City      string       `json:"city,omitempty"`
	Cities    []string     `json:"cities,omitempty"`
	States    []string     `json:"states,omitempty"`
	Locations []string     `json:"locations,omitempty"`
}

func (l Location) ConcreteCity() bool {
	return l.City != "" && l.City != AllCities
}

func (l Location) ConcreteState() bool {
	return l.State != "" && l.State != AllStates
}

// HasExpansion 是否还有未展开的城市或州。
func (l Location) HasExpansion() bool {
	return len(l.Cities) > 0 || len(l.States) > 0
}

// Clone 深拷贝，避免共享底层切片。
func (l Location) Clone() Location {
	out := l
	out.Cities = append([]string(nil), l.Cities...)
	out.States = append([]string(nil), l.States...)
	out.Locations = append([]string(nil), l.Locations...)
	return out
}

// ParseFreeText 按行拆分自由文本位置，去除空行。
func ParseFreeText(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
