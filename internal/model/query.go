package model

import "time"

// QuerySource 记录查询由哪条扩展规则产生。
type QuerySource string

const (
	SourceInitial      QuerySource = "initial"
	SourceCity         QuerySource = "city"
	SourceStateLevel   QuerySource = "state_level"
	SourceState        QuerySource = "state"
	SourceCountryLevel QuerySource = "country_level"
	SourceStateExact   QuerySource = "state_exact"
	SourceCountryExact QuerySource = "country_exact"
	SourceFreeText     QuerySource = "free_text"
	SourceVariation    QuerySource = "variation"
	SourceBase         QuerySource = "base"
)

// QueryEntry 是查询历史中的一项。
type QueryEntry struct {
	Query    string      `json:"query"`
	Source   QuerySource `json:"source"`
	Value    string      `json:"value,omitempty"`
	IssuedAt time.Time   `json:"issued_at"`
}

// History 是只追加的查询历史。
type History []QueryEntry

func (h History) HasQuery(query string) bool {
	for _, e := range h {
		if e.Query == query {
			return true
		}
	}
	return false
}

// HasSource 判断某条规则是否已用过指定取值。
func (h History) HasSource(source QuerySource, value string) bool {
	for _, e := range h {
		if e.Source == source && e.Value == value {
			return true
		}
	}
	return false
}

func (h History) Queries() []string {
	out := make([]string, 0, len(h))
	for _, e := range h {
		out = append(out, e.Query)
	}
	return out
}
