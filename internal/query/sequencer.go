package query

import (
	"strings"

	"contact-radar/internal/model"
)

// Variations 是位置扩展用尽后追加在搜索词后的同义后缀。
var Variations = []string{"businesses", "companies", "establishments", "locations", "providers"}

// Next 是序列器给出的下一条查询，以及弹出后的位置描述。
// 调用方需要把 Entry 追加到历史并同时持久化 Location。
type Next struct {
	Entry    model.QueryEntry
	Location model.Location
}

// Join 以 ", " 连接非空片段。
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

// Initial 构造任务的第一条查询。
func Initial(term string, loc model.Location) model.QueryEntry {
	term = strings.TrimSpace(term)
	switch loc.Kind {
	case model.LocationStructured:
		state := concreteState(loc)
		switch {
		case loc.ConcreteCity():
			return entry(Join(term, loc.City, state, loc.Country), model.SourceCity, loc.City)
		case state != "":
			return entry(Join(term, state, loc.Country), model.SourceStateExact, state)
		case loc.Country != "":
			return entry(Join(term, loc.Country), model.SourceCountryExact, loc.Country)
		}
	case model.LocationFreeText:
		if len(loc.Locations) > 0 {
			return entry(Join(term, loc.Locations[0]), model.SourceFreeText, loc.Locations[0])
		}
	}
	return entry(term, model.SourceInitial, "")
}

// NextQuery 按优先级返回一条历史中未出现过的查询；全部用尽时返回 false。
// 不修改入参，弹出操作体现在返回的 Location 中。
func NextQuery(term string, loc model.Location, history model.History) (Next, bool) {
	term = strings.TrimSpace(term)
	loc = loc.Clone()
	state := concreteState(loc)

	if loc.Kind == model.LocationStructured {
		for len(loc.Cities) > 0 {
			city := loc.Cities[0]
			loc.Cities = loc.Cities[1:]
			q := Join(term, city, state, loc.Country)
			if !history.HasQuery(q) {
				return Next{Entry: entry(q, model.SourceCity, city), Location: loc}, true
			}
		}

		if loc.City == model.AllCities && state != "" {
			if q := Join(term, state, loc.Country); !history.HasQuery(q) {
				return Next{Entry: entry(q, model.SourceStateLevel, state), Location: loc}, true
			}
		}

		if loc.State == model.AllStates || len(loc.States) > 0 {
			for len(loc.States) > 0 {
				st := loc.States[0]
				loc.States = loc.States[1:]
				q := Join(term, st, loc.Country)
				if !history.HasQuery(q) {
					return Next{Entry: entry(q, model.SourceState, st), Location: loc}, true
				}
			}
			if loc.Country != "" {
				if q := Join(term, loc.Country); !history.HasQuery(q) {
					return Next{Entry: entry(q, model.SourceCountryLevel, loc.Country), Location: loc}, true
				}
			}
		}

		if state != "" {
			if q := Join(term, state, loc.Country); !history.HasQuery(q) {
				return Next{Entry: entry(q, model.SourceStateExact, state), Location: loc}, true
			}
		}

		if loc.Country != "" {
			if q := Join(term, loc.Country); !history.HasQuery(q) {
				return Next{Entry: entry(q, model.SourceCountryExact, loc.Country), Location: loc}, true
			}
		}
	}

	if loc.Kind == model.LocationFreeText {
		for _, place := range loc.Locations {
			q := Join(term, place)
			if history.HasSource(model.SourceFreeText, place) || history.HasQuery(q) {
				continue
			}
			return Next{Entry: entry(q, model.SourceFreeText, place), Location: loc}, true
		}
	}

	for _, v := range Variations {
		q := variationQuery(term+" "+v, loc, state)
		if !history.HasQuery(q) {
			return Next{Entry: entry(q, model.SourceVariation, v), Location: loc}, true
		}
	}

	if term != "" && !history.HasQuery(term) {
		return Next{Entry: entry(term, model.SourceBase, ""), Location: loc}, true
	}
	return Next{}, false
}

func variationQuery(base string, loc model.Location, state string) string {
	if loc.Kind != model.LocationStructured {
		return base
	}
	switch {
	case loc.ConcreteCity():
		return Join(base, loc.City, state, loc.Country)
	case state != "":
		return Join(base, state, loc.Country)
	case loc.Country != "":
		return Join(base, loc.Country)
	default:
		return base
	}
}

func concreteState(loc model.Location) string {
	if loc.ConcreteState() {
		return loc.State
	}
	return ""
}

func entry(q string, source model.QuerySource, value string) model.QueryEntry {
	return model.QueryEntry{Query: q, Source: source, Value: value}
}
