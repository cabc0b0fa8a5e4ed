package query

import "contact-radar/internal/model"

// IsSpecific 判断位置是否已足够具体，具体的位置只需一次查询即可结束。
//
// 结构化位置只有在城市和州都具体、且没有待展开列表时才算具体；
// 自由文本不在此判断，由剩余未用位置决定是否继续；
// 简单（或缺失）位置视为具体。
func IsSpecific(loc model.Location) bool {
	switch loc.Kind {
	case model.LocationStructured:
		if loc.HasExpansion() {
			return false
		}
		return loc.ConcreteCity() && loc.ConcreteState()
	case model.LocationFreeText:
		return false
	default:
		return true
	}
}
