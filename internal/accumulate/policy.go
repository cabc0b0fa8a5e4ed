package accumulate

// CheckpointPolicy 决定何时把累计结果写入存储检查点。
type CheckpointPolicy struct {
	EveryRecords int
	EveryQueries int
}

// DefaultPolicy 每 500 条记录或每 5 个查询写一次。
var DefaultPolicy = CheckpointPolicy{EveryRecords: 500, EveryQueries: 5}

// Due 合并后规模跨过 EveryRecords 的整数倍，或查询序号推进到 EveryQueries 的倍数时返回 true。
func (p CheckpointPolicy) Due(before, after, queryIndex int) bool {
	if p.EveryRecords > 0 && after/p.EveryRecords > before/p.EveryRecords {
		return true
	}
	return p.EveryQueries > 0 && queryIndex > 0 && queryIndex%p.EveryQueries == 0
}
