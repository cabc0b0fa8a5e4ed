package export

import "contact-radar/internal/model"

// Batches 按固定大小切分记录，Progress 返回已消费百分比。
type Batches struct {
	records []model.Record
	size    int
	pos     int
}

func NewBatches(records []model.Record, size int) *Batches {
	if size <= 0 {
		size = len(records)
	}
	return &Batches{records: records, size: size}
}

func (b *Batches) Next() ([]model.Record, bool) {
	if b.pos >= len(b.records) {
		return nil, false
	}
	end := min(b.pos+b.size, len(b.records))
	batch := b.records[b.pos:end]
	b.pos = end
	return batch, true
}

func (b *Batches) Progress() int {
	if len(b.records) == 0 {
		return 100
	}
	return b.pos * 100 / len(b.records)
}
