package model

import (
	"time"

	"gorm.io/datatypes"
)

// JobState 表示数据库生成任务的生命周期状态。
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// IsTerminal 终态不可再迁移。
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Statistics 记录任务的累计统计。
// - QueriesProcessed: 已合并结果的查询数
// - TotalResults: 供应商返回的原始记录总数（含重复）
// - UniqueContacts/Completed: 去重后的联系人数量
// - TotalQueries: 已发出的查询数
type Statistics struct {
	QueriesProcessed int `json:"queries_processed"`
	TotalResults     int `json:"total_results"`
	UniqueContacts   int `json:"unique_contacts"`
	Completed        int `json:"completed"`
	TotalQueries     int `json:"total_queries"`
}

// Job 表示一个联系人数据库生成任务。
// 进度字段（StoredResults/LastProcessedOffset/TotalResultsCount）由 progress 包单独读写，
// 常规查询与保存会跳过它们。
type Job struct {
	ID          string                       `gorm:"primaryKey;size:36" json:"id"`
	UserID      string                       `gorm:"index;size:128" json:"user_id"`
	Name        string                       `json:"name"`
	SearchTerm  string                       `json:"search_term"`
	Location    datatypes.JSONType[Location] `json:"location"`
	Language    string                       `json:"language"`
	Enrichments datatypes.JSONSlice[string]  `json:"enrichments"`
	Target      int                          `json:"target"`
	NotifyEmail string                       `json:"notify_email,omitempty"`

	State             JobState                        `gorm:"index;size:16" json:"status"`
	RequestID         string                          `json:"request_id"`
	History           datatypes.JSONSlice[QueryEntry] `json:"query_history"`
	CurrentQueryIndex int                             `json:"current_query_index"`
	LastMergedIndex   int                             `json:"last_merged_index"`
	Stats             datatypes.JSONType[Statistics]  `json:"statistics"`
	Message           string                          `json:"message,omitempty"`

	StoredResults       datatypes.JSON `json:"-"`
	LastProcessedOffset int            `json:"last_processed_index"`
	TotalResultsCount   int            `json:"total_results_count"`
	CheckpointPath      string         `json:"checkpoint_path,omitempty"`

	Artifacts      datatypes.JSONType[map[string]string] `json:"file_paths"`
	ExportProgress int                                   `json:"export_progress"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ProgressColumns 仅由进度存储维护的列。
var ProgressColumns = []string{"stored_results", "last_processed_offset", "total_results_count"}

func (j *Job) Loc() Location {
	return j.Location.Data()
}

func (j *Job) SetLocation(loc Location) {
	j.Location = datatypes.NewJSONType(loc)
}

func (j *Job) Statistics() Statistics {
	return j.Stats.Data()
}

func (j *Job) SetStatistics(stats Statistics) {
	j.Stats = datatypes.NewJSONType(stats)
}

// Files 返回导出文件路径（格式 -> 存储路径）。
func (j *Job) Files() map[string]string {
	files := j.Artifacts.Data()
	if files == nil {
		return map[string]string{}
	}
	return files
}

func (j *Job) SetFiles(files map[string]string) {
	j.Artifacts = datatypes.NewJSONType(files)
}

// QueryHistory 以 History 类型返回已发出的查询。
func (j *Job) QueryHistory() History {
	return History(j.History)
}

// PendingQuery 返回已写入历史但尚未提交给供应商的查询。
func (j *Job) PendingQuery() (QueryEntry, bool) {
	if len(j.History) == 0 || len(j.History)-1 <= j.CurrentQueryIndex {
		return QueryEntry{}, false
	}
	return j.History[len(j.History)-1], true
}

// UserCredits 用户额度，每个目标记录消耗一个额度。
type UserCredits struct {
	UserID    string    `gorm:"primaryKey;size:128" json:"user_id"`
	Available int       `json:"available"`
	Used      int       `json:"used"`
	UpdatedAt time.Time `json:"updated_at"`
}
