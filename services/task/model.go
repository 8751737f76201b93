package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobSkipped JobStatus = "skipped"
	JobFailed  JobStatus = "failed"
)

// Trigger says who started a distribution.
const (
	TriggerSchedule = "schedule"
	TriggerWebhook  = "webhook"
)

// Job is an execution record of one distribution attempt.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	TaskName    string         `gorm:"column:task_name;size:64;index:idx_jobs_task_period,priority:1" json:"task_name"`
	PeriodKey   string         `gorm:"column:period_key;size:10;index:idx_jobs_task_period,priority:2" json:"period_key"`
	Status      JobStatus      `gorm:"column:status;size:16;default:pending" json:"status"`
	ErrorMsg    string         `gorm:"column:error_msg" json:"error_msg,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

type distributePayload struct {
	PeriodKey string `json:"period_key"`
	JobID     string `json:"job_id,omitempty"`
	Trigger   string `json:"trigger"`
}
