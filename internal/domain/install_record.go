package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecordStatus represents the outcome of an install run
type RecordStatus string

const (
	RecordRunning  RecordStatus = "running"
	RecordFinished RecordStatus = "finished"
	RecordFailed   RecordStatus = "failed"
	RecordCanceled RecordStatus = "canceled"
)

// InstallRecord is the persisted history of one engine run
type InstallRecord struct {
	ID           string       `json:"id" gorm:"primaryKey"`
	Title        string       `json:"title" gorm:"not null;index"`
	Task         InstallTask  `json:"task" gorm:"not null"`
	Status       RecordStatus `json:"status" gorm:"not null;index"`
	Version      string       `json:"version,omitempty"`
	TotalCount   int64        `json:"total_count"`
	FinishCount  int64        `json:"finish_count"`
	TotalBytes   int64        `json:"total_bytes"`
	FinishBytes  int64        `json:"finish_bytes"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// NewInstallRecord creates a running record for a title and task
func NewInstallRecord(title string, task InstallTask, version string) *InstallRecord {
	now := time.Now()
	return &InstallRecord{
		ID:        uuid.New().String(),
		Title:     title,
		Task:      task,
		Status:    RecordRunning,
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
		StartedAt: &now,
	}
}

// UpdateProgress copies counter values into the record
func (r *InstallRecord) UpdateProgress(p Counters) {
	r.TotalCount = p.TotalCount
	r.FinishCount = p.FinishCount
	r.TotalBytes = p.TotalBytes
	r.FinishBytes = p.FinishBytes
	r.UpdatedAt = time.Now()
}

// MarkFinished marks the run as finished
func (r *InstallRecord) MarkFinished() {
	r.complete(RecordFinished)
}

// MarkFailed marks the run as failed with the causing error
func (r *InstallRecord) MarkFailed(err error) {
	r.complete(RecordFailed)
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}

// MarkCanceled marks the run as canceled
func (r *InstallRecord) MarkCanceled() {
	r.complete(RecordCanceled)
}

func (r *InstallRecord) complete(status RecordStatus) {
	r.Status = status
	now := time.Now()
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// IsTerminal checks if the run has ended
func (r *InstallRecord) IsTerminal() bool {
	return r.Status != RecordRunning
}

// Counters is a point-in-time copy of an engine's progress counters
type Counters struct {
	TotalCount  int64 `json:"total_count"`
	FinishCount int64 `json:"finish_count"`
	TotalBytes  int64 `json:"total_bytes"`
	FinishBytes int64 `json:"finish_bytes"`
}

// Done reports whether every counter reached its total
func (c Counters) Done() bool {
	return c.FinishCount >= c.TotalCount && c.FinishBytes >= c.TotalBytes
}
