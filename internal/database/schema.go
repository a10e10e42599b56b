package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

// ClusterJob is the task registry entry for one uploaded dataset. Jobs are
// created QUEUED at upload time, mutated by the task processor, and never
// deleted by the service.
type ClusterJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	FileName string
	Status   string `gorm:"size:20;not null"`

	// RequestedClusters is the user-pinned cluster count, 0 for auto-select.
	RequestedClusters int `gorm:"default:0"`

	RowCount    int `gorm:"default:0"`
	NumClusters int `gorm:"default:0"`

	Result datatypes.JSON `gorm:"type:jsonb"`

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Errors []JobError `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type JobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}
