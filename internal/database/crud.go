package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UpdateJobStatus sets a job's status, stamping the completion time on
// terminal states.
func UpdateJobStatus(ctx context.Context, db *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]interface{}{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	if err := db.WithContext(ctx).
		Model(&ClusterJob{}).
		Where("id = ?", jobId).
		Updates(updates).Error; err != nil {
		slog.Error("error updating job status", "job_id", jobId, "status", status, "error", err)
		return fmt.Errorf("error updating job %s status to %s: %w", jobId, status, err)
	}

	return nil
}

// SaveJobResult records a completed run: the serialized result, the cluster
// count actually used, and the processed row count.
func SaveJobResult(ctx context.Context, db *gorm.DB, jobId uuid.UUID, result []byte, numClusters, rowCount int) error {
	if err := db.WithContext(ctx).
		Model(&ClusterJob{}).
		Where("id = ?", jobId).
		Updates(map[string]interface{}{
			"result":       result,
			"num_clusters": numClusters,
			"row_count":    rowCount,
		}).Error; err != nil {
		return fmt.Errorf("error saving result for job %s: %w", jobId, err)
	}

	return nil
}

func SaveJobError(ctx context.Context, db *gorm.DB, jobId uuid.UUID, message string) {
	if err := db.WithContext(ctx).Create(&JobError{
		JobId:     jobId,
		ErrorId:   uuid.New(),
		Error:     message,
		Timestamp: time.Now().UTC(),
	}).Error; err != nil {
		slog.Error("error saving job error", "job_id", jobId, "error", err)
	}
}
