package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cluster-backend/internal/cluster"
	"cluster-backend/internal/database"
	"cluster-backend/internal/dataset"
	"cluster-backend/internal/messaging"
	"cluster-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	UploadBucket = "uploads"
	ResultBucket = "results"
)

// TaskProcessor consumes clustering tasks from the queue, runs the pipeline,
// and records the result or failure on the job.
type TaskProcessor struct {
	db       *gorm.DB
	storage  storage.ObjectStore
	reciever messaging.Reciever
	pipeline *cluster.Pipeline
}

func NewTaskProcessor(db *gorm.DB, store storage.ObjectStore, reciever messaging.Reciever, pipeline *cluster.Pipeline) *TaskProcessor {
	return &TaskProcessor{
		db:       db,
		storage:  store,
		reciever: reciever,
		pipeline: pipeline,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	switch task.Type() {
	case messaging.ClusterQueue:
		var payload messaging.ClusterTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling cluster task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}

		if err := proc.processClusterTask(ctx, payload); err != nil {
			slog.Error("error processing task", "queue", task.Type(), "error", err)
			if err := task.Nack(); err != nil {
				slog.Error("error reporting processing failure on message from queue", "error", err)
			}
			return
		}

		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processClusterTask(ctx context.Context, payload messaging.ClusterTaskPayload) error {
	jobId := payload.JobId

	slog.Info("processing cluster task", "job_id", jobId)

	var job database.ClusterJob
	if err := proc.db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Error("cluster task references unknown job, discarding", "job_id", jobId)
			return nil
		}
		return fmt.Errorf("error getting cluster job: %w", err)
	}

	if job.Status == database.JobCompleted {
		slog.Info("job already completed, skipping", "job_id", jobId)
		return nil
	}

	if err := proc.db.WithContext(ctx).
		Model(&database.ClusterJob{}).
		Where("id = ?", jobId).
		Updates(map[string]interface{}{
			"status":     database.JobRunning,
			"start_time": time.Now().UTC(),
		}).Error; err != nil {
		slog.Error("error marking job as running", "job_id", jobId, "error", err)
	}

	result, err := proc.runPipeline(ctx, &job)
	if err != nil {
		database.SaveJobError(ctx, proc.db, jobId, err.Error())
		database.UpdateJobStatus(ctx, proc.db, jobId, database.JobFailed) //nolint:errcheck
		return fmt.Errorf("error running cluster job %s: %w", jobId, err)
	}

	resultJson, err := json.Marshal(result)
	if err != nil {
		database.SaveJobError(ctx, proc.db, jobId, err.Error())
		database.UpdateJobStatus(ctx, proc.db, jobId, database.JobFailed) //nolint:errcheck
		return fmt.Errorf("error serializing result for job %s: %w", jobId, err)
	}

	if err := database.SaveJobResult(ctx, proc.db, jobId, resultJson, result.NumberOfClusters, len(result.Records)); err != nil {
		database.UpdateJobStatus(ctx, proc.db, jobId, database.JobFailed) //nolint:errcheck
		return err
	}

	// The downloadable artifact also goes to the result bucket so it survives
	// independently of the registry.
	download, err := result.DownloadJSON()
	if err == nil {
		key := fmt.Sprintf("clusters_%s.json", jobId)
		if err := proc.storage.PutObject(ctx, ResultBucket, key, bytes.NewReader(download)); err != nil {
			slog.Error("error storing result artifact", "job_id", jobId, "error", err)
		}
	}

	if err := database.UpdateJobStatus(ctx, proc.db, jobId, database.JobCompleted); err != nil {
		return fmt.Errorf("error updating job status to completed: %w", err)
	}

	slog.Info("cluster job completed", "job_id", jobId, "clusters", result.NumberOfClusters, "rows", len(result.Records))

	return nil
}

func (proc *TaskProcessor) runPipeline(ctx context.Context, job *database.ClusterJob) (*cluster.Result, error) {
	data, err := proc.storage.GetObject(ctx, UploadBucket, DatasetKey(job.Id))
	if err != nil {
		return nil, fmt.Errorf("error loading uploaded dataset: %w", err)
	}

	table, err := dataset.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing dataset: %w", err)
	}

	return proc.pipeline.Run(table, job.RequestedClusters)
}

// DatasetKey is the upload-bucket key of a job's CSV.
func DatasetKey(jobId uuid.UUID) string {
	return jobId.String() + ".csv"
}
