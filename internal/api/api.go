package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cluster-backend/internal/cluster"
	"cluster-backend/internal/core"
	"cluster-backend/internal/database"
	"cluster-backend/internal/dataset"
	"cluster-backend/internal/messaging"
	"cluster-backend/internal/storage"
	"cluster-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxUploadBytes  = 32 << 20
	defaultPageSize = 50
	maxPageSize     = 200
)

type BackendService struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	pipeline  *cluster.Pipeline

	// routePrefix is prepended to result links returned by the status
	// endpoint, e.g. "/api/v1".
	routePrefix string
}

func NewBackendService(db *gorm.DB, store storage.ObjectStore, publisher messaging.Publisher, pipeline *cluster.Pipeline, routePrefix string) *BackendService {
	return &BackendService{
		db:          db,
		storage:     store,
		publisher:   publisher,
		pipeline:    pipeline,
		routePrefix: routePrefix,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", RestHandler(s.UploadDataset))
		r.Get("/", RestHandler(s.ListJobs))
		r.Get("/{job_id}", RestHandler(s.GetJobStatus))
		r.Get("/{job_id}/results", RestHandler(s.GetJobResults))
		r.Get("/{job_id}/download", s.DownloadResults)
	})
}

// UploadDataset accepts a multipart CSV upload, validates it, stores it, and
// queues a clustering job. Validation failures are rejected here, before any
// job exists.
func (s *BackendService) UploadDataset(r *http.Request) (any, error) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart upload: %v", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "no file selected")
	}
	defer file.Close()

	if header.Filename == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "no file selected")
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		return nil, CodedErrorf(http.StatusBadRequest, "only CSV files are supported")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error reading uploaded file")
	}
	if len(data) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "uploaded file is empty")
	}

	table, err := dataset.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}
	if err := s.pipeline.Validate(table); err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	numClusters := 0
	if v := r.FormValue("num_clusters"); v != "" {
		numClusters, err = strconv.Atoi(v)
		if err != nil || numClusters < 1 {
			return nil, CodedErrorf(http.StatusBadRequest, "num_clusters must be a positive integer")
		}
	}

	job := database.ClusterJob{
		Id:                uuid.New(),
		FileName:          header.Filename,
		Status:            database.JobQueued,
		RequestedClusters: numClusters,
		RowCount:          table.NumRows(),
		CreationTime:      time.Now().UTC(),
	}

	if err := s.storage.PutObject(ctx, core.UploadBucket, core.DatasetKey(job.Id), bytes.NewReader(data)); err != nil {
		slog.Error("error storing uploaded dataset", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to store uploaded dataset")
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating cluster job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create job entry")
	}

	if err := s.publisher.PublishClusterTask(ctx, messaging.ClusterTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing cluster task", "job_id", job.Id, "error", err)
		database.SaveJobError(ctx, s.db, job.Id, "failed to queue clustering task")
		database.UpdateJobStatus(ctx, s.db, job.Id, database.JobFailed) //nolint:errcheck
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue clustering task")
	}

	slog.Info("submitted cluster job", "job_id", job.Id, "file", job.FileName, "rows", job.RowCount)

	return api.UploadResponse{Message: "Clustering job submitted", JobId: job.Id}, nil
}

func (s *BackendService) ListJobs(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.JobListParams](r)
	if err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	var jobs []database.ClusterJob
	if err := s.db.WithContext(r.Context()).
		Preload("Errors").
		Order("creation_time DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error; err != nil {
		slog.Error("error listing jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving jobs")
	}

	response := make([]api.Job, len(jobs))
	for i, job := range jobs {
		response[i] = s.jobToApi(job)
	}
	return response, nil
}

func (s *BackendService) GetJobStatus(r *http.Request) (any, error) {
	job, err := s.getJob(r)
	if err != nil {
		return nil, err
	}
	return s.jobToApi(*job), nil
}

func (s *BackendService) GetJobResults(r *http.Request) (any, error) {
	job, err := s.getJob(r)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case database.JobCompleted:
		return json.RawMessage(job.Result), nil
	case database.JobFailed:
		return nil, CodedErrorf(http.StatusConflict, "clustering failed: %s", jobError(*job))
	default:
		return nil, CodedErrorf(http.StatusConflict, "job is still %s", strings.ToLower(job.Status))
	}
}

// DownloadResults serves the result as a JSON attachment. It is a plain
// handler because it controls its own headers.
func (s *BackendService) DownloadResults(w http.ResponseWriter, r *http.Request) {
	job, err := s.getJob(r)
	if err != nil {
		var cerr *codedError
		if errors.As(err, &cerr) {
			http.Error(w, err.Error(), cerr.code)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if job.Status != database.JobCompleted {
		http.Error(w, "result not available", http.StatusBadRequest)
		return
	}

	var result cluster.Result
	if err := json.Unmarshal(job.Result, &result); err != nil {
		slog.Error("error decoding stored result", "job_id", job.Id, "error", err)
		http.Error(w, "error reading stored result", http.StatusInternalServerError)
		return
	}

	download, err := result.DownloadJSON()
	if err != nil {
		slog.Error("error serializing download", "job_id", job.Id, "error", err)
		http.Error(w, "error serializing result", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("clusters_%s.json", job.Id)))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(download); err != nil {
		slog.Error("error writing download response", "job_id", job.Id, "error", err)
	}
}

func (s *BackendService) getJob(r *http.Request) (*database.ClusterJob, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.ClusterJob
	if err := s.db.WithContext(r.Context()).Preload("Errors").First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}

	return &job, nil
}

func (s *BackendService) jobToApi(job database.ClusterJob) api.Job {
	out := api.Job{
		JobId:        job.Id,
		FileName:     job.FileName,
		Status:       job.Status,
		RowCount:     job.RowCount,
		NumClusters:  job.NumClusters,
		CreationTime: job.CreationTime,
	}

	if job.CompletionTime.Valid {
		t := job.CompletionTime.Time
		out.CompletionTime = &t
	}

	switch job.Status {
	case database.JobCompleted:
		out.ResultsUrl = fmt.Sprintf("%s/jobs/%s/results", s.routePrefix, job.Id)
	case database.JobFailed:
		out.Error = jobError(job)
	}

	return out
}

func jobError(job database.ClusterJob) string {
	if len(job.Errors) == 0 {
		return "unknown error"
	}
	return job.Errors[0].Error
}
