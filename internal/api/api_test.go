package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"cluster-backend/internal/api"
	"cluster-backend/internal/cluster"
	"cluster-backend/internal/core"
	"cluster-backend/internal/database"
	"cluster-backend/internal/messaging"
	"cluster-backend/internal/storage"
	pkgapi "cluster-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const routePrefix = "/api/v1"

const surveyCSV = "name,age,hours_online,ott_top1\n" +
	"alice,21,8,netflix\n" +
	"bob,22,9,netflix\n" +
	"carol,23,7,netflix\n" +
	"dave,55,1,hulu\n" +
	"erin,56,2,hulu\n" +
	"frank,54,1,hulu\n"

type testServer struct {
	db     *gorm.DB
	queue  *messaging.InMemoryQueue
	proc   *core.TaskProcessor
	router chi.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.NewSqliteDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(context.Background(), core.UploadBucket))
	require.NoError(t, store.CreateBucket(context.Background(), core.ResultBucket))

	queue := messaging.NewInMemoryQueue()
	pipeline := cluster.NewPipeline(cluster.DefaultConfig())

	router := chi.NewRouter()
	router.Route(routePrefix, api.NewBackendService(db, store, queue, pipeline, routePrefix).AddRoutes)

	return &testServer{
		db:     db,
		queue:  queue,
		proc:   core.NewTaskProcessor(db, store, queue, pipeline),
		router: router,
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, httptest.NewRequest(http.MethodGet, routePrefix+path, nil))
}

func uploadRequest(t *testing.T, filename, contents string, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = io.WriteString(part, contents)
		require.NoError(t, err)
	}
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, routePrefix+"/jobs", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func (s *testServer) upload(t *testing.T, filename, contents string, fields map[string]string) pkgapi.UploadResponse {
	t.Helper()

	w := s.do(t, uploadRequest(t, filename, contents, fields))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res pkgapi.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEqual(t, uuid.Nil, res.JobId)
	return res
}

func (s *testServer) processNext(t *testing.T) {
	t.Helper()

	select {
	case task := <-s.queue.Tasks():
		s.proc.ProcessTask(task)
	case <-time.After(time.Second):
		t.Fatal("no task on queue")
	}
}

func (s *testServer) jobStatus(t *testing.T, jobId uuid.UUID) pkgapi.Job {
	t.Helper()

	w := s.get(t, fmt.Sprintf("/jobs/%s", jobId))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var job pkgapi.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	return job
}

func TestHealth(t *testing.T) {
	server := newTestServer(t)

	w := server.get(t, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUploadAndRetrieveResults(t *testing.T) {
	server := newTestServer(t)

	res := server.upload(t, "survey.csv", surveyCSV, map[string]string{"num_clusters": "2"})
	assert.Equal(t, "Clustering job submitted", res.Message)

	job := server.jobStatus(t, res.JobId)
	assert.Equal(t, database.JobQueued, job.Status)
	assert.Equal(t, "survey.csv", job.FileName)
	assert.Equal(t, 6, job.RowCount)
	assert.Empty(t, job.ResultsUrl)
	assert.Nil(t, job.CompletionTime)

	// Results are not served until the job completes.
	w := server.get(t, fmt.Sprintf("/jobs/%s/results", res.JobId))
	assert.Equal(t, http.StatusConflict, w.Code)
	w = server.get(t, fmt.Sprintf("/jobs/%s/download", res.JobId))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	server.processNext(t)

	job = server.jobStatus(t, res.JobId)
	assert.Equal(t, database.JobCompleted, job.Status)
	assert.Equal(t, 2, job.NumClusters)
	assert.Equal(t, fmt.Sprintf("%s/jobs/%s/results", routePrefix, res.JobId), job.ResultsUrl)
	require.NotNil(t, job.CompletionTime)

	w = server.get(t, fmt.Sprintf("/jobs/%s/results", res.JobId))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result pkgapi.ClusterResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.NumberOfClusters)
	assert.Len(t, result.Records, 6)

	members := 0
	for _, names := range result.Clusters {
		members += len(names)
	}
	assert.Equal(t, 6, members)

	w = server.get(t, fmt.Sprintf("/jobs/%s/download", res.JobId))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("clusters_%s.json", res.JobId)), w.Header().Get("Content-Disposition"))

	// The download holds only the cluster membership, not the full result.
	var download map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &download))
	assert.Contains(t, download, "number_of_clusters")
	assert.Contains(t, download, "clusters")
	assert.NotContains(t, download, "raw_clusters")
}

func TestUploadRejectsMissingIdentifierColumn(t *testing.T) {
	server := newTestServer(t)

	w := server.do(t, uploadRequest(t, "survey.csv", "age,city\n30,berlin\n", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// No job is registered for a rejected upload.
	var count int64
	require.NoError(t, server.db.Model(&database.ClusterJob{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUploadRejectsNonNumericDataset(t *testing.T) {
	server := newTestServer(t)

	w := server.do(t, uploadRequest(t, "survey.csv", "name,city\nalice,berlin\n", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsNonCSV(t *testing.T) {
	server := newTestServer(t)

	w := server.do(t, uploadRequest(t, "survey.txt", surveyCSV, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "only CSV files are supported")
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	server := newTestServer(t)

	w := server.do(t, uploadRequest(t, "survey.csv", "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsMissingFile(t *testing.T) {
	server := newTestServer(t)

	w := server.do(t, uploadRequest(t, "", "", map[string]string{"num_clusters": "2"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "no file selected")
}

func TestUploadRejectsInvalidClusterCount(t *testing.T) {
	server := newTestServer(t)

	for _, value := range []string{"abc", "0", "-3"} {
		w := server.do(t, uploadRequest(t, "survey.csv", surveyCSV, map[string]string{"num_clusters": value}))
		assert.Equal(t, http.StatusBadRequest, w.Code, "num_clusters=%s", value)
	}
}

func TestGetJobNotFound(t *testing.T) {
	server := newTestServer(t)

	w := server.get(t, fmt.Sprintf("/jobs/%s", uuid.New()))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = server.get(t, "/jobs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFailedJobReportsError(t *testing.T) {
	server := newTestServer(t)

	// More clusters than rows fails during processing, after a clean upload.
	res := server.upload(t, "survey.csv", "name,age\nalice,30\nbob,25\n", map[string]string{"num_clusters": "5"})
	server.processNext(t)

	job := server.jobStatus(t, res.JobId)
	assert.Equal(t, database.JobFailed, job.Status)
	assert.NotEmpty(t, job.Error)
	assert.Empty(t, job.ResultsUrl)

	w := server.get(t, fmt.Sprintf("/jobs/%s/results", res.JobId))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "clustering failed")
}

func TestListJobs(t *testing.T) {
	server := newTestServer(t)

	first := server.upload(t, "first.csv", surveyCSV, nil)
	second := server.upload(t, "second.csv", surveyCSV, nil)

	w := server.get(t, "/jobs")
	require.Equal(t, http.StatusOK, w.Code)

	var jobs []pkgapi.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)

	ids := []uuid.UUID{jobs[0].JobId, jobs[1].JobId}
	assert.Contains(t, ids, first.JobId)
	assert.Contains(t, ids, second.JobId)

	w = server.get(t, "/jobs?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)
}
