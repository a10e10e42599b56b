package api

import (
	"time"

	"github.com/google/uuid"
)

type Job struct {
	JobId          uuid.UUID  `json:"job_id"`
	FileName       string     `json:"file_name"`
	Status         string     `json:"status"`
	RowCount       int        `json:"row_count"`
	NumClusters    int        `json:"num_clusters"`
	Error          string     `json:"error,omitempty"`
	ResultsUrl     string     `json:"results_url,omitempty"`
	CreationTime   time.Time  `json:"creation_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}

type UploadResponse struct {
	Message string    `json:"message"`
	JobId   uuid.UUID `json:"job_id"`
}

type JobListParams struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}

type ClusterSummary struct {
	Cluster int                `json:"cluster"`
	Size    int                `json:"size"`
	Means   map[string]float64 `json:"numeric_means"`
}

// ClusterResult is the full payload served by the results endpoint. Records
// carry the original row attributes plus the assigned "Cluster" label.
type ClusterResult struct {
	NumberOfClusters int                 `json:"number_of_clusters"`
	Clusters         map[string][]string `json:"clusters"`
	Records          []map[string]any    `json:"raw_clusters"`
	Summaries        []ClusterSummary    `json:"cluster_summaries"`
}
