package cluster

import (
	"encoding/json"
	"fmt"
	"math"

	"cluster-backend/internal/dataset"

	"gonum.org/v1/gonum/mat"
)

type ClusterSummary struct {
	Cluster int                `json:"cluster"`
	Size    int                `json:"size"`
	Means   map[string]float64 `json:"numeric_means"`
}

// Result is the output of one clustering run. Records hold the original row
// attributes plus the assigned "Cluster" label; Clusters maps cluster names
// to member identifiers in row order.
type Result struct {
	NumberOfClusters int                 `json:"number_of_clusters"`
	Clusters         map[string][]string `json:"clusters"`
	Records          []map[string]any    `json:"raw_clusters"`
	Summaries        []ClusterSummary    `json:"cluster_summaries"`
}

// DownloadJSON serializes the downloadable view of a result: the cluster
// count and the cluster membership map, pretty-printed.
func (r *Result) DownloadJSON() ([]byte, error) {
	payload := struct {
		NumberOfClusters int                 `json:"number_of_clusters"`
		Clusters         map[string][]string `json:"clusters"`
	}{
		NumberOfClusters: r.NumberOfClusters,
		Clusters:         r.Clusters,
	}
	return json.MarshalIndent(payload, "", "  ")
}

type Pipeline struct {
	cfg Config
}

func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Validate checks that a parsed table can enter the pipeline: it must carry
// the identifier column (enforced by the parser) and at least one column that
// can become a feature. Called at upload time so bad datasets are rejected
// before a job exists.
func (p *Pipeline) Validate(t *dataset.Table) error {
	if t.ColumnIndex(dataset.IdentifierColumn) < 0 {
		return dataset.ErrMissingIdentifier
	}
	if len(extractFeatures(t, p.cfg.CategoricalColumns)) == 0 {
		return ErrNoNumericColumns
	}
	return nil
}

// Run executes the full pipeline on a table: feature extraction, scaling,
// cluster-count selection when k <= 0, k-means fit/predict, and result
// assembly.
func (p *Pipeline) Run(t *dataset.Table, k int) (*Result, error) {
	x, featureNames, err := BuildFeatureMatrix(t, p.cfg)
	if err != nil {
		return nil, err
	}

	if k <= 0 {
		k = p.selectClusterCount(x)
	}

	labels, _, err := NewKMeans(k, p.cfg).FitPredict(x)
	if err != nil {
		return nil, fmt.Errorf("clustering failed: %w", err)
	}

	return p.assembleResult(t, featureNames, labels, k), nil
}

// selectClusterCount sweeps k over [2, min(MaxClusters, rows-1)] and keeps
// the best mean silhouette score. Datasets too small to sweep fall back to
// min(3, rows).
func (p *Pipeline) selectClusterCount(x *mat.Dense) int {
	rows, _ := x.Dims()

	maxK := p.cfg.MaxClusters
	if rows-1 < maxK {
		maxK = rows - 1
	}
	if maxK < 2 {
		if rows < 3 {
			return rows
		}
		return 3
	}

	bestK, bestScore := 2, math.Inf(-1)
	for k := 2; k <= maxK; k++ {
		labels, _, err := NewKMeans(k, p.cfg).FitPredict(x)
		if err != nil {
			continue
		}
		if score := meanSilhouette(x, labels, k); score > bestScore {
			bestScore = score
			bestK = k
		}
	}

	return bestK
}

func (p *Pipeline) assembleResult(t *dataset.Table, featureNames []string, labels []int, k int) *Result {
	identifiers := t.Identifiers()

	clusters := make(map[string][]string, k)
	for c := 0; c < k; c++ {
		clusters[fmt.Sprintf("Cluster %d", c)] = []string{}
	}
	for i, label := range labels {
		name := fmt.Sprintf("Cluster %d", label)
		clusters[name] = append(clusters[name], identifiers[i])
	}

	records := make([]map[string]any, t.NumRows())
	for i, row := range t.Rows {
		record := make(map[string]any, len(t.Columns)+1)
		for j, col := range t.Columns {
			record[col] = row[j]
		}
		record["Cluster"] = labels[i]
		records[i] = record
	}

	summaries := p.summarize(t, featureNames, labels, k)

	return &Result{
		NumberOfClusters: k,
		Clusters:         clusters,
		Records:          records,
		Summaries:        summaries,
	}
}

// summarize computes per-cluster sizes and unscaled means of every numeric
// feature column. Encoded categoricals are omitted since their codes have no
// numeric meaning.
func (p *Pipeline) summarize(t *dataset.Table, featureNames []string, labels []int, k int) []ClusterSummary {
	categorical := make(map[string]struct{}, len(p.cfg.CategoricalColumns))
	for _, c := range p.cfg.CategoricalColumns {
		categorical[c] = struct{}{}
	}

	summaries := make([]ClusterSummary, k)
	for c := range summaries {
		summaries[c] = ClusterSummary{Cluster: c, Means: make(map[string]float64)}
	}
	for _, label := range labels {
		summaries[label].Size++
	}

	for _, name := range featureNames {
		if _, ok := categorical[name]; ok {
			continue
		}
		values, ok := t.NumericColumn(t.ColumnIndex(name))
		if !ok {
			continue
		}

		sums := make([]float64, k)
		counts := make([]int, k)
		for i, v := range values {
			if math.IsNaN(v) {
				continue
			}
			sums[labels[i]] += v
			counts[labels[i]]++
		}
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				summaries[c].Means[name] = sums[c] / float64(counts[c])
			}
		}
	}

	return summaries
}
