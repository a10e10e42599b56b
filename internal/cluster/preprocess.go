package cluster

import (
	"errors"
	"math"
	"sort"

	"cluster-backend/internal/dataset"

	"gonum.org/v1/gonum/mat"
)

var ErrNoNumericColumns = errors.New("dataset must contain at least one numeric column for clustering")

// LabelEncoding maps the distinct values of a categorical column to integer
// codes, assigned in sorted value order.
type LabelEncoding struct {
	Column string
	Codes  map[string]int
}

func encodeLabels(column string, values []string) LabelEncoding {
	distinct := make(map[string]struct{}, len(values))
	for _, v := range values {
		distinct[v] = struct{}{}
	}

	sorted := make([]string, 0, len(distinct))
	for v := range distinct {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)

	codes := make(map[string]int, len(sorted))
	for i, v := range sorted {
		codes[v] = i
	}

	return LabelEncoding{Column: column, Codes: codes}
}

func (e LabelEncoding) apply(values []string) []float64 {
	encoded := make([]float64, len(values))
	for i, v := range values {
		encoded[i] = float64(e.Codes[v])
	}
	return encoded
}

// standardScale centers values at zero mean and unit variance in place,
// using the population standard deviation. Zero-variance columns become all
// zeros. NaN cells are imputed with the column mean before scaling.
func standardScale(values []float64) {
	var sum float64
	var n int
	for _, v := range values {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		for i := range values {
			values[i] = 0
		}
		return
	}
	mean := sum / float64(n)

	for i, v := range values {
		if math.IsNaN(v) {
			values[i] = mean
		}
	}

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	if variance == 0 {
		for i := range values {
			values[i] = 0
		}
		return
	}

	std := math.Sqrt(variance)
	for i := range values {
		values[i] = (values[i] - mean) / std
	}
}

// featureColumn is one numeric column of the feature matrix, before scaling.
// For encoded categoricals the values are integer codes; for numeric columns
// they are the parsed cell values with NaN for empty cells.
type featureColumn struct {
	name   string
	values []float64
}

// extractFeatures selects the feature columns of a table in column order:
// configured categoricals are label-encoded, remaining numeric columns are
// taken as-is, and the identifier column is never a feature.
func extractFeatures(t *dataset.Table, categoricals []string) []featureColumn {
	categorical := make(map[string]struct{}, len(categoricals))
	for _, c := range categoricals {
		categorical[c] = struct{}{}
	}

	var features []featureColumn
	for i, col := range t.Columns {
		if col == dataset.IdentifierColumn {
			continue
		}

		if _, ok := categorical[col]; ok {
			values := t.Column(i)
			encoding := encodeLabels(col, values)
			features = append(features, featureColumn{name: col, values: encoding.apply(values)})
			continue
		}

		if values, ok := t.NumericColumn(i); ok {
			features = append(features, featureColumn{name: col, values: values})
		}
	}

	return features
}

// BuildFeatureMatrix assembles the scaled feature matrix for a table, one row
// per input row, and returns the names of the feature columns in matrix order.
func BuildFeatureMatrix(t *dataset.Table, cfg Config) (*mat.Dense, []string, error) {
	features := extractFeatures(t, cfg.CategoricalColumns)
	if len(features) == 0 {
		return nil, nil, ErrNoNumericColumns
	}
	if t.NumRows() == 0 {
		return nil, nil, ErrNoRows
	}

	names := make([]string, len(features))
	matrix := mat.NewDense(t.NumRows(), len(features), nil)
	for j, feature := range features {
		standardScale(feature.values)
		matrix.SetCol(j, feature.values)
		names[j] = feature.name
	}

	return matrix, names, nil
}
