package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// IdentifierColumn is the column every uploaded dataset must carry to identify
// the person behind each row.
const IdentifierColumn = "name"

var (
	ErrEmptyFile         = errors.New("uploaded file is empty")
	ErrMissingIdentifier = fmt.Errorf("dataset must contain a '%s' column for person identification", IdentifierColumn)
)

// Table holds a parsed CSV: a header and string-valued rows. Type
// interpretation (numeric vs categorical) is done lazily per column.
type Table struct {
	Columns []string
	Rows    [][]string
}

func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("error reading csv header: %w", err)
	}

	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading csv records: %w", err)
	}

	table := &Table{Columns: header, Rows: rows}

	if table.ColumnIndex(IdentifierColumn) < 0 {
		return nil, ErrMissingIdentifier
	}

	return table, nil
}

func (t *Table) NumRows() int {
	return len(t.Rows)
}

func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Column returns the raw string values of column i, one per row.
func (t *Table) Column(i int) []string {
	values := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		values[r] = row[i]
	}
	return values
}

// Identifiers returns the values of the identifier column in row order.
func (t *Table) Identifiers() []string {
	return t.Column(t.ColumnIndex(IdentifierColumn))
}

// NumericColumn parses column i as floats. It reports ok only if every
// non-empty cell parses and at least one cell is non-empty; empty cells are
// returned as NaN so callers can impute them.
func (t *Table) NumericColumn(i int) ([]float64, bool) {
	values := make([]float64, len(t.Rows))
	seen := false
	for r, row := range t.Rows {
		cell := strings.TrimSpace(row[i])
		if cell == "" {
			values[r] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, false
		}
		values[r] = v
		seen = true
	}
	return values, seen
}

// IsNumeric reports whether column i parses as a numeric column.
func (t *Table) IsNumeric(i int) bool {
	_, ok := t.NumericColumn(i)
	return ok
}
