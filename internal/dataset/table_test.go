package dataset_test

import (
	"math"
	"strings"
	"testing"

	"cluster-backend/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	csv := "name,age,city\nalice,30,berlin\nbob,25,paris\n"

	table, err := dataset.Parse(strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "age", "city"}, table.Columns)
	assert.Equal(t, 2, table.NumRows())
	assert.Equal(t, []string{"alice", "bob"}, table.Identifiers())
}

func TestParseMissingIdentifier(t *testing.T) {
	csv := "age,city\n30,berlin\n"

	_, err := dataset.Parse(strings.NewReader(csv))
	assert.ErrorIs(t, err, dataset.ErrMissingIdentifier)
}

func TestParseEmptyFile(t *testing.T) {
	_, err := dataset.Parse(strings.NewReader(""))
	assert.ErrorIs(t, err, dataset.ErrEmptyFile)
}

func TestParseRaggedRows(t *testing.T) {
	csv := "name,age\nalice,30\nbob\n"

	_, err := dataset.Parse(strings.NewReader(csv))
	assert.Error(t, err)
}

func TestNumericColumn(t *testing.T) {
	csv := "name,age,city,score\nalice,30,berlin,1.5\nbob,25,paris,2.25\n"

	table, err := dataset.Parse(strings.NewReader(csv))
	require.NoError(t, err)

	ages, ok := table.NumericColumn(table.ColumnIndex("age"))
	require.True(t, ok)
	assert.Equal(t, []float64{30, 25}, ages)

	scores, ok := table.NumericColumn(table.ColumnIndex("score"))
	require.True(t, ok)
	assert.Equal(t, []float64{1.5, 2.25}, scores)

	_, ok = table.NumericColumn(table.ColumnIndex("city"))
	assert.False(t, ok)

	assert.True(t, table.IsNumeric(table.ColumnIndex("age")))
	assert.False(t, table.IsNumeric(table.ColumnIndex("city")))
}

func TestNumericColumnEmptyCells(t *testing.T) {
	csv := "name,age\nalice,30\nbob,\ncarol,40\n"

	table, err := dataset.Parse(strings.NewReader(csv))
	require.NoError(t, err)

	ages, ok := table.NumericColumn(table.ColumnIndex("age"))
	require.True(t, ok)
	assert.Equal(t, 30.0, ages[0])
	assert.True(t, math.IsNaN(ages[1]))
	assert.Equal(t, 40.0, ages[2])
}

func TestAllEmptyColumnIsNotNumeric(t *testing.T) {
	csv := "name,blank\nalice,\nbob,\n"

	table, err := dataset.Parse(strings.NewReader(csv))
	require.NoError(t, err)

	_, ok := table.NumericColumn(table.ColumnIndex("blank"))
	assert.False(t, ok)
}
