package export

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drafthaus/frame-exporter/internal/design"
)

func okResult(id, path, format string, bytes int64) Result {
	return Result{
		Node:    NodeRef{ID: id, Name: "Node " + id},
		Options: design.RenderOptions{Format: format, Scale: 1},
		Path:    path,
		Bytes:   bytes,
	}
}

func badResult(id string) Result {
	return Result{
		Node: NodeRef{ID: id, Name: "Node " + id},
		Err:  errors.New("boom"),
	}
}

func TestValidateReport_Passes(t *testing.T) {
	r := &Report{
		Total:     3,
		Succeeded: []Result{okResult("1:1", "a.png", "png", 10), okResult("1:2", "b.png", "png", 20)},
		Failed:    []Result{badResult("1:3")},
	}

	result := ValidateReport(r)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Errors)
}

func TestValidateReport_CountMismatch(t *testing.T) {
	r := &Report{
		Total:     5,
		Succeeded: []Result{okResult("1:1", "a.png", "png", 10)},
	}

	result := ValidateReport(r)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Errors[0], "outcome count mismatch")
}

func TestValidateReport_DuplicateOutcome(t *testing.T) {
	r := &Report{
		Total:     2,
		Succeeded: []Result{okResult("1:1", "a.png", "png", 10)},
		Failed:    []Result{badResult("1:1")},
	}

	result := ValidateReport(r)
	assert.False(t, result.Passed)
}

func TestValidateReport_InconsistentEntries(t *testing.T) {
	r := &Report{
		Total: 2,
		Succeeded: []Result{
			{Node: NodeRef{ID: "1:1"}, Err: errors.New("boom"), Path: "a.png"},
			{Node: NodeRef{ID: "1:2"}}, // no path
		},
	}

	result := ValidateReport(r)
	assert.False(t, result.Passed)
	assert.Len(t, result.Errors, 2)

	r = &Report{Total: 1, Failed: []Result{{Node: NodeRef{ID: "1:3"}}}}
	result = ValidateReport(r)
	assert.False(t, result.Passed)
}

func TestValidateReport_WarnsOnZeroSuccess(t *testing.T) {
	r := &Report{
		Total:  1,
		Failed: []Result{badResult("1:1")},
	}

	result := ValidateReport(r)
	assert.True(t, result.Passed)
	assert.NotEmpty(t, result.Warnings)
}

func TestReportAggregates(t *testing.T) {
	r := &Report{
		Total: 3,
		Succeeded: []Result{
			okResult("1:1", "a.png", "png", 100),
			okResult("1:2", "b.svg", "svg", 50),
			okResult("1:3", "c.png", "png", 25),
		},
	}

	assert.Equal(t, int64(175), r.Bytes())
	assert.Equal(t, map[string]int{"png": 2, "svg": 1}, r.FormatCounts())
}
