package export

import (
	"fmt"
	"time"
)

// Report is the outcome of one export run. Per-node failures are recorded
// as values in Failed; the run as a whole only errors when enumeration
// fails or nothing could be exported at all.
type Report struct {
	RunID       string
	FileKey     string
	FileName    string
	FileVersion string
	Strategy    Strategy
	Total       int
	StartedAt   time.Time
	Duration    time.Duration
	Succeeded   []Result
	Failed      []Result
}

// Bytes returns the combined size of every exported asset.
func (r *Report) Bytes() int64 {
	var n int64
	for _, res := range r.Succeeded {
		n += res.Bytes
	}
	return n
}

// FormatCounts returns exported asset counts keyed by render format.
func (r *Report) FormatCounts() map[string]int {
	counts := make(map[string]int, 2)
	for _, res := range r.Succeeded {
		counts[res.Options.Format]++
	}
	return counts
}

// ValidationResult contains the outcome of report consistency checks.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// ValidateReport performs accounting checks on a finished report.
// This validates:
// - Every enumerated node has exactly one terminal outcome
// - No node appears in both outcome lists
// - Succeeded entries carry a path and no error, failed entries an error
func ValidateReport(r *Report) ValidationResult {
	result := ValidationResult{
		Passed: true,
	}

	// Check 1: Outcome count matches enumeration
	if got := len(r.Succeeded) + len(r.Failed); got != r.Total {
		result.Errors = append(result.Errors,
			fmt.Sprintf("outcome count mismatch: have %d, expected %d enumerated nodes", got, r.Total))
		result.Passed = false
	}

	// Check 2: One outcome per node
	seen := make(map[string]bool, r.Total)
	for _, res := range r.Succeeded {
		if seen[res.Node.ID] {
			result.Errors = append(result.Errors,
				fmt.Sprintf("node %s has more than one outcome", res.Node.ID))
			result.Passed = false
		}
		seen[res.Node.ID] = true
	}
	for _, res := range r.Failed {
		if seen[res.Node.ID] {
			result.Errors = append(result.Errors,
				fmt.Sprintf("node %s has more than one outcome", res.Node.ID))
			result.Passed = false
		}
		seen[res.Node.ID] = true
	}

	// Check 3: Outcome lists are internally consistent
	for _, res := range r.Succeeded {
		if res.Err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("node %s recorded as succeeded but carries error: %v", res.Node.ID, res.Err))
			result.Passed = false
		}
		if res.Path == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("node %s recorded as succeeded without a storage path", res.Node.ID))
			result.Passed = false
		}
	}
	for _, res := range r.Failed {
		if res.Err == nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("node %s recorded as failed without an error", res.Node.ID))
			result.Passed = false
		}
	}

	if r.Total > 0 && len(r.Succeeded) == 0 {
		result.Warnings = append(result.Warnings, "run exported no assets")
	}

	return result
}
