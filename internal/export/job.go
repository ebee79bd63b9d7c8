package export

import (
	"fmt"
	"time"
)

// Strategy selects a preset of job defaults. Strategies differ only in
// defaults, never in algorithm.
type Strategy string

const (
	// StrategyFast favors throughput: wide pool, large batches, tight
	// timeouts.
	StrategyFast Strategy = "fast"
	// StrategyConservative favors staying under the service's rate limits:
	// narrow pool, small batches, generous timeouts, more retries.
	StrategyConservative Strategy = "conservative"
)

// DefaultTypes are the node types considered exportable when a job names
// none.
var DefaultTypes = []string{"FRAME", "COMPONENT"}

// Job is one complete export request. Zero fields are filled from the
// strategy's defaults at the start of the run; the job is immutable
// afterwards.
type Job struct {
	FileKey   string
	OutputDir string

	Format string  // png | jpg | svg | pdf
	Scale  float64 // 0.01–4; 0 means 1

	Workers         int
	BatchSize       int
	APITimeout      time.Duration
	TransferTimeout time.Duration
	MaxRetries      int

	Types   []string // exportable node types
	Include []string // path glob patterns
	Exclude []string

	Strategy      Strategy
	SkipUnchanged bool
}

type jobDefaults struct {
	workers         int
	batchSize       int
	apiTimeout      time.Duration
	transferTimeout time.Duration
	maxRetries      int
}

func defaultsFor(s Strategy) jobDefaults {
	if s == StrategyConservative {
		return jobDefaults{
			workers:         2,
			batchSize:       5,
			apiTimeout:      30 * time.Second,
			transferTimeout: 60 * time.Second,
			maxRetries:      8,
		}
	}
	return jobDefaults{
		workers:         8,
		batchSize:       15,
		apiTimeout:      15 * time.Second,
		transferTimeout: 30 * time.Second,
		maxRetries:      5,
	}
}

// withDefaults returns a copy of the job with zero fields filled from the
// strategy preset.
func (j Job) withDefaults() Job {
	if j.Strategy == "" {
		j.Strategy = StrategyFast
	}
	d := defaultsFor(j.Strategy)

	if j.Workers <= 0 {
		j.Workers = d.workers
	}
	if j.BatchSize <= 0 {
		j.BatchSize = d.batchSize
	}
	if j.APITimeout <= 0 {
		j.APITimeout = d.apiTimeout
	}
	if j.TransferTimeout <= 0 {
		j.TransferTimeout = d.transferTimeout
	}
	if j.MaxRetries <= 0 {
		j.MaxRetries = d.maxRetries
	}
	if j.Format == "" {
		j.Format = "png"
	}
	if j.Scale <= 0 {
		j.Scale = 1
	}
	if len(j.Types) == 0 {
		j.Types = DefaultTypes
	}
	return j
}

// Validate rejects jobs that cannot run.
func (j Job) Validate() error {
	if j.FileKey == "" {
		return fmt.Errorf("job requires a file key")
	}
	switch j.Strategy {
	case "", StrategyFast, StrategyConservative:
	default:
		return fmt.Errorf("unknown strategy %q", j.Strategy)
	}
	if j.Scale < 0 || j.Scale > 4 {
		return fmt.Errorf("scale %g out of range (0.01-4]", j.Scale)
	}
	return nil
}
