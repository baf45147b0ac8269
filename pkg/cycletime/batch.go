package cycletime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var errNoPullRequests = errors.New("no pull requests provided")

// BatchRequest contains parameters for computing metrics over many pull requests.
//
//nolint:govet // fieldalignment: struct field order optimized for API clarity
type BatchRequest struct {
	PullRequests []PullRequest // Pull requests to analyze
	Config       Config        // Applied to every pull request
	Logger       *slog.Logger  // Optional logger for progress
	Concurrency  int           // Number of concurrent workers (0 = sequential)
	FailFast     bool          // Return the first failure instead of skipping
}

// Failure records a pull request whose metrics could not be computed.
type Failure struct {
	Err    error
	Number int
}

// BatchResult contains the metrics of every pull request that succeeded.
type BatchResult struct {
	Metrics  []Metrics // In the same order as the request
	Failures []Failure // Pull requests that were skipped
}

// ComputeAll computes metrics for every pull request of the request.
//
// Results keep the input order regardless of concurrency; sorting for
// presentation is the caller's concern. A malformed pull request is skipped
// and recorded in Failures, unless FailFast is set, in which case the failure
// with the lowest input index is returned as the error.
func ComputeAll(req *BatchRequest) (*BatchResult, error) {
	if len(req.PullRequests) == 0 {
		return nil, errNoPullRequests
	}

	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	metrics := make([]Metrics, len(req.PullRequests))
	errs := make([]error, len(req.PullRequests))

	if concurrency == 1 {
		for i := range req.PullRequests {
			metrics[i], errs[i] = Compute(req.PullRequests[i], req.Config)
			if errs[i] != nil && req.FailFast {
				return nil, fmt.Errorf("compute PR-%d: %w", req.PullRequests[i].Number, errs[i])
			}
		}
	} else {
		// Parallel processing with semaphore. Every worker writes to its own
		// slot, so no locking is needed.
		var wg sync.WaitGroup
		semaphore := make(chan struct{}, concurrency)
		for i := range req.PullRequests {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				semaphore <- struct{}{}
				defer func() { <-semaphore }()
				metrics[index], errs[index] = Compute(req.PullRequests[index], req.Config)
			}(i)
		}
		wg.Wait()
	}

	result := &BatchResult{Metrics: make([]Metrics, 0, len(metrics))}
	for i, err := range errs {
		number := req.PullRequests[i].Number
		if err != nil {
			if req.FailFast {
				return nil, fmt.Errorf("compute PR-%d: %w", number, err)
			}
			logger.Warn("Skipping pull request", "number", number, "error", err)
			result.Failures = append(result.Failures, Failure{Number: number, Err: err})
			continue
		}
		result.Metrics = append(result.Metrics, metrics[i])
	}

	logger.Info("Computed cycle-time metrics",
		"pull_requests", len(req.PullRequests),
		"computed", len(result.Metrics),
		"skipped", len(result.Failures))

	return result, nil
}
