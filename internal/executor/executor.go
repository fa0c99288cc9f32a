// Package executor defines the contract between the scheduler and whatever
// actually performs a task's work.
package executor

import (
	"context"

	"github.com/mediafetch/fetch-api/internal/domain"
)

// Result is what a finished task produced.
type Result struct {
	// FilePath is the externally addressable location of the main artifact,
	// relative to the artifact base (taskID/name). Empty for tasks that
	// produce no file.
	FilePath string

	// SizeBytes is the measured artifact size. Zero when nothing was stored.
	SizeBytes int64

	// Extra carries executor-specific result fields merged into the task
	// result payload, such as probed metadata for info tasks.
	Extra domain.Payload
}

// Executor runs tasks. Implementations are expected to be long-running and
// blocking; the scheduler dedicates one worker to each in-flight call.
type Executor interface {
	// EstimateSize probes the expected artifact size in bytes before the
	// task runs. The probe is best-effort: a failed or unknown estimate is
	// reported as an error and the caller treats the cost as zero rather
	// than blocking the pipeline.
	EstimateSize(ctx context.Context, task *domain.Task) (int64, error)

	// Execute runs the task to completion. A returned error marks the task
	// ERROR with the error's message; there is no automatic retry.
	Execute(ctx context.Context, task *domain.Task) (*Result, error)
}
