package jobs

import (
	"context"

	"github.com/rbailey/tutorialforge/pkg/models"
)

// Pipeline is the long-running tutorial generator. The service treats it as
// opaque: it receives the job configuration and a progress sink, and either
// returns the finished result or an error. It must not touch job state
// directly; everything it wants recorded goes through the sink.
type Pipeline interface {
	Run(ctx context.Context, cfg models.JobConfig, sink ProgressSink) (*models.JobResult, error)
}

// ProgressSink is the capability a pipeline uses to report progress. Each
// sink is bound to exactly one job for the duration of one execution.
type ProgressSink interface {
	// Report records the current step and progress percentage. A non-empty
	// message additionally appends an INFO entry to the job's log. Progress
	// is clamped to [0,100] but otherwise taken as-is: a pipeline may report
	// a lower value than before (a retry inside the pipeline, for instance)
	// and the sink will not reject it.
	Report(ctx context.Context, step string, progress int, message string)
}
