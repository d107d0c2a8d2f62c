package orchestrator

import "github.com/Jawbreaker1/pabench/internal/job"

// Skip decides whether candidate can be pruned given the results produced
// so far in this invocation. The first failed result that candidate is
// larger than decides: an Unsupported failure propagates as Unsupported,
// anything else as Skipped. nil means the job must run.
func Skip(candidate job.Job, prior []job.JobResult) *job.JobError {
	if candidate.Dataset.Kind != job.KindGenerated {
		return nil
	}
	for _, prev := range prior {
		if prev.Output.Err == nil || prev.Job.Dataset.Kind != job.KindGenerated {
			continue
		}
		if !candidate.IsLarger(prev.Job) {
			continue
		}
		verdict := job.Skipped
		if *prev.Output.Err == job.Unsupported {
			verdict = job.Unsupported
		}
		return &verdict
	}
	return nil
}
