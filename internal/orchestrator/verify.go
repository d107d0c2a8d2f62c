package orchestrator

import (
	"slices"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/Jawbreaker1/pabench/internal/job"
)

func isExactOK(r job.JobResult) bool {
	_, ok := r.ExactOK()
	return ok
}

// reference finds the first exact, successful, non-empty result on the same
// input as target: first among before, then in each of extra in order.
func reference(target job.Job, before []job.JobResult, extra [][]job.JobResult) *job.JobResult {
	lists := append([][]job.JobResult{before}, extra...)
	for _, list := range lists {
		for i := range list {
			out, ok := list[i].ExactOK()
			if !ok || len(out.Costs) == 0 || !list[i].Job.SameInput(target) {
				continue
			}
			return &list[i]
		}
	}
	return nil
}

// Verify cross-checks results against exact references and returns false
// if two exact algorithms disagree on the same input.
//
// results is reordered so that exact successes come first. Exact results
// that agree with an earlier reference have their costs cleared, since they
// can be recovered from the reference. Approximate results get exact_costs
// and p_correct. extra holds earlier baselines searched after results.
func Verify(results []job.JobResult, extra [][]job.JobResult, log logrus.FieldLogger) bool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	sort.SliceStable(results, func(i, j int) bool {
		return isExactOK(results[i]) && !isExactOK(results[j])
	})

	ok := true
	for i := range results {
		out := results[i].Output.Ok
		if out == nil || len(out.Costs) == 0 {
			continue
		}
		refResult := reference(results[i].Job, results[:i], extra)
		if refResult == nil {
			continue
		}
		ref := refResult.Output.Ok

		if out.IsExact {
			// A length mismatch is a disagreement too.
			if !slices.Equal(out.Costs, ref.Costs) {
				ok = false
				log.WithFields(logrus.Fields{
					"job":             results[i].Job.String(),
					"costs":           out.Costs,
					"reference_job":   refResult.Job.String(),
					"reference_costs": ref.Costs,
				}).Error("exact algorithms disagree on the same input")
				continue
			}
			out.Costs = []job.Cost{}
			continue
		}

		out.ExactCosts = append([]job.Cost{}, ref.Costs...)
		n := min(len(out.Costs), len(ref.Costs))
		correct := 0
		for k := 0; k < n; k++ {
			if out.Costs[k] == ref.Costs[k] {
				correct++
			}
		}
		if len(out.Costs) > 0 {
			p := float64(correct) / float64(len(out.Costs))
			out.PCorrect = &p
		}
	}
	return ok
}
