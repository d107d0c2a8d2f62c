package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Jawbreaker1/pabench/internal/job"
)

// Item is one queued job with the baseline stats of its dataset.
type Item struct {
	Job   job.Job
	Stats job.DatasetStats
}

// JobRunner executes a single job. *runner.Runner implements it.
type JobRunner interface {
	Run(ctx context.Context, j job.Job, stats job.DatasetStats, core *int) (job.JobResult, error)
}

// Observer is notified about job progress. Calls may come from any worker;
// JobFinished calls are serialized in the order results were recorded.
type Observer interface {
	DispatchStarted(total int)
	JobStarted(j job.Job)
	JobFinished(res job.JobResult, skipped bool, counts Counts)
}

// Dispatcher runs a job list on a fixed pool of workers, one per core.
type Dispatcher struct {
	Runner     JobRunner
	Controller *Controller
	// Cores holds one core id per worker. Empty runs a single unpinned worker.
	Cores     []int
	Log       logrus.FieldLogger
	Progress  *Progress
	Observers []Observer
}

type queue struct {
	mu    sync.Mutex
	items []Item
	next  int
}

func (q *queue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.items) {
		return Item{}, false
	}
	item := q.items[q.next]
	q.next++
	return item, true
}

type collector struct {
	mu        sync.Mutex
	results   []job.JobResult
	counts    Counts
	progress  *Progress
	observers []Observer
}

func (c *collector) skip(candidate job.Job) *job.JobError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Skip(candidate, c.results)
}

// record counts res and keeps it unless it failed after the run was
// interrupted; such failures are artifacts of the teardown. Progress and
// observers see the counts under the same lock, so they never go backwards.
func (c *collector) record(res job.JobResult, skipped, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts.Done++
	switch {
	case res.Output.Ok != nil:
		c.counts.Success++
	case skipped && *res.Output.Err == job.Skipped:
		c.counts.Skipped++
	case *res.Output.Err == job.Unsupported:
		c.counts.Unsupported++
	case *res.Output.Err != job.Interrupted:
		c.counts.Failed++
	}
	if res.Output.Ok != nil || running {
		c.results = append(c.results, res)
	}
	if c.progress != nil {
		c.progress.Render(c.counts)
	}
	for _, o := range c.observers {
		o.JobFinished(res, skipped, c.counts)
	}
}

// Run executes items and returns the results of every job that was
// attempted. Jobs are never retried. Once the controller stops, workers
// take no new jobs. A non-nil error means the invocation must abort: a
// runner could not be spawned or broke the wire contract.
func (d *Dispatcher) Run(ctx context.Context, items []Item) ([]job.JobResult, Counts, error) {
	if d.Runner == nil {
		return nil, Counts{}, fmt.Errorf("dispatcher has no runner")
	}
	if d.Controller == nil {
		d.Controller = NewController(d.Log)
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}

	q := &queue{items: items}
	c := &collector{
		counts:    Counts{Total: len(items)},
		progress:  d.Progress,
		observers: d.Observers,
	}
	for _, o := range d.Observers {
		o.DispatchStarted(len(items))
	}

	workers := make([]*int, 0, len(d.Cores))
	for i := range d.Cores {
		workers = append(workers, &d.Cores[i])
	}
	if len(workers) == 0 {
		workers = append(workers, nil)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, core := range workers {
		g.Go(func() error {
			return d.work(gctx, q, c, core)
		})
	}
	err := g.Wait()
	if d.Progress != nil {
		d.Progress.Break()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results, c.counts, err
}

func (d *Dispatcher) work(ctx context.Context, q *queue, c *collector, core *int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		item, ok := q.pop()
		if !ok {
			return nil
		}
		if !d.Controller.Running() {
			return nil
		}

		var res job.JobResult
		skipped := false
		if verdict := c.skip(item.Job); verdict != nil {
			res = job.JobResult{Job: item.Job, Stats: item.Stats, Output: job.Failed(*verdict)}
			skipped = true
		} else {
			entry := d.Log.WithField("job", item.Job.String())
			if core != nil {
				entry = entry.WithField("core", *core)
			}
			entry.Debug("starting job")
			for _, o := range d.Observers {
				o.JobStarted(item.Job)
			}
			var err error
			res, err = d.Runner.Run(ctx, item.Job, item.Stats, core)
			if err != nil {
				return fmt.Errorf("run %s on %s: %w", item.Job.Algo, item.Job.Dataset, err)
			}
			entry.WithField("output", res.Output.String()).Debug("finished job")
		}

		if res.Failed() && !skipped {
			d.logFailure(res)
		}
		c.record(res, skipped, d.Controller.Running())
	}
}

func (d *Dispatcher) logFailure(res job.JobResult) {
	if d.Progress != nil {
		d.Progress.Break()
	}
	d.Log.WithFields(logrus.Fields{
		"job":      res.Job.String(),
		"error":    res.Output.Err.String(),
		"walltime": res.Resources.Walltime,
		"usertime": res.Resources.Usertime,
		"maxrss":   res.Resources.MaxRSS,
	}).Warn("job failed")
}
