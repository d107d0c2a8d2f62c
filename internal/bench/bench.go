// Package bench is the `pabench bench` invocation: for each experiment file
// it expands jobs, reuses the cache, dispatches the rest, verifies costs and
// persists results, cache and a per-invocation snapshot.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"

	"github.com/Jawbreaker1/pabench/internal/cache"
	"github.com/Jawbreaker1/pabench/internal/experiment"
	"github.com/Jawbreaker1/pabench/internal/job"
	"github.com/Jawbreaker1/pabench/internal/orchestrator"
	"github.com/Jawbreaker1/pabench/internal/platform"
	"github.com/Jawbreaker1/pabench/internal/runner"
)

var (
	// ErrUsage marks invalid option combinations.
	ErrUsage = errors.New("usage")
	// ErrVerification is returned after all files are written when two exact
	// aligners disagreed.
	ErrVerification = errors.New("exact aligner output failed cost verification")
)

const verificationBanner = `
A JOB FOR AN EXACT ALIGNER FAILED OUTPUT COST VERIFICATION!
SEE LOGS ABOVE.
PLEASE CHECK AND REPORT AN ISSUE.
`

type Options struct {
	Experiments []string
	// Output overrides the results path; only valid with one experiment.
	Output string
	// Cache overrides the cache path derived from the results path.
	Cache   string
	NoCache bool
	Jobs    int
	// TimeLimit and MemLimit override every experiment's limits.
	TimeLimit       *job.Seconds
	MemLimit        *job.Bytes
	Nice            *int
	NoPin           bool
	RerunAll        bool
	RerunFailed     bool
	Regenerate      bool
	Clean           bool
	RemoveFromCache bool
	// Release is shorthand for Jobs=1 and Nice=-20 unless Nice is set.
	Release bool
	Verbose bool
	// Stderr shows runner stderr instead of discarding it.
	Stderr  bool
	DataDir string
	LogsDir string

	// Invocation tags logs and live status; a fresh uuid when empty.
	Invocation string
	// Executable and RunnerArgs are used to self-invoke `run` when Runner
	// is nil. Executable defaults to os.Executable().
	Executable string
	RunnerArgs []string

	Runner     orchestrator.JobRunner
	Platform   platform.Platform
	Controller *orchestrator.Controller
	// ObserversFor returns the observers of one experiment's dispatch.
	ObserversFor func(stem string) []orchestrator.Observer
	Log          logrus.FieldLogger
	// Out receives the human-readable summary and progress lines.
	Out io.Writer
	Now func() time.Time
}

// Run executes every experiment in order and stops early once the
// controller is no longer running.
func Run(ctx context.Context, opts Options) error {
	if len(opts.Experiments) == 0 {
		return fmt.Errorf("%w: no experiment files given", ErrUsage)
	}
	if opts.Output != "" && len(opts.Experiments) != 1 {
		return fmt.Errorf("%w: output can only be specified when running exactly 1 experiment", ErrUsage)
	}
	if opts.Release {
		if opts.Nice == nil {
			nice := -20
			opts.Nice = &nice
		}
		opts.Jobs = 1
	}
	if opts.Jobs < 1 {
		return fmt.Errorf("%w: jobs must be at least 1, got %d", ErrUsage, opts.Jobs)
	}
	if opts.Invocation == "" {
		opts.Invocation = uuid.NewString()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Platform == nil {
		opts.Platform = platform.Default()
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("invocation", opts.Invocation)
	if opts.Controller == nil {
		opts.Controller = orchestrator.NewController(log)
		defer opts.Controller.Install()()
	}

	cores, err := reserveCores(opts, log)
	if err != nil {
		return err
	}

	if opts.Runner == nil {
		r, err := selfRunner(opts)
		if err != nil {
			return err
		}
		opts.Runner = r
	}

	for _, path := range opts.Experiments {
		if err := runExperiment(ctx, opts, path, cores, log); err != nil {
			return err
		}
		if !opts.Controller.Running() {
			break
		}
	}
	return nil
}

// reserveCores pins the orchestrator to the first of the first Jobs+1
// allowed cores and returns the rest, one per worker. With NoPin, or when
// no core is left over, it returns nil: a single unpinned worker.
func reserveCores(opts Options, log logrus.FieldLogger) ([]int, error) {
	if opts.NoPin {
		return nil, nil
	}
	if !opts.Platform.Supported() {
		log.Warn("core pinning, niceness and resource limits are unavailable on this platform; jobs run unpinned and unlimited")
	}
	ids, err := opts.Platform.CoreIDs()
	if err != nil {
		return nil, fmt.Errorf("list cores: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > opts.Jobs+1 {
		ids = ids[:opts.Jobs+1]
	}
	if err := opts.Platform.PinSelf(ids[0]); err != nil {
		log.WithError(err).Warn("could not pin orchestrator; continuing unpinned")
	}
	workers := ids[1:]
	if len(workers) < opts.Jobs {
		log.WithFields(logrus.Fields{
			"requested": opts.Jobs,
			"available": len(workers),
		}).Warn("fewer cores than jobs")
	}
	if len(workers) == 0 {
		return nil, nil
	}
	return workers, nil
}

func selfRunner(opts Options) (*runner.Runner, error) {
	exe := opts.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("could not determine path to executable needed for self-invocation: %w", err)
		}
	}
	r := &runner.Runner{
		Executable: exe,
		Args:       opts.RunnerArgs,
		Nice:       opts.Nice,
	}
	if opts.Stderr {
		r.Stderr = os.Stderr
	}
	return r, nil
}

func runExperiment(ctx context.Context, opts Options, path string, cores []int, log logrus.FieldLogger) error {
	stem := experiment.Stem(path)
	log = log.WithField("experiment", stem)
	out := opts.Out
	fmt.Fprintf(out, "Running experiment %s\n", path)

	exps, err := experiment.Load(path)
	if err != nil {
		return err
	}
	resultsPath := opts.Output
	if resultsPath == "" {
		resultsPath = experiment.ResultsPath(path)
	}
	cachePath := opts.Cache
	if cachePath == "" {
		cachePath = experiment.CachePath(resultsPath)
	}

	items, err := experiment.Expand(exps, experiment.Options{
		DataDir:    opts.DataDir,
		Regenerate: opts.Regenerate,
		TimeLimit:  opts.TimeLimit,
		MemLimit:   opts.MemLimit,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("expand %s: %w", path, err)
	}
	fmt.Fprintf(out, "Generated %d jobs.\n", len(items))

	var cached []job.JobResult
	if !opts.Clean && !opts.NoCache {
		cached, err = cache.Load(cachePath)
		if err != nil {
			return err
		}
	}
	candidates := make([]job.Job, 0, len(items))
	for _, it := range items {
		candidates = append(candidates, it.Job)
	}
	inSet, extra := cache.Partition(cached, candidates)

	if opts.RemoveFromCache {
		fmt.Fprintf(out, "Output: %d jobs to %s\n", len(inSet)+len(extra), cache.BackupPath(cachePath))
		if _, err := cache.RemoveFromCache(cachePath, inSet, extra); err != nil {
			return err
		}
		fmt.Fprintf(out, "Output: %d jobs to %s\n", len(extra), cachePath)
		return nil
	}

	if !opts.RerunAll {
		fmt.Fprintf(out, "Cached jobs: %d in experiment + %d extra\n", len(inSet), len(extra))
		before := len(items)
		items = cache.ReuseFilter(inSet, items, itemJob, opts.RerunFailed)
		fmt.Fprintf(out, "Reused jobs: %d\n", before-len(items))
		fmt.Fprintf(out, "Running %d jobs...\n", len(items))
	}
	if opts.Verbose {
		log.Debugf("jobs to run:\n%# v", pretty.Formatter(items))
	}

	d := &orchestrator.Dispatcher{
		Runner:     opts.Runner,
		Controller: opts.Controller,
		Cores:      cores,
		Log:        log,
		Progress:   orchestrator.NewProgress(out),
	}
	if opts.ObserversFor != nil {
		d.Observers = opts.ObserversFor(stem)
	}
	fresh, counts, err := d.Run(ctx, items)
	if err != nil {
		return fmt.Errorf("experiment %s: %w", path, err)
	}
	log.WithField("counts", counts.String()).Debug("dispatch finished")

	verified := orchestrator.Verify(fresh, [][]job.JobResult{inSet, extra}, log)

	if len(fresh) > 0 {
		snapshot, err := cache.WriteSnapshot(opts.LogsDir, stem, opts.Now(), fresh)
		if err != nil {
			return err
		}
		log.WithField("path", snapshot).Debug("wrote snapshot")
	}

	merged := cache.Merge(inSet, fresh)
	if err := cache.Persist(resultsPath, merged); err != nil {
		return err
	}
	printOutput(out, len(merged), resultsPath)

	if !opts.NoCache {
		all := make([]job.JobResult, 0, len(merged)+len(extra))
		all = append(all, merged...)
		all = append(all, extra...)
		if err := cache.Persist(cachePath, all); err != nil {
			return err
		}
		printOutput(out, len(all), cachePath)
	}

	if !verified {
		fmt.Fprint(out, verificationBanner)
		return fmt.Errorf("experiment %s: %w", path, ErrVerification)
	}
	return nil
}

func itemJob(it orchestrator.Item) job.Job { return it.Job }

func printOutput(out io.Writer, n int, path string) {
	if info, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Output: %d jobs to %s (%s)\n", n, path, humanize.Bytes(uint64(info.Size())))
		return
	}
	fmt.Fprintf(out, "Output: %d jobs to %s\n", n, path)
}
