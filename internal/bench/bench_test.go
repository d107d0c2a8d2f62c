package bench

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Jawbreaker1/pabench/internal/cache"
	"github.com/Jawbreaker1/pabench/internal/job"
	"github.com/Jawbreaker1/pabench/internal/orchestrator"
)

const experimentYAML = `
- datasets:
    - Generated:
        seed: 3
        error_models: [Uniform]
        error_rates: [0.1]
        lengths: [20, 40]
        count: 2
    - Data: [[ACGT, AGT]]
  traces: [false]
  costs: [{sub: 1, open: 0, extend: 1}]
  algos: [Edlib, Wfa, BlockAligner]
`

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	costs map[string][]job.Cost
	after func(call int)
}

func (f *fakeRunner) Run(_ context.Context, j job.Job, stats job.DatasetStats, _ *int) (job.JobResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.after != nil {
		f.after(call)
	}

	name := j.Algo.Name()
	costs, ok := f.costs[name]
	if !ok {
		costs = []job.Cost{4, 2}
	}
	out := job.JobOutput{
		Costs:   append([]job.Cost(nil), costs...),
		IsExact: name != "BlockAligner",
	}
	return job.JobResult{
		Job:       j,
		Stats:     stats,
		Resources: job.ResourceUsage{Walltime: 0.5},
		Output:    job.Succeeded(out),
	}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type workspace struct {
	root    string
	exp     string
	results string
	cache   string
	logs    string
}

func newWorkspace(t *testing.T, names ...string) workspace {
	t.Helper()
	root := t.TempDir()
	if len(names) == 0 {
		names = []string{"tools"}
	}
	dir := filepath.Join(root, "experiments")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(experimentYAML), 0o644); err != nil {
			t.Fatalf("write experiment: %v", err)
		}
	}
	return workspace{
		root:    root,
		exp:     filepath.Join(dir, names[0]+".yaml"),
		results: filepath.Join(root, "results", names[0]+".json"),
		cache:   filepath.Join(root, "results", names[0]+".cache.json"),
		logs:    filepath.Join(root, "logs"),
	}
}

func (w workspace) options(r orchestrator.JobRunner, log logrus.FieldLogger) Options {
	return Options{
		Experiments: []string{w.exp},
		Jobs:        2,
		NoPin:       true,
		DataDir:     filepath.Join(w.root, "data"),
		LogsDir:     w.logs,
		Invocation:  "test",
		Runner:      r,
		Controller:  orchestrator.NewController(log),
		Log:         log,
		Out:         &bytes.Buffer{},
		Now:         func() time.Time { return time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC) },
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	log, _ := test.NewNullLogger()
	first := &fakeRunner{}
	if err := Run(context.Background(), w.options(first, log)); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	// 3 datasets x 3 algos
	if first.callCount() != 9 {
		t.Fatalf("expected 9 runner calls, got %d", first.callCount())
	}
	results := readFile(t, w.results)
	cached := readFile(t, w.cache)
	if !bytes.Equal(results, cached) {
		t.Fatalf("with no extra entries the cache must equal the results")
	}
	snapshot := cache.SnapshotPath(w.logs, "tools", time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC))
	if _, err := os.Stat(snapshot); err != nil {
		t.Fatalf("expected a snapshot: %v", err)
	}

	second := &fakeRunner{}
	opts := w.options(second, log)
	out := &bytes.Buffer{}
	opts.Out = out
	opts.Now = func() time.Time { return time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC) }
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.callCount() != 0 {
		t.Fatalf("expected every job to be reused, got %d calls", second.callCount())
	}
	if again := readFile(t, w.results); !bytes.Equal(again, results) {
		t.Fatalf("results changed on rerun:\n%s\n%s", results, again)
	}
	if !strings.Contains(out.String(), "Reused jobs: 9") {
		t.Fatalf("expected a reuse summary, got:\n%s", out.String())
	}
	entries, err := os.ReadDir(w.logs)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("a run without fresh results must not write a snapshot, got %d files", len(entries))
	}
}

func TestRunVerifiesApproximateAgainstExact(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	log, _ := test.NewNullLogger()
	r := &fakeRunner{costs: map[string][]job.Cost{
		"Edlib":        {3, 5},
		"Wfa":          {3, 5},
		"BlockAligner": {3, 6},
	}}
	if err := Run(context.Background(), w.options(r, log)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	loaded, err := cache.Load(w.results)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	approx := 0
	for _, res := range loaded {
		out := res.Output.Ok
		if out.IsExact {
			continue
		}
		approx++
		if out.PCorrect == nil || *out.PCorrect != 0.5 {
			t.Fatalf("expected p_correct 0.5, got %v", out.PCorrect)
		}
		if len(out.ExactCosts) != 2 || out.ExactCosts[1] != 5 {
			t.Fatalf("unexpected exact costs %v", out.ExactCosts)
		}
	}
	if approx != 3 {
		t.Fatalf("expected 3 approximate results, got %d", approx)
	}
}

func TestRunFailsVerificationAfterWriting(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	log, hook := test.NewNullLogger()
	r := &fakeRunner{costs: map[string][]job.Cost{
		"Edlib": {3, 5},
		"Wfa":   {3, 4},
	}}
	out := &bytes.Buffer{}
	opts := w.options(r, log)
	opts.Out = out
	err := Run(context.Background(), opts)
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("expected ErrVerification, got %v", err)
	}
	loaded, err := cache.Load(w.results)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 9 {
		t.Fatalf("results must be written before failing, got %d", len(loaded))
	}
	if _, err := os.Stat(w.cache); err != nil {
		t.Fatalf("cache must be written before failing: %v", err)
	}
	if !strings.Contains(out.String(), "FAILED OUTPUT COST VERIFICATION") {
		t.Fatalf("expected the verification banner")
	}
	errorsLogged := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorsLogged++
		}
	}
	if errorsLogged == 0 {
		t.Fatalf("expected the disagreement to be logged")
	}
}

func TestRunKeepsExtraEntriesAndRemovesFromCache(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	log, _ := test.NewNullLogger()
	foreign := job.JobResult{
		Job: job.Job{
			TimeLimit: 1,
			MemLimit:  1,
			Dataset:   job.FileRef("elsewhere.seq"),
			Algo:      job.MustAlgorithmParams("Edlib"),
		},
		Output: job.Failed(job.Timeout),
	}
	if err := cache.Persist(w.cache, []job.JobResult{foreign}); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if err := Run(context.Background(), w.options(&fakeRunner{}, log)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	all, err := cache.Load(w.cache)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(all) != 10 || !all[9].Job.SameIdentity(foreign.Job) {
		t.Fatalf("extra entries must follow the experiment's results, got %d", len(all))
	}
	results, err := cache.Load(w.results)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(results) != 9 {
		t.Fatalf("results must only hold this experiment, got %d", len(results))
	}

	r := &fakeRunner{}
	opts := w.options(r, log)
	opts.RemoveFromCache = true
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.callCount() != 0 {
		t.Fatalf("remove-from-cache must not run jobs")
	}
	backup, err := cache.Load(cache.BackupPath(w.cache))
	if err != nil || len(backup) != 10 {
		t.Fatalf("expected a full backup, got %d (%v)", len(backup), err)
	}
	remaining, err := cache.Load(w.cache)
	if err != nil || len(remaining) != 1 || !remaining[0].Job.SameIdentity(foreign.Job) {
		t.Fatalf("expected only the extra entry to remain, got %d (%v)", len(remaining), err)
	}
}

func TestRunNoCacheLeavesCacheUntouched(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	log, _ := test.NewNullLogger()
	opts := w.options(&fakeRunner{}, log)
	opts.NoCache = true
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(w.results); err != nil {
		t.Fatalf("expected results: %v", err)
	}
	if _, err := os.Stat(w.cache); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no cache file, got %v", err)
	}
}

func TestRunStopsBetweenExperimentsWhenInterrupted(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t, "first", "second")
	log, _ := test.NewNullLogger()
	r := &fakeRunner{}
	opts := w.options(r, log)
	opts.Experiments = []string{w.exp, filepath.Join(w.root, "experiments", "second.yaml")}
	r.after = func(call int) {
		if call == 2 {
			opts.Controller.Stop()
		}
	}
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.callCount() != 2 {
		t.Fatalf("no job may start after the interrupt, got %d calls", r.callCount())
	}
	results, err := cache.Load(w.results)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected the two finished jobs to be saved, got %d", len(results))
	}
	if _, err := os.Stat(filepath.Join(w.root, "results", "second.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("the second experiment must not run, got %v", err)
	}
}

func TestRunVerboseDumpsJobs(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	opts := w.options(&fakeRunner{}, log)
	opts.Verbose = true
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "jobs to run:") && strings.Contains(e.Message, "TimeLimit") {
			found = true
			if e.Data["invocation"] != "test" || e.Data["experiment"] != "tools" {
				t.Fatalf("unexpected fields %v", e.Data)
			}
		}
	}
	if !found {
		t.Fatalf("expected a job dump at debug level")
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	log, _ := test.NewNullLogger()

	opts := w.options(&fakeRunner{}, log)
	opts.Experiments = nil
	if err := Run(context.Background(), opts); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected ErrUsage without experiments, got %v", err)
	}

	opts = w.options(&fakeRunner{}, log)
	opts.Experiments = []string{w.exp, w.exp}
	opts.Output = filepath.Join(w.root, "out.json")
	if err := Run(context.Background(), opts); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected ErrUsage for --output with two experiments, got %v", err)
	}

	opts = w.options(&fakeRunner{}, log)
	opts.Jobs = 0
	if err := Run(context.Background(), opts); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected ErrUsage for zero jobs, got %v", err)
	}
}

type fakePlatform struct {
	ids         []int
	pinned      []int
	unsupported bool
}

func (p *fakePlatform) CoreIDs() ([]int, error)             { return p.ids, nil }
func (p *fakePlatform) SetNice(int, int) error              { return nil }
func (p *fakePlatform) SetLimits(int, uint64, uint64) error { return nil }
func (p *fakePlatform) Supported() bool                     { return !p.unsupported }

func (p *fakePlatform) PinSelf(core int) error {
	p.pinned = append(p.pinned, core)
	return nil
}

func TestReserveCores(t *testing.T) {
	t.Parallel()

	log, _ := test.NewNullLogger()
	plat := &fakePlatform{ids: []int{2, 3, 5, 7, 11}}
	cores, err := reserveCores(Options{Jobs: 3, Platform: plat}, log)
	if err != nil {
		t.Fatalf("reserveCores: %v", err)
	}
	if len(plat.pinned) != 1 || plat.pinned[0] != 2 {
		t.Fatalf("orchestrator must be pinned to the first core, got %v", plat.pinned)
	}
	if len(cores) != 3 || cores[0] != 3 || cores[2] != 7 {
		t.Fatalf("unexpected worker cores %v", cores)
	}

	cores, err = reserveCores(Options{Jobs: 1, NoPin: true, Platform: plat}, log)
	if err != nil || cores != nil {
		t.Fatalf("no-pin must run a single unpinned worker, got %v (%v)", cores, err)
	}

	single := &fakePlatform{ids: []int{0}}
	cores, err = reserveCores(Options{Jobs: 4, Platform: single}, log)
	if err != nil || cores != nil {
		t.Fatalf("without spare cores a single unpinned worker runs, got %v (%v)", cores, err)
	}
}

func TestReserveCoresWarnsWithoutPlatformSupport(t *testing.T) {
	t.Parallel()

	log, hook := test.NewNullLogger()
	plat := &fakePlatform{ids: []int{0, 1, 2}, unsupported: true}
	cores, err := reserveCores(Options{Jobs: 2, Platform: plat}, log)
	if err != nil {
		t.Fatalf("reserveCores: %v", err)
	}
	if len(cores) != 2 {
		t.Fatalf("workers still get one core id each, got %v", cores)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel || !strings.Contains(entry.Message, "unavailable on this platform") {
		t.Fatalf("expected a warning about the platform, got %+v", entry)
	}

	hook.Reset()
	if _, err := reserveCores(Options{Jobs: 2, NoPin: true, Platform: plat}, log); err != nil {
		t.Fatalf("reserveCores: %v", err)
	}
	if len(hook.AllEntries()) != 0 {
		t.Fatalf("no-pin must not warn, got %d entries", len(hook.AllEntries()))
	}
}

func TestReleaseRunsOneWorker(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t)
	log, _ := test.NewNullLogger()
	plat := &fakePlatform{ids: []int{0, 1, 2, 3}}
	opts := w.options(&fakeRunner{}, log)
	opts.NoPin = false
	opts.Release = true
	opts.Platform = plat
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(plat.pinned) != 1 || plat.pinned[0] != 0 {
		t.Fatalf("expected the orchestrator on core 0, got %v", plat.pinned)
	}
}
