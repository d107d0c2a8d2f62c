package main

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Jawbreaker1/pabench/internal/bench"
	"github.com/Jawbreaker1/pabench/internal/config"
	"github.com/Jawbreaker1/pabench/internal/experiment"
	"github.com/Jawbreaker1/pabench/internal/job"
	"github.com/Jawbreaker1/pabench/internal/livestatus"
	"github.com/Jawbreaker1/pabench/internal/logging"
	"github.com/Jawbreaker1/pabench/internal/metrics"
	"github.com/Jawbreaker1/pabench/internal/orchestrator"
	"github.com/Jawbreaker1/pabench/internal/runner"
)

type benchFlags struct {
	output          string
	cache           string
	noCache         bool
	timeLimit       string
	memLimit        string
	rerunAll        bool
	rerunFailed     bool
	regenerate      bool
	clean           bool
	removeFromCache bool
	release         bool
}

func newBenchCmd(g *globalFlags, stderr io.Writer) *cobra.Command {
	f := &benchFlags{}
	cmd := &cobra.Command{
		Use:   "bench [flags] <experiment.yaml>...",
		Short: "Run experiments, reusing and updating the results cache",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageError{err: errors.New("bench requires at least one experiment file")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, g, f, args, stderr)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.output, "output", "o", "", "results file (only with a single experiment)")
	fs.StringVar(&f.cache, "cache", "", "cache file (default <results>.cache.json)")
	fs.BoolVar(&f.noCache, "no-cache", false, "neither read nor write the cache")
	fs.IntP("jobs", "j", 5, "number of parallel jobs")
	fs.StringVarP(&f.timeLimit, "time-limit", "t", "", "cpu time limit per job, overriding experiments (e.g. 30s, 1h)")
	fs.StringVarP(&f.memLimit, "mem-limit", "m", "", "memory limit per job, overriding experiments (e.g. 1GiB)")
	fs.Int("nice", 0, "niceness of runner processes; negative values need root")
	fs.Bool("no-pin", false, "do not pin the orchestrator and runners to cores")
	fs.BoolVar(&f.rerunAll, "rerun-all", false, "ignore cached results and run every job")
	fs.BoolVar(&f.rerunFailed, "rerun-failed", false, "rerun cached failures regardless of their limits")
	fs.BoolVar(&f.regenerate, "regenerate", false, "regenerate generated datasets")
	fs.BoolVar(&f.clean, "clean", false, "start from an empty cache; it is overwritten at the end")
	fs.BoolVar(&f.removeFromCache, "remove-from-cache", false, "remove this experiment's jobs from the cache and exit")
	fs.BoolVar(&f.release, "release", false, "shorthand for -j1 --nice=-20")
	fs.BoolP("verbose", "v", false, "log every job start and finish")
	fs.Bool("stderr", false, "show runner stderr")
	fs.String("data-dir", "evals/data", "dataset directory")
	fs.String("logs-dir", "evals/results/.log", "directory for per-invocation snapshots")
	fs.String("metrics-addr", "", "serve prometheus metrics and progress on this address")
	fs.String("redis-addr", "", "publish live progress to this redis server")
	return cmd
}

func runBench(cmd *cobra.Command, g *globalFlags, f *benchFlags, args []string, stderr io.Writer) error {
	cfg, paths, err := config.Load(config.Options{
		ConfigFile: g.configFile,
		EnvFile:    g.envFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return err
	}
	invocation := uuid.NewString()
	log := logging.New(stderr, cfg.Verbose).WithField("invocation", invocation)
	if len(paths) > 0 {
		log.WithField("files", paths).Debug("loaded config")
	}

	opts := bench.Options{
		Experiments:     args,
		Output:          f.output,
		Cache:           f.cache,
		NoCache:         f.noCache,
		Jobs:            cfg.Jobs,
		Nice:            cfg.Nice,
		NoPin:           cfg.NoPin,
		RerunAll:        f.rerunAll,
		RerunFailed:     f.rerunFailed,
		Regenerate:      f.regenerate,
		Clean:           f.clean,
		RemoveFromCache: f.removeFromCache,
		Release:         f.release,
		Verbose:         cfg.Verbose,
		Stderr:          cfg.Stderr,
		DataDir:         cfg.DataDir,
		LogsDir:         cfg.LogsDir,
		Invocation:      invocation,
		RunnerArgs:      g.childArgs(),
		Log:             log,
		Out:             stderr,
	}
	if f.timeLimit != "" {
		t, err := experiment.ParseTimeLimit(f.timeLimit)
		if err != nil {
			return usageError{err: err}
		}
		opts.TimeLimit = &t
	}
	if f.memLimit != "" {
		m, err := experiment.ParseMemLimit(f.memLimit)
		if err != nil {
			return usageError{err: err}
		}
		opts.MemLimit = &m
	}

	// Interrupts only stop new jobs, so ctx is never cancelled by a signal:
	// cancelling it would kill runners that are still in flight.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller := orchestrator.NewController(log)
	defer controller.Install()()
	opts.Controller = controller

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		if _, err := m.Serve(ctx, cfg.MetricsAddr, log); err != nil {
			return err
		}
	}
	var pub livestatus.Publisher
	if cfg.RedisAddr != "" {
		p, err := livestatus.NewRedisPublisher(ctx, cfg.RedisAddr)
		if err != nil {
			log.WithError(err).Warn("live status disabled")
		} else {
			defer p.Close()
			pub = p
		}
	}
	opts.ObserversFor = func(stem string) []orchestrator.Observer {
		var observers []orchestrator.Observer
		if m != nil {
			observers = append(observers, m)
		}
		if pub != nil {
			observers = append(observers, livestatus.NewObserver(pub, invocation, stem, log))
		}
		return observers
	}

	return bench.Run(ctx, opts)
}

// childArgs are passed before `run` so runners read the same config.
func (g *globalFlags) childArgs() []string {
	var args []string
	if g.configFile != "" {
		args = append(args, "--config", g.configFile)
	}
	if g.envFile != "" {
		args = append(args, "--env-file", g.envFile)
	}
	return args
}

type runFlags struct {
	pinCoreID int
	noLimits  bool
}

func newRunCmd(g *globalFlags, stderr io.Writer) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single job read from stdin (invoked by bench)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChild(cmd, g, f, stderr)
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&f.pinCoreID, "pin-core-id", 0, "pin the backend to this core")
	fs.Int("nice", 0, "niceness of the backend")
	fs.BoolVar(&f.noLimits, "no-limits", false, "do not apply time and memory limits")
	fs.BoolP("verbose", "v", false, "debug logging")
	return cmd
}

// runChild only returns when the backend could not be started; otherwise
// the process becomes the backend.
func runChild(cmd *cobra.Command, g *globalFlags, f *runFlags, stderr io.Writer) error {
	cfg, _, err := config.Load(config.Options{
		ConfigFile: g.configFile,
		EnvFile:    g.envFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return err
	}
	log := logging.New(stderr, cfg.Verbose)

	opts := runner.ChildOptions{
		Nice:     cfg.Nice,
		NoLimits: f.noLimits,
		Backends: cfg.Backends(),
		Stdin:    cmd.InOrStdin(),
		Log:      log,
	}
	if cmd.Flags().Changed("pin-core-id") {
		core := f.pinCoreID
		opts.PinCoreID = &core
	}
	err = runner.RunChild(opts)
	if errors.Is(err, runner.ErrNoBackend) {
		return exitError{code: job.ExitCodeUnsupported}
	}
	if err != nil {
		log.WithError(err).Error("runner failed")
		return exitError{code: 1}
	}
	return nil
}
