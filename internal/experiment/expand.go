package experiment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/Jawbreaker1/pabench/internal/dataset"
	"github.com/Jawbreaker1/pabench/internal/job"
	"github.com/Jawbreaker1/pabench/internal/orchestrator"
)

// Options control expansion.
type Options struct {
	DataDir    string
	Regenerate bool
	// TimeLimit and MemLimit override the experiment's limits when set.
	TimeLimit *job.Seconds
	MemLimit  *job.Bytes
	Log       logrus.FieldLogger
}

// Expand turns experiments into the ordered job list, materializing
// datasets under DataDir and computing their stats on the way.
func Expand(exps []Experiment, opts Options) ([]orchestrator.Item, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	var items []orchestrator.Item
	for i, exp := range exps {
		timeLimit, memLimit, err := limits(exp, opts)
		if err != nil {
			return nil, fmt.Errorf("experiment %d: %w", i, err)
		}
		var datasets []job.Dataset
		for _, cfg := range exp.Datasets {
			ds, err := resolve(cfg, opts, log)
			if err != nil {
				return nil, fmt.Errorf("experiment %d: %w", i, err)
			}
			datasets = append(datasets, ds...)
		}
		for _, ds := range datasets {
			stats, err := dataset.FileStats(ds.FilePath())
			if err != nil {
				return nil, fmt.Errorf("experiment %d: stats for %s: %w", i, ds, err)
			}
			for _, costs := range exp.Costs {
				for _, traceback := range exp.Traces {
					for _, algo := range exp.Algos {
						items = append(items, orchestrator.Item{
							Job: job.Job{
								TimeLimit: timeLimit,
								MemLimit:  memLimit,
								Dataset:   ds,
								Costs:     costs,
								Traceback: traceback,
								Algo:      algo.AlgorithmParams,
							},
							Stats: stats,
						})
					}
				}
			}
		}
	}
	return items, nil
}

func limits(exp Experiment, opts Options) (job.Seconds, job.Bytes, error) {
	var timeLimit job.Seconds
	if opts.TimeLimit != nil {
		timeLimit = *opts.TimeLimit
	} else {
		s := exp.TimeLimit
		if s == "" {
			s = DefaultTimeLimit
		}
		t, err := ParseTimeLimit(s)
		if err != nil {
			return 0, 0, err
		}
		timeLimit = t
	}
	var memLimit job.Bytes
	if opts.MemLimit != nil {
		memLimit = *opts.MemLimit
	} else {
		s := exp.MemLimit
		if s == "" {
			s = DefaultMemLimit
		}
		m, err := ParseMemLimit(s)
		if err != nil {
			return 0, 0, err
		}
		memLimit = m
	}
	return timeLimit, memLimit, nil
}

func resolve(cfg DatasetConfig, opts Options, log logrus.FieldLogger) ([]job.Dataset, error) {
	switch cfg.Kind {
	case DatasetGenerated:
		return generate(cfg.Generated, opts, log)
	case DatasetPath:
		path := filepath.Join(opts.DataDir, cfg.Path)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("dataset path: %w", err)
		}
		if !info.IsDir() {
			return []job.Dataset{job.FileRef(path)}, nil
		}
		files, err := dataset.CollectDir(path)
		if err != nil {
			return nil, err
		}
		out := make([]job.Dataset, 0, len(files))
		parts := make([]job.DatasetStats, 0, len(files))
		for _, f := range files {
			stats, err := dataset.FileStats(f)
			if err != nil {
				return nil, err
			}
			parts = append(parts, stats)
			out = append(out, job.FileRef(f))
		}
		if len(files) > 0 {
			if err := dataset.WriteDirSummary(path, parts); err != nil {
				return nil, fmt.Errorf("summary stats for %s: %w", path, err)
			}
		}
		return out, nil
	case DatasetData:
		path, err := dataset.WriteInline(opts.DataDir, cfg.Data)
		if err != nil {
			return nil, err
		}
		return []job.Dataset{job.FileRef(path)}, nil
	}
	return nil, fmt.Errorf("unknown dataset kind %d", cfg.Kind)
}

func generate(cfg GeneratedConfig, opts Options, log logrus.FieldLogger) ([]job.Dataset, error) {
	prefix := filepath.Join(opts.DataDir, "generated")
	var out []job.Dataset
	for _, model := range cfg.ErrorModels {
		for _, rate := range cfg.ErrorRates {
			for _, length := range cfg.Lengths {
				var total int
				if cfg.TotalSize != nil {
					total = *cfg.TotalSize
				} else {
					total = *cfg.Count * length
				}
				g := job.GeneratedDataset{
					Prefix:     prefix,
					Seed:       cfg.Seed,
					ErrorModel: model,
					ErrorRate:  rate,
					Length:     length,
					TotalSize:  total,
				}
				wrote, err := dataset.EnsureGenerated(g, opts.Regenerate)
				if err != nil {
					return nil, err
				}
				if wrote {
					log.WithField("path", g.Path()).Info("generated dataset")
				}
				out = append(out, job.GeneratedRef(g))
			}
		}
	}
	return out, nil
}
