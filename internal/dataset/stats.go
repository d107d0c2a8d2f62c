package dataset

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/Jawbreaker1/pabench/internal/job"
	"github.com/Jawbreaker1/pabench/internal/jsonfile"
)

// StatsPath is where the stats of a .seq file are cached.
func StatsPath(seqPath string) string {
	return strings.TrimSuffix(seqPath, filepath.Ext(seqPath)) + ".stats.json"
}

// Compute derives stats from pairs. Length statistics cover both sequences
// of every pair.
func Compute(pairs []job.SeqPair) job.DatasetStats {
	stats := job.DatasetStats{Files: 1, SeqPairs: len(pairs)}
	if len(pairs) == 0 {
		return stats
	}
	var sum, sumSq float64
	stats.Length.Min = math.MaxInt
	for _, p := range pairs {
		for _, s := range p {
			n := len(s)
			stats.TotalBases += n
			stats.Length.Min = min(stats.Length.Min, n)
			stats.Length.Max = max(stats.Length.Max, n)
			sum += float64(n)
			sumSq += float64(n) * float64(n)
		}
	}
	count := float64(2 * len(pairs))
	stats.Length.Mean = sum / count
	stats.Length.Stddev = math.Sqrt(math.Max(sumSq/count-stats.Length.Mean*stats.Length.Mean, 0))
	return stats
}

// FileStats returns the stats of a .seq file, computing and caching them
// next to the file on first use.
func FileStats(path string) (job.DatasetStats, error) {
	statsPath := StatsPath(path)
	var stats job.DatasetStats
	found, err := jsonfile.Read(statsPath, &stats)
	if err != nil {
		return job.DatasetStats{}, err
	}
	if found {
		return stats, nil
	}
	pairs, err := ReadSeqFile(path)
	if err != nil {
		return job.DatasetStats{}, err
	}
	stats = Compute(pairs)
	if err := jsonfile.WriteAtomic(statsPath, stats); err != nil {
		return job.DatasetStats{}, fmt.Errorf("cache stats for %s: %w", path, err)
	}
	return stats, nil
}

// Merge combines per-file stats into a summary, weighting lengths by the
// number of sequences in each part.
func Merge(parts []job.DatasetStats) job.DatasetStats {
	var out job.DatasetStats
	var sum, sumSq float64
	for _, s := range parts {
		if s.SeqPairs == 0 {
			out.Files += s.Files
			continue
		}
		n := float64(2 * s.SeqPairs)
		if out.SeqPairs == 0 {
			out.Length.Min, out.Length.Max = s.Length.Min, s.Length.Max
		} else {
			out.Length.Min = min(out.Length.Min, s.Length.Min)
			out.Length.Max = max(out.Length.Max, s.Length.Max)
		}
		out.Files += s.Files
		out.SeqPairs += s.SeqPairs
		out.TotalBases += s.TotalBases
		sum += n * s.Length.Mean
		sumSq += n * (s.Length.Stddev*s.Length.Stddev + s.Length.Mean*s.Length.Mean)
	}
	if out.SeqPairs > 0 {
		count := float64(2 * out.SeqPairs)
		out.Length.Mean = sum / count
		out.Length.Stddev = math.Sqrt(math.Max(sumSq/count-out.Length.Mean*out.Length.Mean, 0))
	}
	return out
}

// WriteDirSummary stores the merged stats of a directory as
// <dir>/stats.json unless a summary already exists.
func WriteDirSummary(dir string, parts []job.DatasetStats) error {
	path := filepath.Join(dir, "stats.json")
	var existing job.DatasetStats
	found, err := jsonfile.Read(path, &existing)
	if err != nil || found {
		return err
	}
	return jsonfile.WriteAtomic(path, Merge(parts))
}
