// Package cache is the durable store of job results shared by all
// invocations run against the same cache file.
//
// The cache is read once when an experiment starts and rewritten once when
// it ends. In-progress crash safety comes from the per-invocation snapshot
// in the logs directory instead.
package cache

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Jawbreaker1/pabench/internal/job"
	"github.com/Jawbreaker1/pabench/internal/jsonfile"
)

// Load reads a cache or results file. A missing file is an empty cache.
func Load(path string) ([]job.JobResult, error) {
	var results []job.JobResult
	if _, err := jsonfile.Read(path, &results); err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	return results, nil
}

// Partition splits cached into entries matching some candidate by identity
// (inSet) and the rest (extra). Order within each part is preserved.
func Partition(cached []job.JobResult, candidates []job.Job) (inSet, extra []job.JobResult) {
	for _, entry := range cached {
		if containsIdentity(candidates, entry.Job) {
			inSet = append(inSet, entry)
		} else {
			extra = append(extra, entry)
		}
	}
	return inSet, extra
}

func containsIdentity(jobs []job.Job, j job.Job) bool {
	for _, candidate := range jobs {
		if candidate.SameIdentity(j) {
			return true
		}
	}
	return false
}

// Reused reports whether a cached entry makes running candidate
// unnecessary: it succeeded, or it failed with at least the candidate's
// resources and failures are not being rerun.
func Reused(inSet []job.JobResult, candidate job.Job, rerunFailed bool) bool {
	for _, entry := range inSet {
		if !entry.Job.SameIdentity(candidate) {
			continue
		}
		if entry.Output.Ok != nil {
			return true
		}
		if !rerunFailed && entry.Job.HasMoreResourcesThan(candidate) {
			return true
		}
	}
	return false
}

// ReuseFilter returns the candidates that still have to run, in order.
// jobOf extracts the job from a candidate.
func ReuseFilter[T any](inSet []job.JobResult, candidates []T, jobOf func(T) job.Job, rerunFailed bool) []T {
	residual := make([]T, 0, len(candidates))
	for _, candidate := range candidates {
		if !Reused(inSet, jobOf(candidate), rerunFailed) {
			residual = append(residual, candidate)
		}
	}
	return residual
}

// Supersede drops inSet entries that a fresh result replaces.
func Supersede(inSet, fresh []job.JobResult) []job.JobResult {
	surviving := make([]job.JobResult, 0, len(inSet))
	for _, entry := range inSet {
		replaced := false
		for _, r := range fresh {
			if r.Job.SameIdentity(entry.Job) {
				replaced = true
				break
			}
		}
		if !replaced {
			surviving = append(surviving, entry)
		}
	}
	return surviving
}

// Merge is the experiment's result set: surviving cached entries followed
// by fresh results. Repeated identities among fresh keep the first.
func Merge(inSet, fresh []job.JobResult) []job.JobResult {
	merged := Supersede(inSet, fresh)
	seen := make([]job.Job, 0, len(fresh))
	for _, r := range fresh {
		if containsIdentity(seen, r.Job) {
			continue
		}
		seen = append(seen, r.Job)
		merged = append(merged, r)
	}
	return merged
}

// Persist writes results atomically. The encoding is deterministic, so
// persisting the same set twice yields identical bytes.
func Persist(path string, results []job.JobResult) error {
	if results == nil {
		results = []job.JobResult{}
	}
	if err := jsonfile.WriteAtomic(path, results); err != nil {
		return fmt.Errorf("persist %s: %w", path, err)
	}
	return nil
}

// SnapshotPath is <logsDir>/<stem>_<RFC 3339 local time>.json.
func SnapshotPath(logsDir, stem string, now time.Time) string {
	stamp := now.Truncate(time.Second).Format(time.RFC3339)
	return filepath.Join(logsDir, fmt.Sprintf("%s_%s.json", stem, stamp))
}

// WriteSnapshot stores just this invocation's fresh results in logsDir. The
// snapshot is a backup for humans and is never read back.
func WriteSnapshot(logsDir, stem string, now time.Time, fresh []job.JobResult) (string, error) {
	path := SnapshotPath(logsDir, stem, now)
	if err := Persist(path, fresh); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// BackupPath replaces the extension of path with .backup.json.
func BackupPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".backup.json"
}

// RemoveFromCache copies the whole cache to BackupPath(path), then rewrites
// the cache with only the extra entries.
func RemoveFromCache(path string, inSet, extra []job.JobResult) (string, error) {
	all := make([]job.JobResult, 0, len(inSet)+len(extra))
	all = append(all, inSet...)
	all = append(all, extra...)
	backup := BackupPath(path)
	if err := Persist(backup, all); err != nil {
		return "", fmt.Errorf("back up cache: %w", err)
	}
	if err := Persist(path, extra); err != nil {
		return backup, err
	}
	return backup, nil
}
