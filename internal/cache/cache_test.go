package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Jawbreaker1/pabench/internal/job"
)

func testJob(length int, algo string) job.Job {
	return job.Job{
		TimeLimit: 60,
		MemLimit:  1 << 30,
		Dataset: job.GeneratedRef(job.GeneratedDataset{
			Prefix:     "data/generated",
			ErrorModel: job.ErrorModelUniform,
			ErrorRate:  0.05,
			Length:     length,
			TotalSize:  10000,
		}),
		Costs: job.CostModel{Sub: 1, Extend: 1},
		Algo:  job.MustAlgorithmParams(algo),
	}
}

func ok(j job.Job, costs ...job.Cost) job.JobResult {
	return job.JobResult{Job: j, Output: job.Succeeded(job.JobOutput{Costs: costs, IsExact: true})}
}

func failed(j job.Job, e job.JobError) job.JobResult {
	return job.JobResult{Job: j, Output: job.Failed(e)}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	t.Parallel()

	results, err := Load(filepath.Join(t.TempDir(), "missing.cache.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected an empty cache, got %d", len(results))
	}
}

func TestLoadRejectsCorruptCache(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "x.cache.json")
	if err := os.WriteFile(path, []byte(`[{"output":{}}]`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected corrupt cache to be rejected")
	}
}

func TestPartitionByIdentity(t *testing.T) {
	t.Parallel()

	a, b, c := testJob(10, "Edlib"), testJob(20, "Edlib"), testJob(30, "Wfa")
	moreTime := a
	moreTime.TimeLimit = 3600
	cached := []job.JobResult{ok(moreTime), ok(c), failed(b, job.Timeout)}

	inSet, extra := Partition(cached, []job.Job{a, b})
	if len(inSet) != 2 || len(extra) != 1 {
		t.Fatalf("unexpected partition: in=%d extra=%d", len(inSet), len(extra))
	}
	if !inSet[0].Job.SameIdentity(a) || !inSet[1].Job.SameIdentity(b) {
		t.Fatalf("partition must preserve cache order")
	}
	if !extra[0].Job.SameIdentity(c) {
		t.Fatalf("unexpected extra entry %s", extra[0].Job)
	}
}

func sameJob(j job.Job) job.Job { return j }

func TestReuseFilter(t *testing.T) {
	t.Parallel()

	succeeded := testJob(10, "Edlib")
	failedBig := testJob(20, "Edlib")
	failedSmall := testJob(30, "Edlib")
	fresh := testJob(40, "Edlib")

	bigLimits := failedBig
	bigLimits.TimeLimit *= 2
	smallLimits := failedSmall
	smallLimits.MemLimit /= 2
	inSet := []job.JobResult{
		ok(succeeded),
		failed(bigLimits, job.Timeout),
		failed(smallLimits, job.MemoryLimit),
	}
	candidates := []job.Job{succeeded, failedBig, failedSmall, fresh}

	residual := ReuseFilter(inSet, candidates, sameJob, false)
	if len(residual) != 2 || !residual[0].SameIdentity(failedSmall) || !residual[1].SameIdentity(fresh) {
		t.Fatalf("expected the under-resourced failure and the new job to run, got %v", residual)
	}

	residual = ReuseFilter(inSet, candidates, sameJob, true)
	if len(residual) != 3 {
		t.Fatalf("rerun-failed must rerun every cached failure, got %d jobs", len(residual))
	}
	if !Reused(inSet, succeeded, true) {
		t.Fatalf("successes are reused even with rerun-failed")
	}
}

func TestMergeSupersedesStaleEntries(t *testing.T) {
	t.Parallel()

	a, b := testJob(10, "Edlib"), testJob(20, "Edlib")
	inSet := []job.JobResult{failed(a, job.Timeout), ok(b, 7)}
	fresh := []job.JobResult{ok(a, 3), ok(a, 4)}

	merged := Merge(inSet, fresh)
	if len(merged) != 2 {
		t.Fatalf("expected two entries, got %d", len(merged))
	}
	if !merged[0].Job.SameIdentity(b) || merged[0].Output.Ok.Costs[0] != 7 {
		t.Fatalf("surviving cached entries come first")
	}
	if !merged[1].Job.SameIdentity(a) || merged[1].Output.Ok == nil || merged[1].Output.Ok.Costs[0] != 3 {
		t.Fatalf("fresh result must replace the stale failure")
	}
	for i := range merged {
		for k := i + 1; k < len(merged); k++ {
			if merged[i].Job.SameIdentity(merged[k].Job) {
				t.Fatalf("merged set has duplicate identities")
			}
		}
	}
}

func TestPersistIsDeterministic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "results", "exp.json")
	results := []job.JobResult{ok(testJob(10, "Edlib"), 1, 2), failed(testJob(20, "Wfa"), job.Signal(11))}
	if err := Persist(path, results); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Persist(path, loaded); err != nil {
		t.Fatalf("Persist again: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("persisting a loaded cache changed its bytes:\n%s\n%s", first, second)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := Persist(empty, nil); err != nil {
		t.Fatalf("Persist empty: %v", err)
	}
	data, _ := os.ReadFile(empty)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected an empty list, got %q", data)
	}
}

func TestWriteSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("CET", 3600))
	path, err := WriteSnapshot(dir, "exp", now, []job.JobResult{ok(testJob(10, "Edlib"))})
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if filepath.Base(path) != "exp_2024-03-01T12:30:45+01:00.json" {
		t.Fatalf("unexpected snapshot name %s", filepath.Base(path))
	}
	loaded, err := Load(path)
	if err != nil || len(loaded) != 1 {
		t.Fatalf("snapshot not readable: %v (%d)", err, len(loaded))
	}
}

func TestRemoveFromCache(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "exp.cache.json")
	inSet := []job.JobResult{ok(testJob(10, "Edlib"))}
	extra := []job.JobResult{ok(testJob(10, "Wfa")), ok(testJob(20, "Wfa"))}

	backup, err := RemoveFromCache(path, inSet, extra)
	if err != nil {
		t.Fatalf("RemoveFromCache: %v", err)
	}
	if filepath.Base(backup) != "exp.cache.backup.json" {
		t.Fatalf("unexpected backup path %s", backup)
	}
	all, err := Load(backup)
	if err != nil || len(all) != 3 {
		t.Fatalf("backup must hold the full cache: %v (%d)", err, len(all))
	}
	kept, err := Load(path)
	if err != nil || len(kept) != 2 {
		t.Fatalf("cache must hold only extra entries: %v (%d)", err, len(kept))
	}
}
