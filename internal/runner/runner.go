// Package runner spawns one isolated subprocess per benchmark job and turns
// its termination into a JobResult. It also holds the child side of the wire
// protocol (RunChild), used by `pabench run`.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/Jawbreaker1/pabench/internal/job"
)

// ErrWireContract is returned when a runner exits successfully but its
// stdout is not a JobOutput. It is fatal to the invocation.
var ErrWireContract = errors.New("runner wire contract violated")

// Runner spawns `Executable Args... run [--pin-core-id N] [--nice=N]` per job.
type Runner struct {
	Executable string
	Args       []string
	// Env is the child environment; nil inherits the current one.
	Env []string
	Dir string
	// Nice is passed through to the child, which applies it to the backend.
	Nice *int
	// Stderr receives the child's stderr. nil discards it.
	Stderr io.Writer
}

func (r *Runner) commandArgs(core *int) []string {
	args := make([]string, 0, len(r.Args)+4)
	args = append(args, r.Args...)
	args = append(args, "run")
	if core != nil {
		args = append(args, "--pin-core-id", strconv.Itoa(*core))
	}
	if r.Nice != nil {
		args = append(args, "--nice="+strconv.Itoa(*r.Nice))
	}
	return args
}

// Run executes j to completion and reports what happened. Per-job failures
// are carried in the result; the returned error is reserved for spawn
// failures, cancellation of ctx and ErrWireContract.
func (r *Runner) Run(ctx context.Context, j job.Job, stats job.DatasetStats, core *int) (job.JobResult, error) {
	if r.Executable == "" {
		return job.JobResult{}, fmt.Errorf("runner executable is empty")
	}
	input, err := json.Marshal(j)
	if err != nil {
		return job.JobResult{}, fmt.Errorf("marshal job: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Executable, r.commandArgs(core)...)
	configureProcess(cmd)
	cmd.Env = r.Env
	cmd.Dir = r.Dir
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = r.Stderr

	start := time.Now()
	runErr := cmd.Run()
	walltime := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return job.JobResult{}, fmt.Errorf("run job %s: %w", j.Algo, ctxErr)
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return job.JobResult{}, fmt.Errorf("spawn runner %s: %w", r.Executable, runErr)
	}

	state := cmd.ProcessState
	result := job.JobResult{
		Job:   j,
		Stats: stats,
		Resources: job.ResourceUsage{
			Walltime:   walltime.Seconds(),
			Usertime:   state.UserTime().Seconds(),
			Systemtime: state.SystemTime().Seconds(),
			MaxRSS:     maxRSSBytes(state),
		},
	}

	if state.Success() {
		var out job.JobOutput
		if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
			return job.JobResult{}, fmt.Errorf("%w: decode output of %s: %v", ErrWireContract, j, err)
		}
		result.Output = job.Succeeded(out)
		return result, nil
	}
	if sig, ok := exitSignal(state); ok {
		result.Output = job.Failed(job.ClassifyExit(true, sig, 0))
	} else {
		result.Output = job.Failed(job.ClassifyExit(false, 0, state.ExitCode()))
	}
	return result, nil
}
