package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Jawbreaker1/pabench/internal/job"
	"github.com/Jawbreaker1/pabench/internal/platform"
)

// ErrNoBackend means no backend is configured for the job's algorithm. The
// runner reports it as exit code 102 (Unsupported).
var ErrNoBackend = errors.New("no backend configured for algorithm")

// ExecFunc replaces the current process with argv. stdin holds the job and
// becomes the backend's standard input. It only returns on failure.
type ExecFunc func(argv []string, stdin *os.File, env []string) error

// ChildOptions configures the runner side of the wire protocol.
type ChildOptions struct {
	PinCoreID *int
	Nice      *int
	// NoLimits skips RLIMIT_CPU/RLIMIT_DATA, for debugging backends by hand.
	NoLimits bool
	// Backends maps an algorithm name to the argv implementing it. The
	// backend reads the job JSON on stdin and prints a JobOutput.
	Backends map[string][]string
	Platform platform.Platform
	// Env is the backend environment; nil keeps the current one.
	Env   []string
	Stdin io.Reader
	// Exec defaults to execBackend.
	Exec ExecFunc
	Log  logrus.FieldLogger
}

// RunChild reads one Job from stdin, applies the requested pinning,
// niceness and limits to the current process and then replaces it with the
// job's backend. The orchestrator therefore observes the backend's own exit
// status or terminating signal, and the limits cover the backend from its
// first instruction.
func RunChild(opts ChildOptions) error {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	plat := opts.Platform
	if plat == nil {
		plat = platform.Default()
	}
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	execFn := opts.Exec
	if execFn == nil {
		execFn = execBackend
	}
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}

	input, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read job: %w", err)
	}
	var j job.Job
	if err := json.Unmarshal(input, &j); err != nil {
		return fmt.Errorf("%w: decode job: %v", ErrWireContract, err)
	}

	name := j.Algo.Name()
	argv := backendFor(opts.Backends, name)
	if len(argv) == 0 {
		log.WithField("algo", name).Warn("no backend configured for algorithm")
		return fmt.Errorf("%w: %s", ErrNoBackend, name)
	}

	if opts.PinCoreID != nil {
		if err := plat.PinSelf(*opts.PinCoreID); err != nil {
			return fmt.Errorf("pin runner: %w", err)
		}
	}
	if opts.Nice != nil {
		if err := plat.SetNice(os.Getpid(), *opts.Nice); err != nil {
			log.WithError(err).Warn("could not set niceness; continuing")
		}
	}

	jobStdin, err := jobStdin(input)
	if err != nil {
		return fmt.Errorf("prepare backend stdin: %w", err)
	}
	defer jobStdin.Close()

	// Limits go last: RLIMIT_DATA also caps this process until the exec.
	if !opts.NoLimits {
		if err := plat.SetLimits(os.Getpid(), j.TimeLimit, j.MemLimit); err != nil {
			return fmt.Errorf("limit runner: %w", err)
		}
	}
	if err := execFn(argv, jobStdin, env); err != nil {
		return fmt.Errorf("exec backend %s: %w", argv[0], err)
	}
	return nil
}

// jobStdin returns a file positioned at the start of input. The file is
// already unlinked where the OS allows it.
func jobStdin(input []byte) (*os.File, error) {
	f, err := os.CreateTemp("", "pabench-job-*.json")
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(input); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	unlinkOpen(f)
	return f, nil
}

// backendFor matches case-insensitively since config keys are lowercased.
func backendFor(backends map[string][]string, name string) []string {
	if argv, ok := backends[name]; ok {
		return argv
	}
	for key, argv := range backends {
		if strings.EqualFold(key, name) {
			return argv
		}
	}
	return nil
}
