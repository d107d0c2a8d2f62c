package job

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorKind is the closed set of ways a job can fail.
type ErrorKind int

const (
	// ErrSkipped: pruned because a smaller job failed before it.
	ErrSkipped ErrorKind = iota + 1
	// ErrInterrupted: SIGINT.
	ErrInterrupted
	// ErrTimeout: SIGKILL after the cpu time limit ran out.
	ErrTimeout
	// ErrMemoryLimit: SIGABRT on allocation failure.
	ErrMemoryLimit
	// ErrSignal: any other terminating signal.
	ErrSignal
	// ErrPanic: exit code 101.
	ErrPanic
	// ErrUnsupported: exit code 102, the aligner rejects the parameters.
	ErrUnsupported
	// ErrExitCode: any other non-zero exit code.
	ErrExitCode
)

const (
	ExitCodePanic       = 101
	ExitCodeUnsupported = 102
)

var errorKindNames = map[ErrorKind]string{
	ErrSkipped:     "Skipped",
	ErrInterrupted: "Interrupted",
	ErrTimeout:     "Timeout",
	ErrMemoryLimit: "MemoryLimit",
	ErrSignal:      "Signal",
	ErrPanic:       "Panic",
	ErrUnsupported: "Unsupported",
	ErrExitCode:    "ExitCode",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Valid reports membership in the closed taxonomy.
func (k ErrorKind) Valid() bool {
	_, ok := errorKindNames[k]
	return ok
}

// JobError is a per-job failure. Code carries the signal number for
// ErrSignal and the exit code for ErrExitCode; it is zero otherwise.
type JobError struct {
	Kind ErrorKind
	Code int
}

var (
	Skipped     = JobError{Kind: ErrSkipped}
	Interrupted = JobError{Kind: ErrInterrupted}
	Timeout     = JobError{Kind: ErrTimeout}
	MemoryLimit = JobError{Kind: ErrMemoryLimit}
	Panic       = JobError{Kind: ErrPanic}
	Unsupported = JobError{Kind: ErrUnsupported}
)

func Signal(n int) JobError {
	return JobError{Kind: ErrSignal, Code: n}
}

func ExitCode(n int) JobError {
	return JobError{Kind: ErrExitCode, Code: n}
}

func (e JobError) hasCode() bool {
	return e.Kind == ErrSignal || e.Kind == ErrExitCode
}

func (e JobError) String() string {
	if e.hasCode() {
		return fmt.Sprintf("%s(%d)", e.Kind, e.Code)
	}
	return e.Kind.String()
}

// ClassifyExit maps a failed runner's termination to a JobError: signals
// first, then exit codes.
func ClassifyExit(signaled bool, signal int, code int) JobError {
	if signaled {
		switch signal {
		case 2:
			return Interrupted
		case 6:
			return MemoryLimit
		case 9:
			return Timeout
		default:
			return Signal(signal)
		}
	}
	switch code {
	case ExitCodePanic:
		return Panic
	case ExitCodeUnsupported:
		return Unsupported
	default:
		return ExitCode(code)
	}
}

func (e JobError) MarshalJSON() ([]byte, error) {
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("marshal job error: invalid kind %d", int(e.Kind))
	}
	if e.hasCode() {
		return json.Marshal(map[string]int{e.Kind.String(): e.Code})
	}
	return json.Marshal(e.Kind.String())
}

func (e *JobError) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		kind, ok := kindByName(name)
		if !ok {
			return fmt.Errorf("parse job error: unknown kind %q", name)
		}
		*e = JobError{Kind: kind}
		if e.hasCode() {
			return fmt.Errorf("parse job error: %s requires a code", name)
		}
		return nil
	}
	var tagged map[string]int
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("parse job error: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("parse job error: expected one variant, got %s", strings.TrimSpace(string(data)))
	}
	for name, code := range tagged {
		kind, ok := kindByName(name)
		if !ok {
			return fmt.Errorf("parse job error: unknown kind %q", name)
		}
		*e = JobError{Kind: kind, Code: code}
		if !e.hasCode() {
			return fmt.Errorf("parse job error: %s takes no code", name)
		}
	}
	return nil
}

func kindByName(name string) (ErrorKind, bool) {
	for kind, n := range errorKindNames {
		if n == name {
			return kind, true
		}
	}
	return 0, false
}
