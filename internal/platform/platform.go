// Package platform isolates the OS calls used to pin, prioritize and limit
// benchmark processes. Linux implements all of them; other systems get a
// no-op implementation so the rest of the orchestrator stays portable.
package platform

// Platform applies scheduling controls to processes.
//
// A pid of 0 is not special: the runner passes os.Getpid() to control itself
// before it execs the backend.
type Platform interface {
	// CoreIDs lists the cpu ids the current process may run on, ascending.
	CoreIDs() ([]int, error)
	// PinSelf restricts every thread of the current process to core.
	PinSelf(core int) error
	// SetNice sets the niceness of process pid.
	SetNice(pid, nice int) error
	// SetLimits caps cpu time (seconds) and data segment size (bytes) of pid.
	SetLimits(pid int, cpuSeconds, memBytes uint64) error
	// Supported reports whether the calls above have any effect.
	Supported() bool
}
