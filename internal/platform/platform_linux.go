//go:build linux

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// cpuSetSize is CPU_SETSIZE.
const cpuSetSize = 1024

type linuxPlatform struct{}

func Default() Platform {
	return linuxPlatform{}
}

func (linuxPlatform) Supported() bool {
	return true
}

func (linuxPlatform) CoreIDs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	ids := make([]int, 0, set.Count())
	for cpu := 0; cpu < cpuSetSize; cpu++ {
		if set.IsSet(cpu) {
			ids = append(ids, cpu)
		}
	}
	return ids, nil
}

func (linuxPlatform) PinSelf(core int) error {
	var set unix.CPUSet
	set.Set(core)
	return forEachThread(os.Getpid(), func(tid int) error {
		if err := unix.SchedSetaffinity(tid, &set); err != nil {
			return fmt.Errorf("pin thread %d to core %d: %w", tid, core, err)
		}
		return nil
	})
}

func (linuxPlatform) SetNice(pid, nice int) error {
	// Niceness is per thread on Linux.
	return forEachThread(pid, func(tid int) error {
		if err := unix.Setpriority(unix.PRIO_PROCESS, tid, nice); err != nil {
			return fmt.Errorf("set nice %d on thread %d: %w", nice, tid, err)
		}
		return nil
	})
}

func (linuxPlatform) SetLimits(pid int, cpuSeconds, memBytes uint64) error {
	cpu := unix.Rlimit{Cur: cpuSeconds, Max: cpuSeconds}
	if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &cpu, nil); err != nil {
		return fmt.Errorf("set RLIMIT_CPU=%d on %d: %w", cpuSeconds, pid, err)
	}
	mem := unix.Rlimit{Cur: memBytes, Max: memBytes}
	if err := unix.Prlimit(pid, unix.RLIMIT_DATA, &mem, nil); err != nil {
		return fmt.Errorf("set RLIMIT_DATA=%d on %d: %w", memBytes, pid, err)
	}
	return nil
}

// forEachThread applies fn to every task of pid. Threads that exit while we
// iterate are ignored.
func forEachThread(pid int, fn func(tid int) error) error {
	entries, err := os.ReadDir(filepath.Join("/proc", strconv.Itoa(pid), "task"))
	if err != nil {
		return fn(pid)
	}
	for _, entry := range entries {
		tid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		if err := fn(tid); err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue
			}
			return err
		}
	}
	return nil
}
