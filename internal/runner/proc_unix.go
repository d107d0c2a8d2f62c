//go:build !windows

package runner

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcess puts the child in its own process group, so a terminal
// Ctrl-C reaches only the orchestrator and in-flight jobs finish naturally.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return
	}
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		// Negative PGID targets the runner and the backend it started.
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}

func exitSignal(state *os.ProcessState) (int, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return int(ws.Signal()), true
}

func maxRSSBytes(state *os.ProcessState) uint64 {
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil || ru.Maxrss < 0 {
		return 0
	}
	if runtime.GOOS == "darwin" {
		return uint64(ru.Maxrss)
	}
	// Linux reports kilobytes.
	return uint64(ru.Maxrss) * 1024
}

// execBackend replaces the runner with the backend. Affinity, niceness and
// rlimits survive execve, and the parent then waits on the backend itself.
func execBackend(argv []string, stdin *os.File, env []string) error {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return err
	}
	if err := unix.Dup2(int(stdin.Fd()), 0); err != nil {
		return fmt.Errorf("redirect stdin: %w", err)
	}
	return syscall.Exec(path, argv, env)
}

// unlinkOpen removes the name of an open file; the descriptor stays valid.
func unlinkOpen(f *os.File) {
	_ = os.Remove(f.Name())
}
