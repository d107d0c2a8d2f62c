//go:build windows

package runner

import (
	"errors"
	"os"
	"os/exec"
)

func configureProcess(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}

func exitSignal(*os.ProcessState) (int, bool) {
	return 0, false
}

func maxRSSBytes(*os.ProcessState) uint64 {
	return 0
}

// execBackend has no execve to use, so it runs the backend as a child with
// the runner's stdout and stderr and exits with the backend's status.
func execBackend(argv []string, stdin *os.File, env []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdin = stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	stdin.Close()
	_ = os.Remove(stdin.Name())
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return err
	}
	os.Exit(cmd.ProcessState.ExitCode())
	return nil
}

// unlinkOpen is a no-op: open files cannot be removed on Windows.
func unlinkOpen(*os.File) {}
