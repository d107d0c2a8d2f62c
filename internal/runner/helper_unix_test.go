//go:build !windows

package runner

import (
	"os"
	"syscall"
)

func killSelf(sig syscall.Signal) {
	_ = syscall.Kill(os.Getpid(), sig)
}

// helperBackend is the argv of a backend that dies from signal name, or the
// "ok" helper process when name is "ok". Shell backends get the default
// signal disposition, unlike a Go program.
func helperBackend(name string) []string {
	if name == "ok" {
		return []string{os.Args[0], "-test.run=TestRunnerHelperProcess", "--"}
	}
	return []string{"sh", "-c", "cat >/dev/null; kill -" + name + " $$"}
}
