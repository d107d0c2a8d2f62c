//go:build windows

package runner

import (
	"os"
	"syscall"
)

func killSelf(sig syscall.Signal) {
	os.Exit(128 + int(sig))
}

func helperBackend(string) []string {
	return []string{os.Args[0], "-test.run=TestRunnerHelperProcess", "--"}
}
