//go:build windows

package orchestrator

import "os"

func interruptSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
