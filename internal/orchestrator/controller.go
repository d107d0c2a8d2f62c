package orchestrator

import (
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Controller is the process-wide "still running" flag. It flips once, on
// the first interrupt, and never back.
type Controller struct {
	running atomic.Bool
	log     logrus.FieldLogger
}

func NewController(log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Controller{log: log}
	c.running.Store(true)
	return c
}

// Running reports whether new jobs may still be started.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Stop clears the running flag. Only the first call has an effect.
func (c *Controller) Stop() {
	if c.running.CompareAndSwap(true, false) {
		c.log.Warn("Interrupted: waiting for running jobs to finish; no new jobs will start. Results so far will be saved.")
	}
}

// Install routes interrupt signals to Stop. Later interrupts are swallowed,
// so a second Ctrl-C does not kill the orchestrator mid-write. The returned
// func uninstalls the handler.
func (c *Controller) Install() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, interruptSignals()...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				c.Stop()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
