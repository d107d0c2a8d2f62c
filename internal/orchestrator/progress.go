package orchestrator

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// Counts are the live totals of one dispatch.
type Counts struct {
	Done        int `json:"done"`
	Total       int `json:"total"`
	Success     int `json:"success"`
	Skipped     int `json:"skipped"`
	Unsupported int `json:"unsupported"`
	Failed      int `json:"failed"`
}

func (c Counts) String() string {
	return fmt.Sprintf("Processed: %d / %d. Success %d, Unsupported %d, Failed %d, Skipped %d",
		c.Done, c.Total, c.Success, c.Unsupported, c.Failed, c.Skipped)
}

// Progress renders Counts as a single line. On a terminal the line is
// rewritten in place with '\r'; otherwise every update is its own line.
type Progress struct {
	mu    sync.Mutex
	out   io.Writer
	tty   bool
	dirty bool
}

func NewProgress(out io.Writer) *Progress {
	if out == nil {
		out = io.Discard
	}
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &Progress{out: out, tty: tty}
}

func (p *Progress) Render(c Counts) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty {
		fmt.Fprintf(p.out, "\r%s", c)
		p.dirty = true
		return
	}
	fmt.Fprintln(p.out, c)
}

// Break ends a pending in-place line so log output starts on a fresh one.
func (p *Progress) Break() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty {
		fmt.Fprintln(p.out)
		p.dirty = false
	}
}
