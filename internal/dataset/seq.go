// Package dataset materializes benchmark inputs as .seq files and computes
// their cheap baseline statistics.
//
// A .seq file holds one pair per two lines: ">pattern" then "<text".
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Jawbreaker1/pabench/internal/job"
)

const maxLine = 64 << 20

func ReadSeqFile(path string) ([]job.SeqPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var pairs []job.SeqPair
	var pattern string
	havePattern := false
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), maxLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		switch line[0] {
		case '>':
			if havePattern {
				return nil, fmt.Errorf("%s:%d: pattern without text", path, lineNo-1)
			}
			pattern, havePattern = line[1:], true
		case '<':
			if !havePattern {
				return nil, fmt.Errorf("%s:%d: text without pattern", path, lineNo)
			}
			pairs = append(pairs, job.SeqPair{pattern, line[1:]})
			havePattern = false
		default:
			return nil, fmt.Errorf("%s:%d: line must start with '>' or '<'", path, lineNo)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if havePattern {
		return nil, fmt.Errorf("%s: trailing pattern without text", path)
	}
	return pairs, nil
}

// WriteSeqFile writes pairs via a temp file and rename.
func WriteSeqFile(path string, pairs []job.SeqPair) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	for _, p := range pairs {
		fmt.Fprintf(w, ">%s\n<%s\n", p[0], p[1])
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
