// Package jsonfile reads and atomically writes indented JSON files.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic replaces path with v encoded as indented JSON. Readers see
// either the old or the new content. Each call stages its bytes in its own
// temp file next to path, so concurrent writers of one path never share a
// staging file and the last rename wins.
func WriteAtomic(path string, v any) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	staged, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(staged.Name())
		}
	}()

	if _, err := staged.Write(data); err != nil {
		staged.Close()
		return fmt.Errorf("stage %s: %w", path, err)
	}
	// CreateTemp uses 0600; results are meant to be shared.
	if err := staged.Chmod(0o644); err != nil {
		staged.Close()
		return fmt.Errorf("stage %s: %w", path, err)
	}
	if err := staged.Close(); err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	if err := os.Rename(staged.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	committed = true
	return nil
}

// Read decodes the JSON file at path into v. A missing file reports
// found=false and no error.
func Read(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}
