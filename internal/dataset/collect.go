package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Jawbreaker1/pabench/internal/job"
)

// CollectDir returns every .seq file under dir, sorted, skipping hidden
// files and directories.
func CollectDir(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && filepath.Ext(path) == ".seq" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// InlinePath is the file under dataDir that holds inline pairs. The name is
// a content hash, so equal data always maps to the same file.
func InlinePath(dataDir string, pairs []job.SeqPair) string {
	h := sha256.New()
	for _, p := range pairs {
		for _, s := range p {
			var n [8]byte
			binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
			h.Write(n[:])
			h.Write([]byte(s))
		}
	}
	sum := binary.BigEndian.Uint64(h.Sum(nil)[:8])
	return filepath.Join(dataDir, "manual", strconv.FormatUint(sum, 10)+".seq")
}

// WriteInline materializes inline pairs and returns the file path.
func WriteInline(dataDir string, pairs []job.SeqPair) (string, error) {
	path := InlinePath(dataDir, pairs)
	if err := WriteSeqFile(path, pairs); err != nil {
		return "", fmt.Errorf("write inline dataset: %w", err)
	}
	return path, nil
}
