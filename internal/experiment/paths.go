package experiment

import (
	"path/filepath"
	"strings"
)

// ResultsPath mirrors an experiment file into the results tree: the deepest
// directory named "experiments" becomes "results" and the extension becomes
// .json. Without such a directory only the extension changes.
func ResultsPath(experimentPath string) string {
	withExt := strings.TrimSuffix(experimentPath, filepath.Ext(experimentPath)) + ".json"
	dir, file := filepath.Split(withExt)
	parts := strings.Split(filepath.Clean(dir), string(filepath.Separator))
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == "experiments" {
			parts[i] = "results"
			break
		}
	}
	if dir == "" {
		return file
	}
	return filepath.Join(strings.Join(parts, string(filepath.Separator)), file)
}

// CachePath is the default shared cache next to a results file.
func CachePath(resultsPath string) string {
	return strings.TrimSuffix(resultsPath, filepath.Ext(resultsPath)) + ".cache.json"
}

// Stem is the experiment file name without its extension.
func Stem(experimentPath string) string {
	base := filepath.Base(experimentPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
