package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
)

// ErrorModel names the mutation process used to derive the second sequence
// of a generated pair from the first.
type ErrorModel string

const (
	ErrorModelUniform     ErrorModel = "Uniform"
	ErrorModelNoisyInsert ErrorModel = "NoisyInsert"
	ErrorModelNoisyDelete ErrorModel = "NoisyDelete"
)

func (m ErrorModel) Valid() bool {
	switch m {
	case ErrorModelUniform, ErrorModelNoisyInsert, ErrorModelNoisyDelete:
		return true
	}
	return false
}

// GeneratedDataset deterministically describes a synthetic dataset file.
type GeneratedDataset struct {
	Prefix     string     `json:"prefix"`
	Seed       uint64     `json:"seed"`
	ErrorModel ErrorModel `json:"error_model"`
	ErrorRate  float64    `json:"error_rate"`
	Length     int        `json:"length"`
	TotalSize  int        `json:"total_size"`
}

// IsLargerThan reports whether g is at least as hard as o on every axis.
func (g GeneratedDataset) IsLargerThan(o GeneratedDataset) bool {
	return g.ErrorModel == o.ErrorModel &&
		g.ErrorRate >= o.ErrorRate &&
		g.Length >= o.Length &&
		g.TotalSize >= o.TotalSize
}

// Name is the file name under Prefix.
func (g GeneratedDataset) Name() string {
	return fmt.Sprintf("%s-t%d-n%d-e%s.seq", g.ErrorModel, g.TotalSize, g.Length,
		strconv.FormatFloat(g.ErrorRate, 'g', -1, 64))
}

func (g GeneratedDataset) Path() string {
	return filepath.Join(g.Prefix, g.Name())
}

// SeqPair is one (pattern, text) pair.
type SeqPair [2]string

type DatasetKind int

const (
	KindGenerated DatasetKind = iota + 1
	KindFile
	KindData
)

func (k DatasetKind) String() string {
	switch k {
	case KindGenerated:
		return "Generated"
	case KindFile:
		return "File"
	case KindData:
		return "Data"
	default:
		return "Unknown"
	}
}

// Dataset is a tagged union; only the field selected by Kind is meaningful.
type Dataset struct {
	Kind      DatasetKind
	Generated GeneratedDataset
	Path      string
	Pairs     []SeqPair
}

func GeneratedRef(g GeneratedDataset) Dataset {
	return Dataset{Kind: KindGenerated, Generated: g}
}

func FileRef(path string) Dataset {
	return Dataset{Kind: KindFile, Path: path}
}

func InlineData(pairs []SeqPair) Dataset {
	return Dataset{Kind: KindData, Pairs: pairs}
}

func (d Dataset) Equal(o Dataset) bool {
	if d.Kind != o.Kind {
		return false
	}
	switch d.Kind {
	case KindGenerated:
		return d.Generated == o.Generated
	case KindFile:
		return d.Path == o.Path
	case KindData:
		if len(d.Pairs) != len(o.Pairs) {
			return false
		}
		for i := range d.Pairs {
			if d.Pairs[i] != o.Pairs[i] {
				return false
			}
		}
		return true
	}
	return true
}

// FilePath is the .seq file backing the dataset, or "" for inline data.
func (d Dataset) FilePath() string {
	switch d.Kind {
	case KindGenerated:
		return d.Generated.Path()
	case KindFile:
		return d.Path
	}
	return ""
}

func (d Dataset) String() string {
	switch d.Kind {
	case KindGenerated, KindFile:
		return d.FilePath()
	case KindData:
		return fmt.Sprintf("inline(%d pairs)", len(d.Pairs))
	}
	return "unknown dataset"
}

func (d Dataset) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case KindGenerated:
		return json.Marshal(map[string]GeneratedDataset{"Generated": d.Generated})
	case KindFile:
		return json.Marshal(map[string]string{"File": d.Path})
	case KindData:
		pairs := d.Pairs
		if pairs == nil {
			pairs = []SeqPair{}
		}
		return json.Marshal(map[string][]SeqPair{"Data": pairs})
	}
	return nil, fmt.Errorf("marshal dataset: unknown kind %d", d.Kind)
}

func (d *Dataset) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse dataset: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("parse dataset: expected exactly one variant, got %s", string(bytes.TrimSpace(data)))
	}
	for variant, body := range raw {
		switch variant {
		case "Generated":
			var g GeneratedDataset
			if err := json.Unmarshal(body, &g); err != nil {
				return fmt.Errorf("parse generated dataset: %w", err)
			}
			*d = GeneratedRef(g)
		case "File":
			var path string
			if err := json.Unmarshal(body, &path); err != nil {
				return fmt.Errorf("parse file dataset: %w", err)
			}
			*d = FileRef(path)
		case "Data":
			var pairs []SeqPair
			if err := json.Unmarshal(body, &pairs); err != nil {
				return fmt.Errorf("parse inline dataset: %w", err)
			}
			*d = InlineData(pairs)
		default:
			return fmt.Errorf("parse dataset: unknown variant %q", variant)
		}
	}
	return nil
}
