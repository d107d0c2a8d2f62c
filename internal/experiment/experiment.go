// Package experiment loads YAML experiment files and expands them into the
// ordered job list the dispatcher consumes.
//
// An experiment file is a list of experiments. Each experiment is the
// cartesian product datasets x costs x traces x algos:
//
//	- time_limit: 1h
//	  mem_limit: 2GiB
//	  datasets:
//	    - Generated:
//	        seed: 31415
//	        error_models: [Uniform]
//	        error_rates: [0.05]
//	        lengths: [1000, 10000]
//	        total_size: 1000000
//	    - Path: real/ont
//	    - Data: [[ACGT, AGT]]
//	  traces: [false]
//	  costs: [{sub: 1, open: 0, extend: 1}]
//	  algos: [Edlib, {BlockAligner: {min_size: 8}}]
package experiment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Jawbreaker1/pabench/internal/job"
)

// Experiment is one product of parameters.
type Experiment struct {
	Comment   string          `yaml:"comment"`
	TimeLimit string          `yaml:"time_limit"`
	MemLimit  string          `yaml:"mem_limit"`
	Datasets  []DatasetConfig `yaml:"datasets"`
	Traces    []bool          `yaml:"traces"`
	Costs     []job.CostModel `yaml:"costs"`
	Algos     []Algo          `yaml:"algos"`
}

// Algo is an algorithm entry: a bare name or a single-key {name: params} map.
type Algo struct {
	job.AlgorithmParams
}

func (a *Algo) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	params, err := job.NewAlgorithmParams(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if params.Name() == "" {
		return fmt.Errorf("line %d: algorithm must be a name or a single-key map", value.Line)
	}
	a.AlgorithmParams = params
	return nil
}

// GeneratedConfig describes a grid of generated datasets. Exactly one of
// TotalSize and Count must be set; Count is the number of pairs.
type GeneratedConfig struct {
	Seed        uint64           `yaml:"seed"`
	ErrorModels []job.ErrorModel `yaml:"error_models"`
	ErrorRates  []float64        `yaml:"error_rates"`
	Lengths     []int            `yaml:"lengths"`
	TotalSize   *int             `yaml:"total_size"`
	Count       *int             `yaml:"count"`
}

type DatasetConfigKind int

const (
	DatasetGenerated DatasetConfigKind = iota + 1
	DatasetPath
	DatasetData
)

// DatasetConfig is one entry of `datasets`, a single-key map selecting
// Generated, Path (relative to the data dir) or Data (inline pairs).
type DatasetConfig struct {
	Kind      DatasetConfigKind
	Generated GeneratedConfig
	Path      string
	Data      []job.SeqPair
}

func (d *DatasetConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("line %d: dataset must be a single-key map (Generated, Path or Data)", value.Line)
	}
	key, body := value.Content[0].Value, value.Content[1]
	switch key {
	case "Generated":
		d.Kind = DatasetGenerated
		if err := decodeStrict(body, &d.Generated); err != nil {
			return fmt.Errorf("line %d: Generated: %w", body.Line, err)
		}
		return d.Generated.validate()
	case "Path":
		d.Kind = DatasetPath
		return body.Decode(&d.Path)
	case "Data":
		d.Kind = DatasetData
		var pairs [][2]string
		if err := body.Decode(&pairs); err != nil {
			return fmt.Errorf("line %d: Data: %w", body.Line, err)
		}
		d.Data = make([]job.SeqPair, 0, len(pairs))
		for _, p := range pairs {
			d.Data = append(d.Data, job.SeqPair(p))
		}
		return nil
	case "Download":
		return fmt.Errorf("line %d: Download datasets are not supported; fetch the archive and use Path", value.Line)
	}
	return fmt.Errorf("line %d: unknown dataset kind %q", value.Line, key)
}

func (g GeneratedConfig) validate() error {
	if (g.TotalSize == nil) == (g.Count == nil) {
		return errors.New("exactly one of total_size and count must be set")
	}
	for _, m := range g.ErrorModels {
		if !m.Valid() {
			return fmt.Errorf("unknown error model %q", m)
		}
	}
	return nil
}

// decodeStrict decodes node into v rejecting unknown fields.
func decodeStrict(node *yaml.Node, v any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// Parse reads a list of experiments.
func Parse(r io.Reader) ([]Experiment, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var exps []Experiment
	if err := dec.Decode(&exps); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return exps, nil
}

// Load reads and parses the experiment file at path.
func Load(path string) ([]Experiment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open experiment: %w", err)
	}
	defer f.Close()
	exps, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse experiment %s: %w", path, err)
	}
	return exps, nil
}
