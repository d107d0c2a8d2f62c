// Package job holds the benchmark data model shared by the orchestrator and
// the runner: jobs, datasets, outputs and the closed failure taxonomy.
//
// The JSON encoding follows externally tagged enums ({"Variant": value} or a
// bare "Variant" string for unit variants) so results files stay readable by
// the plotting tools that consume them.
package job

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Seconds is a duration in whole seconds.
type Seconds = uint64

// Bytes is a memory size in bytes.
type Bytes = uint64

// Cost is the cost of one pairwise alignment.
type Cost = int32

// CostModel weights substitutions and gaps. Open == 0 is a linear gap model.
type CostModel struct {
	Sub    Cost `json:"sub" yaml:"sub"`
	Open   Cost `json:"open" yaml:"open"`
	Extend Cost `json:"extend" yaml:"extend"`
}

func (c CostModel) String() string {
	return fmt.Sprintf("sub=%d open=%d extend=%d", c.Sub, c.Open, c.Extend)
}

// AlgorithmParams names an aligner and its parameters. The value is kept in
// canonical JSON form so that params decoded from YAML and from a cache file
// compare equal.
type AlgorithmParams struct {
	value any
}

// NewAlgorithmParams canonicalizes v (a string for parameterless algorithms,
// or a single-key map {name: params}).
func NewAlgorithmParams(v any) (AlgorithmParams, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return AlgorithmParams{}, fmt.Errorf("marshal algorithm params: %w", err)
	}
	var out AlgorithmParams
	if err := out.UnmarshalJSON(data); err != nil {
		return AlgorithmParams{}, err
	}
	return out, nil
}

// MustAlgorithmParams is NewAlgorithmParams for literals.
func MustAlgorithmParams(v any) AlgorithmParams {
	a, err := NewAlgorithmParams(v)
	if err != nil {
		panic(err)
	}
	return a
}

// Name returns the algorithm variant name, or "" when unset.
func (a AlgorithmParams) Name() string {
	switch v := a.value.(type) {
	case string:
		return v
	case map[string]any:
		if len(v) == 1 {
			for name := range v {
				return name
			}
		}
	}
	return ""
}

// Params returns the parameters of a single-key variant, or nil.
func (a AlgorithmParams) Params() any {
	if m, ok := a.value.(map[string]any); ok && len(m) == 1 {
		for _, p := range m {
			return p
		}
	}
	return nil
}

func (a AlgorithmParams) Equal(o AlgorithmParams) bool {
	return reflect.DeepEqual(a.value, o.value)
}

func (a AlgorithmParams) IsZero() bool {
	return a.value == nil
}

func (a AlgorithmParams) String() string {
	data, err := json.Marshal(a.value)
	if err != nil {
		return fmt.Sprintf("%v", a.value)
	}
	return string(data)
}

func (a AlgorithmParams) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.value)
}

func (a *AlgorithmParams) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("parse algorithm params: %w", err)
	}
	switch v.(type) {
	case string, map[string]any:
	default:
		return fmt.Errorf("algorithm params must be a name or a {name: params} map, got %s", string(data))
	}
	a.value = v
	return nil
}

// Job is one unit of benchmark work.
type Job struct {
	// TimeLimit is the cpu time limit, enforced with RLIMIT_CPU.
	TimeLimit Seconds `json:"time_limit"`
	// MemLimit includes startup overhead; enforced with RLIMIT_DATA.
	MemLimit  Bytes           `json:"mem_limit"`
	Dataset   Dataset         `json:"dataset"`
	Costs     CostModel       `json:"costs"`
	Traceback bool            `json:"traceback"`
	Algo      AlgorithmParams `json:"algo"`
}

// SameIdentity reports whether the jobs are the same, ignoring resources.
func (j Job) SameIdentity(o Job) bool {
	return j.Dataset.Equal(o.Dataset) &&
		j.Costs == o.Costs &&
		j.Traceback == o.Traceback &&
		j.Algo.Equal(o.Algo)
}

// SameInput reports whether both jobs align the same data under the same costs.
func (j Job) SameInput(o Job) bool {
	return j.Dataset.Equal(o.Dataset) && j.Costs == o.Costs
}

func (j Job) HasMoreResourcesThan(o Job) bool {
	return j.TimeLimit >= o.TimeLimit && j.MemLimit >= o.MemLimit
}

// IsLarger reports whether j is at least as hard as o while getting no more
// resources. Only generated datasets are ordered; false otherwise.
func (j Job) IsLarger(o Job) bool {
	if j.Dataset.Kind != KindGenerated || o.Dataset.Kind != KindGenerated {
		return false
	}
	return j.Costs == o.Costs &&
		j.Algo.Equal(o.Algo) &&
		j.Traceback == o.Traceback &&
		j.TimeLimit <= o.TimeLimit &&
		j.MemLimit <= o.MemLimit &&
		j.Dataset.Generated.IsLargerThan(o.Dataset.Generated)
}

func (j Job) String() string {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Sprintf("job(%s, %s)", j.Dataset, j.Algo)
	}
	return string(data)
}

// ResourceUsage is measured by the orchestrator around the runner process.
type ResourceUsage struct {
	Walltime   float64 `json:"walltime"`
	Usertime   float64 `json:"usertime"`
	Systemtime float64 `json:"systemtime"`
	MaxRSS     Bytes   `json:"maxrss"`
}

// LengthStats summarizes sequence lengths.
type LengthStats struct {
	Min    int     `json:"min"`
	Max    int     `json:"max"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
}

// DatasetStats is the per-dataset baseline passed through with each job.
type DatasetStats struct {
	Files      int         `json:"files"`
	SeqPairs   int         `json:"seq_pairs"`
	TotalBases int         `json:"total_bases"`
	Length     LengthStats `json:"length"`
}

// JobResult pairs a job with what happened when it was run.
type JobResult struct {
	Job       Job           `json:"job"`
	Stats     DatasetStats  `json:"stats"`
	Resources ResourceUsage `json:"resources"`
	Output    Output        `json:"output"`
}

// Failed reports whether the result carries a JobError.
func (r JobResult) Failed() bool {
	return r.Output.Err != nil
}

// ExactOK returns the output when the job succeeded with an exact algorithm.
func (r JobResult) ExactOK() (*JobOutput, bool) {
	if r.Output.Ok == nil || !r.Output.Ok.IsExact {
		return nil, false
	}
	return r.Output.Ok, true
}
