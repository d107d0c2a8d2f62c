package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Measured is reported by the runner about its own alignment loop.
type Measured struct {
	// Runtime in seconds.
	Runtime float64 `json:"runtime"`
	// MemoryInitial is max_rss after reading the input.
	MemoryInitial *Bytes `json:"memory_initial"`
	MemoryTotal   *Bytes `json:"memory_total"`
	// Memory is the increase in max_rss while aligning.
	Memory       Bytes     `json:"memory"`
	TimeStart    time.Time `json:"time_start"`
	TimeEnd      time.Time `json:"time_end"`
	CPUStart     *int      `json:"cpu_start"`
	CPUEnd       *int      `json:"cpu_end"`
	CPUFreqStart *float64  `json:"cpu_freq_start"`
	CPUFreqEnd   *float64  `json:"cpu_freq_end"`
}

// JobOutput is what a successful runner prints on stdout.
//
// PCorrect is set only for approximate outputs that were compared against an
// exact reference, and is then within [0, 1].
type JobOutput struct {
	Costs []Cost `json:"costs"`
	// ExactCosts holds the reference costs when the job is approximate.
	ExactCosts []Cost   `json:"exact_costs"`
	IsExact    bool     `json:"is_exact"`
	PCorrect   *float64 `json:"p_correct"`
	Measured   Measured `json:"measured"`
}

// Output is the Ok/Err outcome of a job. Exactly one field is non-nil.
type Output struct {
	Ok  *JobOutput
	Err *JobError
}

func Succeeded(out JobOutput) Output {
	return Output{Ok: &out}
}

func Failed(err JobError) Output {
	return Output{Err: &err}
}

func (o Output) String() string {
	if o.Err != nil {
		return "Err(" + o.Err.String() + ")"
	}
	if o.Ok != nil {
		return fmt.Sprintf("Ok(%d costs, exact=%t)", len(o.Ok.Costs), o.Ok.IsExact)
	}
	return "<empty>"
}

func (o Output) MarshalJSON() ([]byte, error) {
	switch {
	case o.Err != nil:
		return json.Marshal(map[string]*JobError{"Err": o.Err})
	case o.Ok != nil:
		return json.Marshal(map[string]*JobOutput{"Ok": o.Ok})
	}
	return nil, fmt.Errorf("marshal output: neither Ok nor Err is set")
}

func (o *Output) UnmarshalJSON(data []byte) error {
	var raw struct {
		Ok  *JobOutput `json:"Ok"`
		Err *JobError  `json:"Err"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse output: %w", err)
	}
	if (raw.Ok == nil) == (raw.Err == nil) {
		return fmt.Errorf("parse output: expected exactly one of Ok and Err")
	}
	o.Ok, o.Err = raw.Ok, raw.Err
	return nil
}
