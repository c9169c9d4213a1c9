package rollout

import (
	"encoding/json"
	"fmt"
)

// Step is one message in an executed trajectory. Steps are loosely typed
// on purpose: agent runners attach tool-call fields the core never reads.
type Step map[string]any

// Role returns the step's role field, or "" when absent
func (s Step) Role() string {
	role, _ := s["role"].(string)
	return role
}

// Content returns the step's content field, or "" when absent
func (s Step) Content() string {
	content, _ := s["content"].(string)
	return content
}

// Trajectory is one full message trace of a rollout attempt
type Trajectory struct {
	Trajectory []Step `json:"trajectory"`
}

// Record is one attempt at solving one problem instance. RunID is
// assigned once when the record is created from a dataset row and doubles
// as the record's slot in the persisted batch.
type Record struct {
	RunID       int
	Problem     string
	GroundTruth string
	Prompt      string
	RetryCount  int
	Response    string
	Trajectories []Trajectory
	Error       string
	Reward      float64
	RolloutTime float64

	// Meta carries domain-specific dataset fields through persistence
	// untouched (ids, source tags, difficulty labels).
	Meta map[string]any
}

// reserved JSON keys owned by Record itself; everything else round-trips
// through Meta.
var recordKeys = map[string]bool{
	"runid":        true,
	"problem":      true,
	"groundtruth":  true,
	"prompt":       true,
	"retry_count":  true,
	"response":     true,
	"trajectories": true,
	"error":        true,
	"reward":       true,
	"rollout_time": true,
}

// Pending reports whether the record still needs an attempt. A record
// with recorded trajectories or a recorded permanent error is terminal
// and must not be re-enqueued.
func (r *Record) Pending() bool {
	return len(r.Trajectories) == 0 && r.Error == ""
}

// ToolCalls counts tool-role steps in the first trajectory
func (r *Record) ToolCalls() int {
	if len(r.Trajectories) == 0 {
		return 0
	}
	count := 0
	for _, step := range r.Trajectories[0].Trajectory {
		if step.Role() == "tool" {
			count++
		}
	}
	return count
}

// Clone returns a deep-enough copy for requeueing: result fields are
// scalars and trajectories are replaced wholesale on each attempt.
func (r *Record) Clone() *Record {
	clone := *r
	if r.Meta != nil {
		clone.Meta = make(map[string]any, len(r.Meta))
		for k, v := range r.Meta {
			clone.Meta[k] = v
		}
	}
	clone.Trajectories = append([]Trajectory(nil), r.Trajectories...)
	return &clone
}

// MarshalJSON flattens Meta fields next to the record's own keys so the
// persisted line looks exactly like the dataset row it came from.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(recordKeys)+len(r.Meta))
	for k, v := range r.Meta {
		if !recordKeys[k] {
			out[k] = v
		}
	}
	out["runid"] = r.RunID
	out["problem"] = r.Problem
	out["groundtruth"] = r.GroundTruth
	out["prompt"] = r.Prompt
	out["retry_count"] = r.RetryCount
	out["response"] = r.Response
	out["trajectories"] = r.Trajectories
	if r.Error == "" {
		out["error"] = nil
	} else {
		out["error"] = r.Error
	}
	out["reward"] = r.Reward
	out["rollout_time"] = r.RolloutTime
	return json.Marshal(out)
}

// UnmarshalJSON splits a persisted object back into the record's own
// fields and Meta.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	decode := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok || string(v) == "null" {
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("decode record field %q: %w", key, err)
		}
		return nil
	}

	if err := decode("runid", &r.RunID); err != nil {
		return err
	}
	if err := decode("problem", &r.Problem); err != nil {
		return err
	}
	if err := decode("groundtruth", &r.GroundTruth); err != nil {
		return err
	}
	if err := decode("prompt", &r.Prompt); err != nil {
		return err
	}
	if err := decode("retry_count", &r.RetryCount); err != nil {
		return err
	}
	if err := decode("response", &r.Response); err != nil {
		return err
	}
	if err := decode("trajectories", &r.Trajectories); err != nil {
		return err
	}
	if err := decode("error", &r.Error); err != nil {
		return err
	}
	if err := decode("reward", &r.Reward); err != nil {
		return err
	}
	if err := decode("rollout_time", &r.RolloutTime); err != nil {
		return err
	}

	for k, v := range raw {
		if recordKeys[k] {
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return fmt.Errorf("decode record meta field %q: %w", k, err)
		}
		if r.Meta == nil {
			r.Meta = make(map[string]any)
		}
		r.Meta[k] = value
	}
	return nil
}
