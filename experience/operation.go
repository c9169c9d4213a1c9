package experience

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Op identifies one kind of experience update operation
type Op string

// Update operation kinds
const (
	OpAdd    Op = "add"
	OpModify Op = "modify"
	OpUpdate Op = "update"
	OpMerge  Op = "merge"
	OpDelete Op = "delete"
	OpNone   Op = "none"
)

// Operation is one structured edit to the experience pool, produced by a
// critique or consolidation LLM call. LLM outputs are loosely keyed
// ("operation"/"option"/"op", "content"/"experience", any case), so the
// decoder normalizes; anything unrecognized becomes OpNone so a single
// malformed entry never aborts a whole plan.
type Operation struct {
	Op           Op       `json:"operation"`
	Content      string   `json:"content,omitempty"`
	ID           string   `json:"id,omitempty"`
	ModifiedFrom string   `json:"modified_from,omitempty"`
	MergedFrom   []string `json:"merged_from,omitempty"`
}

// Target returns the pool id this operation addresses, accepting either
// the explicit id field or modified_from.
func (o Operation) Target() string {
	if o.ID != "" {
		return o.ID
	}
	return o.ModifiedFrom
}

// UnmarshalJSON tolerates the key and case variants different prompt
// contracts produce.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode operation: %w", err)
	}

	str := func(keys ...string) string {
		for _, key := range keys {
			if v, ok := raw[key]; ok && string(v) != "null" {
				var value string
				if json.Unmarshal(v, &value) == nil {
					return value
				}
			}
		}
		return ""
	}

	o.Op = normalizeOp(str("operation", "option", "op"))
	o.Content = str("content", "experience")
	o.ID = str("id")
	o.ModifiedFrom = str("modified_from")

	if v, ok := raw["merged_from"]; ok {
		if err := json.Unmarshal(v, &o.MergedFrom); err != nil {
			return fmt.Errorf("decode merged_from: %w", err)
		}
	}
	return nil
}

func normalizeOp(value string) Op {
	switch Op(strings.ToLower(strings.TrimSpace(value))) {
	case OpAdd:
		return OpAdd
	case OpModify:
		return OpModify
	case OpUpdate:
		return OpUpdate
	case OpMerge:
		return OpMerge
	case OpDelete:
		return OpDelete
	default:
		return OpNone
	}
}

// DecodeOperations parses a JSON payload into a list of operations. A
// single bare object is accepted as a one-element list.
func DecodeOperations(payload string) ([]Operation, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return nil, fmt.Errorf("empty operations payload")
	}

	var operations []Operation
	if err := json.Unmarshal([]byte(trimmed), &operations); err == nil {
		return operations, nil
	}

	var single Operation
	if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	return []Operation{single}, nil
}
