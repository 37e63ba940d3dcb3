package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/memsched/internal/ir"
)

// marshalCanonical converts v to canonical JSON TEXT for storage.
// Stored graphs, configs and plans hash identically to their in-memory form.
func marshalCanonical(what string, v any) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(data), nil
}

// marshalIDs converts a buffer list to a JSON array. nil becomes [].
func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal buffer list: %w", err)
	}
	return string(data), nil
}

func unmarshalIDs(data string) ([]string, error) {
	var ids []string
	if data == "" || data == "[]" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal buffer list: %w", err)
	}
	return ids, nil
}

func unmarshalGraph(data string) (*ir.Graph, error) {
	var g ir.Graph
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return &g, nil
}

func unmarshalConfig(data string) (ir.Config, error) {
	var cfg ir.Config
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return ir.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func unmarshalPlan(data string) (*ir.Plan, error) {
	var p ir.Plan
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &p, nil
}
