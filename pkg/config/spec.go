// Package config loads declarative network descriptions and materializes them into networks.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// NetworkSpec describes a network: its nodes and, optionally, batches of base changes to feed
// into it.
type NetworkSpec struct {
	// Name is the name of the network.
	Name string `json:"name"`
	// Timely switches the network to timestamp-aware evaluation.
	Timely bool `json:"timely,omitempty"`
	// Nodes lists the nodes of the network. Apart from production parents, every parent must
	// be declared before its children.
	Nodes []NodeSpec `json:"nodes"`
	// Batches are change batches applied in order, each followed by a flush.
	Batches []BatchSpec `json:"batches,omitempty"`
}

// NodeSpec describes a single node.
type NodeSpec struct {
	// Name is the unique name of the node. Mandatory.
	Name string `json:"name"`
	// Kind is the node kind, e.g., "input", "filter" or "join". Mandatory.
	Kind string `json:"kind"`
	// Width is the tuple width of inputs, productions, evaluators and relation evaluators.
	Width int `json:"width,omitempty"`
	// Parents names the parent nodes. Joins and antijoins take exactly two.
	Parents []string `json:"parents,omitempty"`
	// Mask is the projection of trimmers and the grouping mask of aggregators.
	Mask []int `json:"mask,omitempty"`
	// LeftMask and RightMask are the join masks of joins and antijoins.
	LeftMask  []int `json:"leftMask,omitempty"`
	RightMask []int `json:"rightMask,omitempty"`
	// Function names a built-in predicate, evaluator, aggregator or relation evaluator.
	Function string `json:"function,omitempty"`
	// Params are the arguments of the function.
	//
	// +kubebuilder:validation:Schemaless
	Params map[string]any `json:"params,omitempty"`
}

// BatchSpec is a set of changes applied atomically.
type BatchSpec struct {
	// Name is an optional label used in logs.
	Name string `json:"name,omitempty"`
	// Changes lists the base changes of the batch.
	Changes []ChangeSpec `json:"changes"`
}

// Op is the direction of a change.
type Op string

const (
	// OpInsert inserts a tuple.
	OpInsert Op = "insert"
	// OpDelete deletes a tuple.
	OpDelete Op = "delete"
)

// ChangeSpec is a single base change.
type ChangeSpec struct {
	// Input is the name of the input node.
	Input string `json:"input"`
	// Op is the direction of the change. Defaults to insert.
	Op Op `json:"op,omitempty"`
	// Tuple holds the values of the changed tuple.
	Tuple []any `json:"tuple"`
	// Timestamp is the timestamp of the change in timely networks.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Parse decodes a YAML or JSON network description.
func Parse(b []byte) (*NetworkSpec, error) {
	var spec NetworkSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse network spec: %w", err)
	}
	return &spec, nil
}

// Load reads a network description from a file.
func Load(file string) (*NetworkSpec, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	spec, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if spec.Name == "" {
		spec.Name = file
	}
	return spec, nil
}
