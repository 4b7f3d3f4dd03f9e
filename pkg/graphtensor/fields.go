// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphtensor

import (
	"maps"
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Fields is a feature bag attached to one graph piece: either a single tensor (Single) or
// tensors keyed by feature name (Named). The zero value is an empty bag.
type Fields struct {
	Single *Node
	Named  map[string]*Node
}

// Tensor returns a bag holding a single tensor.
func Tensor(x *Node) Fields {
	return Fields{Single: x}
}

// Named returns a bag holding the given named features.
func Named(features map[string]*Node) Fields {
	return Fields{Named: features}
}

// IsEmpty returns whether the bag holds no tensor.
func (f Fields) IsEmpty() bool {
	return f.Single == nil && len(f.Named) == 0
}

// IsSingle returns whether the bag is a single tensor.
func (f Fields) IsSingle() bool {
	return f.Single != nil
}

// Get returns the named feature. It panics with ErrUnsupported for a single tensor bag,
// and with ErrLookup if the name is not present.
func (f Fields) Get(name string) *Node {
	if f.Single != nil {
		Panicf(ErrUnsupported, "feature %q requested from a single tensor, not a named feature bag", name)
	}
	x, found := f.Named[name]
	if !found {
		Panicf(ErrLookup, "feature %q not found, available features: %v", name, f.Names())
	}
	return x
}

// Names returns the sorted names of a named bag, or nil for a single tensor bag.
func (f Fields) Names() []string {
	return slices.Sorted(maps.Keys(f.Named))
}

// Flatten returns the tensors in the bag: the single tensor, or the named features in sorted name order.
func (f Fields) Flatten() []*Node {
	if f.Single != nil {
		return []*Node{f.Single}
	}
	names := f.Names()
	nodes := make([]*Node, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, f.Named[name])
	}
	return nodes
}

// FlattenMap flattens a map of bags in sorted key order.
func FlattenMap(bags map[string]Fields) []*Node {
	var nodes []*Node
	for _, key := range slices.Sorted(maps.Keys(bags)) {
		nodes = append(nodes, bags[key].Flatten()...)
	}
	return nodes
}
