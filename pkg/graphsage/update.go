// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphsage

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/gomlx/gnn/internal/polymorphicjson"
	"github.com/gomlx/gnn/pkg/graphtensor"
	"github.com/gomlx/gnn/pkg/nextstate"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NodeSetUpdate updates a node set with one Convolution per incoming edge set, whose results are
// combined by NextState (typically a graphsage.NextState).
//
// Each convolution is applied in the context scope "edge_sets/<edge set name>", and NextState in the
// scope "next_state".
type NodeSetUpdate struct {
	// EdgeSets maps edge set names to the convolution applied to it.
	EdgeSets map[string]Convolution

	NextState nextstate.UpdateRule

	// NodeInputFeature is the feature of the node set given as Inputs.Self to NextState.
	// If empty, all the features of the node set are given.
	NodeInputFeature string
}

var _ NodeSetUpdater = (*NodeSetUpdate)(nil)

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (u *NodeSetUpdate) JSONTags() (string, string) { return "NodeSetUpdate", NodeSetUpdaterInterfaceName }

// Validate implements NodeSetUpdater.
func (u *NodeSetUpdate) Validate() error {
	if u.NextState == nil {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "NodeSetUpdate requires a NextState")
	}
	for _, name := range slices.Sorted(maps.Keys(u.EdgeSets)) {
		if u.EdgeSets[name] == nil {
			return graphtensor.Errorf(graphtensor.ErrConfiguration, "NodeSetUpdate: nil convolution for edge set %q", name)
		}
		if err := u.EdgeSets[name].Validate(); err != nil {
			return errors.WithMessagef(err, "edge set %q", name)
		}
	}
	return u.NextState.Validate()
}

// Update implements NodeSetUpdater.
func (u *NodeSetUpdate) Update(ctx *context.Context, gt *graphtensor.GraphTensor, nodeSetName string,
	training bool) graphtensor.Fields {
	if err := u.Validate(); err != nil {
		panic(err)
	}
	related := make(map[string]graphtensor.Fields, len(u.EdgeSets))
	for _, edgeSetName := range slices.Sorted(maps.Keys(u.EdgeSets)) {
		conv := u.EdgeSets[edgeSetName]
		edgeSchema, err := gt.Schema.EdgeSet(edgeSetName)
		if err != nil {
			panic(err)
		}
		if receiver := edgeSchema.NodeSetName(conv.Receiver()); receiver != nodeSetName {
			graphtensor.Panicf(graphtensor.ErrConfiguration,
				"update of node set %q: edge set %q has node set %q at the %s endpoint",
				nodeSetName, edgeSetName, receiver, conv.Receiver())
		}
		related[edgeSetName] = graphtensor.Tensor(ConvolveEdgeSet(ctx.In("edge_sets").In(edgeSetName), conv, gt, edgeSetName, training))
	}

	var self graphtensor.Fields
	if u.NodeInputFeature != "" {
		self = graphtensor.Tensor(gt.NodeFeature(nodeSetName, u.NodeInputFeature))
	} else {
		self = graphtensor.Named(gt.NodeSet(nodeSetName).Features)
	}
	result := u.NextState.Apply(ctx.In("next_state"), nextstate.Inputs{Self: self, Related: related}, training)
	if result.IsSingle() {
		featureName := u.NodeInputFeature
		if featureName == "" {
			featureName = graphtensor.HiddenState
		}
		result = graphtensor.Named(map[string]*Node{featureName: result.Single})
	}
	return result
}

type nodeSetUpdateJSON struct {
	EdgeSets         map[string]polymorphicjson.Wrapper[Convolution] `json:"edge_sets"`
	NextState        polymorphicjson.Wrapper[nextstate.UpdateRule]   `json:"next_state"`
	NodeInputFeature string                                          `json:"node_input_feature"`
}

// MarshalJSON implements json.Marshaler.
func (u *NodeSetUpdate) MarshalJSON() ([]byte, error) {
	encoded := nodeSetUpdateJSON{
		EdgeSets:         make(map[string]polymorphicjson.Wrapper[Convolution], len(u.EdgeSets)),
		NextState:        polymorphicjson.Wrap(u.NextState),
		NodeInputFeature: u.NodeInputFeature,
	}
	for name, conv := range u.EdgeSets {
		encoded.EdgeSets[name] = polymorphicjson.Wrap(conv)
	}
	return json.Marshal(encoded)
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *NodeSetUpdate) UnmarshalJSON(b []byte) error {
	var decoded nodeSetUpdateJSON
	if err := json.Unmarshal(b, &decoded); err != nil {
		return errors.Wrap(err, "failed to decode NodeSetUpdate")
	}
	u.EdgeSets = make(map[string]Convolution, len(decoded.EdgeSets))
	for name, conv := range decoded.EdgeSets {
		u.EdgeSets[name] = conv.Value
	}
	u.NextState = decoded.NextState.Value
	u.NodeInputFeature = decoded.NodeInputFeature
	return nil
}

// GraphUpdatePlan is the resolved GraphSAGE update of a graph: one NodeSetUpdater per updated node set.
//
// It is usually built by GraphUpdateSpec.Resolve or decoded from JSON. It is a plain value: NodeSets can be
// edited afterwards (e.g. to replace an update by a GCNNodeSetUpdate), and the plan is validated again on
// every Apply. Parameters live in the context, so changing an update after it was applied may conflict
// with the variables it already created.
type GraphUpdatePlan struct {
	// Name of the context scope where the plan is applied. If empty the given context is used as is.
	Name string

	// NodeSets maps the names of the updated node sets to their updates.
	NodeSets map[string]NodeSetUpdater
}

// NodeSetNames returns the sorted names of the node sets updated by the plan.
func (p *GraphUpdatePlan) NodeSetNames() []string {
	return slices.Sorted(maps.Keys(p.NodeSets))
}

// Validate the plan.
func (p *GraphUpdatePlan) Validate() error {
	for _, name := range p.NodeSetNames() {
		if p.NodeSets[name] == nil {
			return graphtensor.Errorf(graphtensor.ErrConfiguration, "plan has nil update for node set %q", name)
		}
		if err := p.NodeSets[name].Validate(); err != nil {
			return errors.WithMessagef(err, "node set %q", name)
		}
	}
	return nil
}

// Apply the plan to gt, returning a new GraphTensor with the updated node features.
//
// All node sets are updated from the same input gt, in sorted order, each in the context scope named
// after the node set. Features not returned by an update are kept.
func (p *GraphUpdatePlan) Apply(ctx *context.Context, gt *graphtensor.GraphTensor, training bool) *graphtensor.GraphTensor {
	if err := p.Validate(); err != nil {
		panic(err)
	}
	if p.Name != "" {
		ctx = ctx.In(p.Name)
	}
	replacements := make(map[string]map[string]*Node, len(p.NodeSets))
	for _, nodeSetName := range p.NodeSetNames() {
		result := p.NodeSets[nodeSetName].Update(ctx.In(nodeSetName), gt, nodeSetName, training)
		klog.V(1).Infof("graph update %q: node set %q updated features %v (training=%v)",
			p.Name, nodeSetName, result.Names(), training)
		features := maps.Clone(gt.NodeSet(nodeSetName).Features)
		if features == nil {
			features = make(map[string]*Node)
		}
		if result.IsSingle() {
			features[graphtensor.HiddenState] = result.Single
		} else {
			maps.Copy(features, result.Named)
		}
		replacements[nodeSetName] = features
	}
	return gt.ReplaceNodeFeatures(replacements)
}

type graphUpdatePlanJSON struct {
	Name     string                                             `json:"name"`
	NodeSets map[string]polymorphicjson.Wrapper[NodeSetUpdater] `json:"node_sets"`
}

// MarshalJSON implements json.Marshaler.
func (p *GraphUpdatePlan) MarshalJSON() ([]byte, error) {
	encoded := graphUpdatePlanJSON{
		Name:     p.Name,
		NodeSets: make(map[string]polymorphicjson.Wrapper[NodeSetUpdater], len(p.NodeSets)),
	}
	for name, update := range p.NodeSets {
		encoded.NodeSets[name] = polymorphicjson.Wrap(update)
	}
	return json.Marshal(encoded)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *GraphUpdatePlan) UnmarshalJSON(b []byte) error {
	var decoded graphUpdatePlanJSON
	if err := json.Unmarshal(b, &decoded); err != nil {
		return errors.Wrap(err, "failed to decode GraphUpdatePlan")
	}
	p.Name = decoded.Name
	p.NodeSets = make(map[string]NodeSetUpdater, len(decoded.NodeSets))
	for name, update := range decoded.NodeSets {
		p.NodeSets[name] = update.Value
	}
	return nil
}
