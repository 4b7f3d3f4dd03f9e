// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphsage

import (
	"maps"
	"slices"

	"github.com/gomlx/gnn/pkg/graphtensor"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ParamUnits context hyperparameter defines the output dimension of the convolutions and of the new node states.
	// There is no default: it must be set.
	ParamUnits = "graphsage_units"

	// ParamHiddenUnits context hyperparameter defines the dimension of the pooling transform of PoolingConv.
	// It must be set if and only if ParamUsePooling is true.
	ParamHiddenUnits = "graphsage_hidden_units"

	// ParamUsePooling context hyperparameter selects PoolingConv (if true) or AggregatorConv.
	// The default is true.
	ParamUsePooling = "graphsage_use_pooling"

	// ParamReduceType context hyperparameter is the reduction used to pool the neighbors, see graphtensor.ReduceOpNames.
	// The default is "mean".
	ParamReduceType = "graphsage_reduce_type"

	// ParamUseBias context hyperparameter. The default is true.
	ParamUseBias = "graphsage_use_bias"

	// ParamDropoutRate context hyperparameter is applied to the neighbors and to the old node states.
	// The default is 0.0, meaning no dropout.
	ParamDropoutRate = "graphsage_dropout_rate"

	// ParamL2Normalize context hyperparameter. The default is true.
	ParamL2Normalize = "graphsage_l2_normalize"

	// ParamCombineType context hyperparameter can take values "sum" or "concat". The default is "sum".
	ParamCombineType = "graphsage_combine_type"

	// ParamActivation context hyperparameter, see activations.TypeValues. The default is "relu".
	ParamActivation = "graphsage_activation"
)

// GraphUpdateSpec configures a GraphSAGE update of the node sets NodeSetNames.
//
// Resolve builds, for a given graphtensor.Schema, a NodeSetUpdate for each of those node sets that is
// the receiver of at least one edge set, with one convolution per such edge set (a PoolingConv if
// UsePooling, else an AggregatorConv) and a NextState.
type GraphUpdateSpec struct {
	NodeSetNames []string                    `json:"node_set_names"`
	ReceiverTag  graphtensor.IncidentNodeTag `json:"receiver_tag"`
	ReduceType   string                      `json:"reduce_type"`

	// UsePooling and HiddenUnits must be configured together: HiddenUnits > 0 if and only if UsePooling.
	UsePooling  bool `json:"use_pooling"`
	HiddenUnits int  `json:"hidden_units,omitempty"`

	UseBias     bool    `json:"use_bias"`
	DropoutRate float64 `json:"dropout_rate"`
	Units       int     `json:"units"`
	L2Normalize bool    `json:"l2_normalize"`
	CombineType string  `json:"combine_type"`
	Activation  string  `json:"activation"`

	// FeatureName is the node state feature read by the convolutions and NextState, and written back.
	FeatureName string `json:"feature_name"`

	// Name of the context scope of the resolved plan.
	Name string `json:"name"`
}

// NewGraphUpdateSpec returns a GraphUpdateSpec with the default values.
//
// Notice that UsePooling defaults to true, so HiddenUnits must be set (or UsePooling disabled) before Resolve.
func NewGraphUpdateSpec(nodeSetNames []string, receiverTag graphtensor.IncidentNodeTag, units int) *GraphUpdateSpec {
	return &GraphUpdateSpec{
		NodeSetNames: slices.Clone(nodeSetNames),
		ReceiverTag:  receiverTag,
		ReduceType:   graphtensor.ReduceTypeMean,
		UsePooling:   true,
		UseBias:      true,
		Units:        units,
		L2Normalize:  true,
		CombineType:  CombineSum,
		Activation:   "relu",
		FeatureName:  graphtensor.HiddenState,
		Name:         "graph_sage",
	}
}

// NewGraphUpdateSpecFromContext returns a GraphUpdateSpec configured from the context hyperparameters.
func NewGraphUpdateSpecFromContext(ctx *context.Context, nodeSetNames []string,
	receiverTag graphtensor.IncidentNodeTag) *GraphUpdateSpec {
	return NewGraphUpdateSpec(nodeSetNames, receiverTag, 0).FromContext(ctx)
}

// FromContext overrides the configuration with the hyperparameters set in the context.
func (s *GraphUpdateSpec) FromContext(ctx *context.Context) *GraphUpdateSpec {
	s.Units = context.GetParamOr(ctx, ParamUnits, s.Units)
	s.HiddenUnits = context.GetParamOr(ctx, ParamHiddenUnits, s.HiddenUnits)
	s.UsePooling = context.GetParamOr(ctx, ParamUsePooling, s.UsePooling)
	s.ReduceType = context.GetParamOr(ctx, ParamReduceType, s.ReduceType)
	s.UseBias = context.GetParamOr(ctx, ParamUseBias, s.UseBias)
	s.DropoutRate = context.GetParamOr(ctx, ParamDropoutRate, s.DropoutRate)
	s.L2Normalize = context.GetParamOr(ctx, ParamL2Normalize, s.L2Normalize)
	s.CombineType = context.GetParamOr(ctx, ParamCombineType, s.CombineType)
	s.Activation = context.GetParamOr(ctx, ParamActivation, s.Activation)
	return s
}

// Validate the configuration, independent of any schema.
func (s *GraphUpdateSpec) Validate() error {
	if s.UsePooling != (s.HiddenUnits > 0) {
		return graphtensor.Errorf(graphtensor.ErrConfiguration,
			"either UsePooling (%v) or HiddenUnits (%d) has been configured without the other, "+
				"please configure them together or disable them both", s.UsePooling, s.HiddenUnits)
	}
	if !s.ReceiverTag.IsValid() {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "GraphUpdateSpec: invalid receiver tag %s", s.ReceiverTag)
	}
	if len(s.NodeSetNames) == 0 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "GraphUpdateSpec requires at least one node set")
	}
	if s.FeatureName == "" {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "GraphUpdateSpec.FeatureName must be set")
	}
	return s.nextState().Validate()
}

func (s *GraphUpdateSpec) nextState() *NextState {
	return &NextState{
		Units:       s.Units,
		UseBias:     s.UseBias,
		DropoutRate: s.DropoutRate,
		FeatureName: s.FeatureName,
		L2Normalize: s.L2Normalize,
		CombineType: s.CombineType,
		Activation:  s.Activation,
	}
}

func (s *GraphUpdateSpec) convolution() Convolution {
	if s.UsePooling {
		return &PoolingConv{
			ReceiverTag:       s.ReceiverTag,
			ReduceType:        s.ReduceType,
			SenderNodeFeature: s.FeatureName,
			Units:             s.Units,
			HiddenUnits:       s.HiddenUnits,
			UseBias:           s.UseBias,
			Activation:        "relu",
			DropoutRate:       s.DropoutRate,
		}
	}
	return &AggregatorConv{
		ReceiverTag:       s.ReceiverTag,
		ReduceType:        s.ReduceType,
		SenderNodeFeature: s.FeatureName,
		Units:             s.Units,
		DropoutRate:       s.DropoutRate,
	}
}

// Resolve the spec for the schema, returning the plan to update the graph.
//
// Node sets in NodeSetNames that don't receive any edge set at ReceiverTag are not updated.
// It returns an error wrapping graphtensor.ErrConfiguration for invalid configurations, and
// graphtensor.ErrLookup if a node set is not in the schema.
func (s *GraphUpdateSpec) Resolve(schema *graphtensor.Schema) (*GraphUpdatePlan, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	updated := make(map[string]bool, len(s.NodeSetNames))
	for _, name := range s.NodeSetNames {
		if _, found := schema.NodeSets[name]; !found {
			return nil, graphtensor.Errorf(graphtensor.ErrLookup, "node set %q not in schema (node sets: %v)",
				name, schema.NodeSetNames())
		}
		updated[name] = true
	}

	convs := make(map[string]map[string]Convolution)
	for _, edgeSetName := range schema.EdgeSetNames() {
		nodeSetName := schema.EdgeSets[edgeSetName].NodeSetName(s.ReceiverTag)
		if !updated[nodeSetName] {
			continue
		}
		if convs[nodeSetName] == nil {
			convs[nodeSetName] = make(map[string]Convolution)
		}
		conv := s.convolution()
		if err := conv.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "edge set %q", edgeSetName)
		}
		convs[nodeSetName][edgeSetName] = conv
	}

	plan := &GraphUpdatePlan{Name: s.Name, NodeSets: make(map[string]NodeSetUpdater, len(convs))}
	for _, nodeSetName := range slices.Sorted(maps.Keys(updated)) {
		edgeSets, found := convs[nodeSetName]
		if !found {
			klog.V(1).Infof("GraphSAGE %q: node set %q receives no edge sets at %s, not updated",
				s.Name, nodeSetName, s.ReceiverTag)
			continue
		}
		klog.V(1).Infof("GraphSAGE %q: node set %q <- edge sets %v (%T, units=%d)",
			s.Name, nodeSetName, slices.Sorted(maps.Keys(edgeSets)), s.convolution(), s.Units)
		plan.NodeSets[nodeSetName] = &NodeSetUpdate{
			EdgeSets:         edgeSets,
			NextState:        s.nextState(),
			NodeInputFeature: s.FeatureName,
		}
	}
	return plan, nil
}
