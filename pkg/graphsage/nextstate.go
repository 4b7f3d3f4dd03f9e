// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphsage

import (
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/gnn/internal/layerutil"
	"github.com/gomlx/gnn/internal/polymorphicjson"
	"github.com/gomlx/gnn/pkg/graphtensor"
	"github.com/gomlx/gnn/pkg/nextstate"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"k8s.io/klog/v2"
)

// Combine types for NextState.CombineType.
const (
	CombineSum    = "sum"
	CombineConcat = "concat"
)

// NextState computes the new node states of a GraphSAGE update, from the old state and the results of
// the convolutions of each edge set (see AggregatorConv and PoolingConv).
//
// It implements nextstate.UpdateRule: Inputs.Self is the old state, Inputs.Related maps edge set names to
// the convolution results, and Inputs.Context must be empty.
//
// The old state is transformed with W_self (no bias) after dropout, and combined with the results of the
// edge sets, taken in sorted name order. With CombineType "sum" all of them must have Units features,
// and with "concat" the result has Units plus the sum of the features of the edge sets.
// The bias (if UseBias) is added after combining, then the activation and the L2 normalization (if set).
type NextState struct {
	Units       int     `json:"units"`
	UseBias     bool    `json:"use_bias"`
	DropoutRate float64 `json:"dropout_rate"`

	// FeatureName of the node state, both to read it from Inputs.Self (if a named bag) and to return it.
	FeatureName string `json:"feature_name"`

	L2Normalize bool   `json:"l2_normalize"`
	CombineType string `json:"combine_type"`
	Activation  string `json:"activation"`
}

var _ nextstate.UpdateRule = (*NextState)(nil)

// NewNextState returns a NextState with units outputs, bias, "sum" combine, relu activation and L2 normalization.
func NewNextState(units int) *NextState {
	return &NextState{
		Units:       units,
		UseBias:     true,
		FeatureName: graphtensor.HiddenState,
		L2Normalize: true,
		CombineType: CombineSum,
		Activation:  "relu",
	}
}

// FromContext overrides the configuration with the hyperparameters set in the context.
func (s *NextState) FromContext(ctx *context.Context) *NextState {
	s.Units = context.GetParamOr(ctx, ParamUnits, s.Units)
	s.UseBias = context.GetParamOr(ctx, ParamUseBias, s.UseBias)
	s.DropoutRate = context.GetParamOr(ctx, ParamDropoutRate, s.DropoutRate)
	s.L2Normalize = context.GetParamOr(ctx, ParamL2Normalize, s.L2Normalize)
	s.CombineType = context.GetParamOr(ctx, ParamCombineType, s.CombineType)
	s.Activation = context.GetParamOr(ctx, ParamActivation, s.Activation)
	return s
}

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (s *NextState) JSONTags() (string, string) { return "GraphSAGENextState", nextstate.InterfaceName }

// Validate implements nextstate.UpdateRule.
func (s *NextState) Validate() error {
	if s.Units <= 0 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "NextState.Units must be > 0, got %d", s.Units)
	}
	if s.CombineType != CombineSum && s.CombineType != CombineConcat {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "NextState.CombineType %q not supported, use %q or %q",
			s.CombineType, CombineSum, CombineConcat)
	}
	if s.DropoutRate < 0 || s.DropoutRate >= 1 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "NextState.DropoutRate must be in [0, 1), got %g",
			s.DropoutRate)
	}
	if s.FeatureName == "" {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "NextState.FeatureName must be set")
	}
	return layerutil.ValidateActivation(s.Activation)
}

// Apply implements nextstate.UpdateRule.
func (s *NextState) Apply(ctx *context.Context, inputs nextstate.Inputs, training bool) graphtensor.Fields {
	if err := s.Validate(); err != nil {
		panic(err)
	}
	for name, fields := range inputs.Context {
		if !fields.IsEmpty() {
			graphtensor.Panicf(graphtensor.ErrUnsupported, "NextState doesn't support context inputs, got %q", name)
		}
	}
	oldState := s.oldState(inputs.Self)
	x := layerutil.Dropout(ctx, oldState, s.DropoutRate, training)
	x = layerutil.Dense(ctx.In("self_transform"), x, false, s.Units)

	edgeSetNames := slices.Sorted(maps.Keys(inputs.Related))
	parts := make([]*Node, 0, len(edgeSetNames)+1)
	parts = append(parts, x)
	for _, name := range edgeSetNames {
		fields := inputs.Related[name]
		if !fields.IsSingle() {
			graphtensor.Panicf(graphtensor.ErrUnsupported, "NextState requires a single tensor from edge set %q", name)
		}
		parts = append(parts, fields.Single)
	}
	klog.V(2).Infof("NextState(%s): combining self with edge sets [%s]", s.CombineType, strings.Join(edgeSetNames, ", "))
	x = s.combine(parts, edgeSetNames)

	if s.UseBias {
		x = Add(x, layerutil.Bias(ctx, x.Graph(), x.DType(), x.Shape().Dimensions[1]))
	}
	x = layerutil.Activate(s.Activation, x)
	if s.L2Normalize {
		x = L2Normalize(x, -1)
	}
	return graphtensor.Named(map[string]*Node{s.FeatureName: x})
}

func (s *NextState) oldState(self graphtensor.Fields) *Node {
	if self.IsEmpty() {
		graphtensor.Panicf(graphtensor.ErrLookup, "NextState requires the old node state")
	}
	if self.IsSingle() {
		return self.Single
	}
	return self.Get(s.FeatureName)
}

// combine parts; parts[0] is the transformed old state, and the others come from the edge sets in names.
func (s *NextState) combine(parts []*Node, names []string) *Node {
	self := parts[0]
	switch s.CombineType {
	case CombineSum:
		x := self
		for ii, part := range parts[1:] {
			if !part.Shape().Equal(self.Shape()) {
				graphtensor.Panicf(graphtensor.ErrShape,
					"NextState sum combine requires edge set %q result shaped %s, like the self transform, got %s",
					names[ii], self.Shape(), part.Shape())
			}
			x = Add(x, part)
		}
		return x
	default:
		for ii, part := range parts[1:] {
			if part.Rank() != 2 || part.Shape().Dimensions[0] != self.Shape().Dimensions[0] {
				graphtensor.Panicf(graphtensor.ErrShape,
					"NextState concat combine requires edge set %q result shaped [%d, features], got %s",
					names[ii], self.Shape().Dimensions[0], part.Shape())
			}
		}
		if len(parts) == 1 {
			return self
		}
		return Concatenate(parts, -1)
	}
}

func init() {
	polymorphicjson.Register(func() nextstate.UpdateRule { return &NextState{} })
}
