// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nextstate

import (
	"encoding/json"

	"github.com/gomlx/gnn/internal/layerutil"
	"github.com/gomlx/gnn/internal/polymorphicjson"
	"github.com/gomlx/gnn/pkg/graphtensor"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Residual computes the new state by concatenating all inputs, transforming them with Transformation,
// adding the result to the old state (the skip connection) and applying the activation.
//
// The old state is taken from the Self inputs: either the single tensor given, or the feature
// SkipConnectionFeatureName of a named feature bag.
type Residual struct {
	Transformation Transformation

	// Activation applied after the skip connection is added. Empty for no activation.
	Activation string

	// SkipConnectionFeatureName is the feature used as skip connection if Self is a named feature bag.
	// Defaults to graphtensor.HiddenState.
	SkipConnectionFeatureName string
}

var _ UpdateRule = (*Residual)(nil)

// NewResidual returns a Residual update rule with the given transformation, no activation, and the
// skip connection taken from the graphtensor.HiddenState feature.
func NewResidual(transformation Transformation) *Residual {
	return &Residual{Transformation: transformation, SkipConnectionFeatureName: graphtensor.HiddenState}
}

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (r *Residual) JSONTags() (string, string) { return "Residual", InterfaceName }

// Validate implements UpdateRule.
func (r *Residual) Validate() error {
	if r.Transformation == nil {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "Residual requires a transformation")
	}
	if err := r.Transformation.Validate(); err != nil {
		return err
	}
	return layerutil.ValidateActivation(r.Activation)
}

// Apply implements UpdateRule.
//
// It panics with graphtensor.ErrLookup if the skip connection feature is missing, and with
// graphtensor.ErrShape if the transformation output is not shaped like the skip connection.
func (r *Residual) Apply(ctx *context.Context, inputs Inputs, training bool) graphtensor.Fields {
	if err := r.Validate(); err != nil {
		panic(err)
	}
	var skip *Node
	if inputs.Self.IsSingle() {
		skip = inputs.Self.Single
	} else {
		featureName := r.SkipConnectionFeatureName
		if featureName == "" {
			featureName = graphtensor.HiddenState
		}
		skip = inputs.Self.Get(featureName)
	}
	x := concatInputs(inputs)
	net := r.Transformation.Transform(ctx.In("transformation"), x, training)
	if !net.Shape().Equal(skip.Shape()) {
		graphtensor.Panicf(graphtensor.ErrShape,
			"Residual: transformation output shape %s is not compatible with the skip connection shape %s",
			net.Shape(), skip.Shape())
	}
	return graphtensor.Tensor(layerutil.Activate(r.Activation, Add(net, skip)))
}

type residualJSON struct {
	Transformation            polymorphicjson.Wrapper[Transformation] `json:"transformation"`
	Activation                string                                  `json:"activation"`
	SkipConnectionFeatureName string                                  `json:"skip_connection_feature_name"`
}

// MarshalJSON implements json.Marshaler.
func (r *Residual) MarshalJSON() ([]byte, error) {
	return json.Marshal(residualJSON{
		Transformation:            polymorphicjson.Wrap(r.Transformation),
		Activation:                r.Activation,
		SkipConnectionFeatureName: r.SkipConnectionFeatureName,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Residual) UnmarshalJSON(b []byte) error {
	var decoded residualJSON
	if err := json.Unmarshal(b, &decoded); err != nil {
		return errors.Wrap(err, "failed to decode Residual")
	}
	*r = Residual{
		Transformation:            decoded.Transformation.Value,
		Activation:                decoded.Activation,
		SkipConnectionFeatureName: decoded.SkipConnectionFeatureName,
	}
	return nil
}
