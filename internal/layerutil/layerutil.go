// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layerutil holds the building blocks shared by the GNN layers: dropout gated by an explicit
// training flag, dense transforms and biases that are bound to a context scope on first use.
//
// Parameters are created in the given context scope the first time a layer is built, sized from the
// shapes seen then, and reused by later calls. A later call with incompatible shapes panics with
// graphtensor.ErrShape.
package layerutil

import (
	"github.com/gomlx/gnn/pkg/graphtensor"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"k8s.io/klog/v2"
)

// Dropout applies dropout to x with the given rate if training is true, scaling the kept values by 1/(1-rate).
//
// The training flag is set only in the "dropout" sub-scope of ctx, so it takes precedence over
// (and doesn't change) the context's own training state.
func Dropout(ctx *context.Context, x *Node, rate float64, training bool) *Node {
	if rate <= 0 || !training {
		return x
	}
	g := x.Graph()
	ctxDropout := ctx.In("dropout")
	ctxDropout.SetTraining(g, true)
	return layers.DropoutNormalize(ctxDropout, x, Scalar(g, x.DType(), rate), true)
}

// Variable returns the value of the variable name in the scope of ctx, creating it with shape if it doesn't
// exist yet. If it already exists with a different shape, it panics with graphtensor.ErrShape.
func Variable(ctx *context.Context, g *Graph, name string, shape shapes.Shape) *Node {
	if v := ctx.InspectVariableInScope(name); v != nil {
		if !v.Shape().Equal(shape) {
			graphtensor.Panicf(graphtensor.ErrShape,
				"variable %q in scope %q was bound with shape %s, but the inputs now require shape %s",
				name, ctx.Scope(), v.Shape(), shape)
		}
	} else {
		klog.V(1).Infof("binding %s/%s to shape %s", ctx.Scope(), name, shape)
	}
	return ctx.Checked(false).VariableWithShape(name, shape).ValueGraph(g)
}

// Dense applies a linear transformation of x (shaped [batch, inputDim]) to units dimensions, in the scope of ctx.
//
// The weights are bound (see package documentation) to the inputDim of the first call.
func Dense(ctx *context.Context, x *Node, useBias bool, units int) *Node {
	if x.Rank() != 2 {
		graphtensor.Panicf(graphtensor.ErrShape, "dense transformation in scope %q requires inputs shaped [batch, features], got %s",
			ctx.Scope(), x.Shape())
	}
	ctxDense := ctx.In("dense")
	weightsShape := shapes.Make(x.DType(), x.Shape().Dimensions[1], units)
	if v := ctxDense.InspectVariableInScope("weights"); v != nil {
		if !v.Shape().Equal(weightsShape) {
			graphtensor.Panicf(graphtensor.ErrShape,
				"dense transformation in scope %q was bound to inputs with %d features, got inputs shaped %s",
				ctx.Scope(), v.Shape().Dimensions[0], x.Shape())
		}
	} else {
		klog.V(1).Infof("binding %s to %s -> %d units", ctxDense.Scope(), x.Shape(), units)
	}
	return layers.Dense(ctx.Checked(false), x, useBias, units)
}

// Bias returns a bias vector variable named "bias" with the given width, initialized with zeros.
// It is shaped [1, width], so it can be added to [batch, width] tensors.
func Bias(ctx *context.Context, g *Graph, dtype dtypes.DType, width int) *Node {
	ctxBias := ctx.WithInitializer(zerosInitializer)
	bias := Variable(ctxBias, g, "bias", shapes.Make(dtype, width))
	return ExpandAxes(bias, 0)
}

func zerosInitializer(g *Graph, shape shapes.Shape) *Node {
	return Zeros(g, shape)
}

// ValidateActivation returns an error (graphtensor.ErrConfiguration) if name is not a known activation.
// The empty string is valid, and means no activation.
func ValidateActivation(name string) error {
	if name == "" {
		return nil
	}
	if _, err := activations.TypeString(name); err != nil {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "invalid activation %q, valid values are %v",
			name, activations.TypeValues())
	}
	return nil
}

// Activate applies the named activation to x.
func Activate(name string, x *Node) *Node {
	if err := ValidateActivation(name); err != nil {
		panic(err)
	}
	return activations.Apply(activations.FromName(name), x)
}
