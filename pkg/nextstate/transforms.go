// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nextstate

import (
	"github.com/gomlx/gnn/internal/layerutil"
	"github.com/gomlx/gnn/internal/polymorphicjson"
	"github.com/gomlx/gnn/pkg/graphtensor"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
)

// Dense is a single linear transformation to Units, with optional bias and activation.
type Dense struct {
	Units      int    `json:"units"`
	UseBias    bool   `json:"use_bias"`
	Activation string `json:"activation,omitempty"`
}

// NewDense returns a Dense transformation to units, with bias and no activation.
func NewDense(units int) *Dense {
	return &Dense{Units: units, UseBias: true}
}

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (d *Dense) JSONTags() (string, string) { return "Dense", TransformationInterfaceName }

// Validate implements Transformation.
func (d *Dense) Validate() error {
	if d.Units <= 0 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "Dense.Units must be > 0, got %d", d.Units)
	}
	return layerutil.ValidateActivation(d.Activation)
}

// Transform implements Transformation.
func (d *Dense) Transform(ctx *context.Context, x *Node, _ bool) *Node {
	if err := d.Validate(); err != nil {
		panic(err)
	}
	return layerutil.Activate(d.Activation, layerutil.Dense(ctx, x, d.UseBias, d.Units))
}

// FNN is a feed-forward network, built with GoMLX's fnn package.
type FNN struct {
	Units           int     `json:"units"`
	NumHiddenLayers int     `json:"num_hidden_layers"`
	HiddenUnits     int     `json:"hidden_units"`
	Activation      string  `json:"activation"`
	DropoutRate     float64 `json:"dropout_rate"`
	UseBias         bool    `json:"use_bias"`
	Residual        bool    `json:"residual"`
}

// NewFNN returns an FNN transformation to units, with one hidden layer of the same width and relu activation.
func NewFNN(units int) *FNN {
	return &FNN{Units: units, NumHiddenLayers: 1, HiddenUnits: units, Activation: "relu", UseBias: true}
}

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (f *FNN) JSONTags() (string, string) { return "FNN", TransformationInterfaceName }

// Validate implements Transformation.
func (f *FNN) Validate() error {
	if f.Units <= 0 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "FNN.Units must be > 0, got %d", f.Units)
	}
	if f.NumHiddenLayers < 0 || (f.NumHiddenLayers > 0 && f.HiddenUnits <= 0) {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "FNN with %d hidden layers requires HiddenUnits > 0, got %d",
			f.NumHiddenLayers, f.HiddenUnits)
	}
	if f.DropoutRate < 0 || f.DropoutRate >= 1 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "FNN.DropoutRate must be in [0, 1), got %g", f.DropoutRate)
	}
	return layerutil.ValidateActivation(f.Activation)
}

// Transform implements Transformation.
//
// The fnn package applies dropout according to the context training state, which is set here
// for the "fnn" sub-scope from the training argument.
func (f *FNN) Transform(ctx *context.Context, x *Node, training bool) *Node {
	if err := f.Validate(); err != nil {
		panic(err)
	}
	ctxFNN := ctx.In("fnn").Checked(false)
	ctxFNN.SetTraining(x.Graph(), training)
	return fnn.New(ctxFNN, x, f.Units).
		NumHiddenLayers(f.NumHiddenLayers, max(f.HiddenUnits, 1)).
		Activation(activations.FromName(f.Activation)).
		Dropout(f.DropoutRate).
		UseBias(f.UseBias).
		Residual(f.Residual).
		Normalization("").
		Done()
}

func init() {
	polymorphicjson.Register(func() Transformation { return &Dense{} })
	polymorphicjson.Register(func() Transformation { return &FNN{} })
}
