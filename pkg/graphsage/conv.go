// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphsage

import (
	"github.com/gomlx/gnn/internal/layerutil"
	"github.com/gomlx/gnn/pkg/graphtensor"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// AggregatorConv is the GraphSAGE convolution with an element-wise aggregation of the neighbors
// (Eq. 2 of the paper for ReduceType "mean"):
//
//	W_neigh reduce({dropout(h_u) for u in N(v)})
//
// The transform W_neigh has no bias: NextState adds it.
type AggregatorConv struct {
	ReceiverTag graphtensor.IncidentNodeTag `json:"receiver_tag"`

	// ReduceType is the name of a registered reduce operation, see graphtensor.RegisterReduceOp.
	ReduceType string `json:"reduce_type"`

	// SenderNodeFeature is the feature of the sender nodes used as input. It must be set.
	SenderNodeFeature string `json:"sender_node_feature"`

	// ReceiverFeature and SenderEdgeFeature are not supported, and must be left empty.
	// They exist so configurations that set them are rejected instead of silently ignored.
	ReceiverFeature   string `json:"receiver_feature,omitempty"`
	SenderEdgeFeature string `json:"sender_edge_feature,omitempty"`

	Units       int     `json:"units"`
	DropoutRate float64 `json:"dropout_rate"`
}

var _ Convolution = (*AggregatorConv)(nil)

// NewAggregatorConv returns an AggregatorConv aggregating at receiverTag, with "mean" reduction
// of the graphtensor.HiddenState of the senders.
func NewAggregatorConv(receiverTag graphtensor.IncidentNodeTag, units int) *AggregatorConv {
	return &AggregatorConv{
		ReceiverTag:       receiverTag,
		ReduceType:        graphtensor.ReduceTypeMean,
		SenderNodeFeature: graphtensor.HiddenState,
		Units:             units,
	}
}

// FromContext overrides Units, ReduceType and DropoutRate with the hyperparameters set in the context
// (ParamUnits, ParamReduceType and ParamDropoutRate).
func (c *AggregatorConv) FromContext(ctx *context.Context) *AggregatorConv {
	c.Units = context.GetParamOr(ctx, ParamUnits, c.Units)
	c.ReduceType = context.GetParamOr(ctx, ParamReduceType, c.ReduceType)
	c.DropoutRate = context.GetParamOr(ctx, ParamDropoutRate, c.DropoutRate)
	return c
}

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (c *AggregatorConv) JSONTags() (string, string) { return "AggregatorConv", ConvolutionInterfaceName }

// Receiver implements Convolution.
func (c *AggregatorConv) Receiver() graphtensor.IncidentNodeTag { return c.ReceiverTag }

// SenderFeature implements Convolution.
func (c *AggregatorConv) SenderFeature() string { return c.SenderNodeFeature }

// Validate implements Convolution.
func (c *AggregatorConv) Validate() error {
	return validateConv("AggregatorConv", c.ReceiverTag, c.SenderNodeFeature, c.ReceiverFeature,
		c.SenderEdgeFeature, c.ReduceType, c.Units, c.DropoutRate)
}

// Convolve implements Convolution.
func (c *AggregatorConv) Convolve(ctx *context.Context, inputs ConvolutionInputs, training bool) *Node {
	if err := c.Validate(); err != nil {
		panic(err)
	}
	x := senderEdgeValues(ctx, "AggregatorConv", inputs, c.DropoutRate, training)
	x = inputs.PoolToReceiver(c.ReduceType, x)
	return layerutil.Dense(ctx.In("neighbor_transform"), x, false, c.Units)
}

// PoolingConv is the GraphSAGE convolution with the "pooling aggregator" (Eq. 3 of the paper):
//
//	W_neigh reduce({activation(W_pool dropout(h_u) + b) for u in N(v)})
//
// The name refers to the paper's terminology: all convolutions pool the neighbors, this one
// transforms each neighbor with a hidden layer before doing so.
type PoolingConv struct {
	ReceiverTag graphtensor.IncidentNodeTag `json:"receiver_tag"`

	// ReduceType defaults to "max_no_inf": receivers without edges get zeros.
	ReduceType string `json:"reduce_type"`

	SenderNodeFeature string `json:"sender_node_feature"`
	ReceiverFeature   string `json:"receiver_feature,omitempty"`
	SenderEdgeFeature string `json:"sender_edge_feature,omitempty"`

	// Units is the output dimension and HiddenUnits the dimension of the pooling transform W_pool.
	Units       int `json:"units"`
	HiddenUnits int `json:"hidden_units"`

	// UseBias and Activation configure the pooling transform.
	UseBias    bool   `json:"use_bias"`
	Activation string `json:"activation"`

	DropoutRate float64 `json:"dropout_rate"`
}

var _ Convolution = (*PoolingConv)(nil)

// NewPoolingConv returns a PoolingConv aggregating at receiverTag, with "max_no_inf" reduction of the
// graphtensor.HiddenState of the senders, and a pooling transform with bias and relu activation.
func NewPoolingConv(receiverTag graphtensor.IncidentNodeTag, units, hiddenUnits int) *PoolingConv {
	return &PoolingConv{
		ReceiverTag:       receiverTag,
		ReduceType:        graphtensor.ReduceTypeMaxNoInf,
		SenderNodeFeature: graphtensor.HiddenState,
		Units:             units,
		HiddenUnits:       hiddenUnits,
		UseBias:           true,
		Activation:        "relu",
	}
}

// FromContext overrides the configuration with the hyperparameters set in the context.
// The activation of the pooling transform is not configurable by context.
func (c *PoolingConv) FromContext(ctx *context.Context) *PoolingConv {
	c.Units = context.GetParamOr(ctx, ParamUnits, c.Units)
	c.HiddenUnits = context.GetParamOr(ctx, ParamHiddenUnits, c.HiddenUnits)
	c.ReduceType = context.GetParamOr(ctx, ParamReduceType, c.ReduceType)
	c.UseBias = context.GetParamOr(ctx, ParamUseBias, c.UseBias)
	c.DropoutRate = context.GetParamOr(ctx, ParamDropoutRate, c.DropoutRate)
	return c
}

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (c *PoolingConv) JSONTags() (string, string) { return "PoolingConv", ConvolutionInterfaceName }

// Receiver implements Convolution.
func (c *PoolingConv) Receiver() graphtensor.IncidentNodeTag { return c.ReceiverTag }

// SenderFeature implements Convolution.
func (c *PoolingConv) SenderFeature() string { return c.SenderNodeFeature }

// Validate implements Convolution.
func (c *PoolingConv) Validate() error {
	err := validateConv("PoolingConv", c.ReceiverTag, c.SenderNodeFeature, c.ReceiverFeature,
		c.SenderEdgeFeature, c.ReduceType, c.Units, c.DropoutRate)
	if err != nil {
		return err
	}
	if c.HiddenUnits <= 0 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "PoolingConv.HiddenUnits must be > 0, got %d", c.HiddenUnits)
	}
	return layerutil.ValidateActivation(c.Activation)
}

// Convolve implements Convolution.
func (c *PoolingConv) Convolve(ctx *context.Context, inputs ConvolutionInputs, training bool) *Node {
	if err := c.Validate(); err != nil {
		panic(err)
	}
	x := senderEdgeValues(ctx, "PoolingConv", inputs, c.DropoutRate, training)
	x = layerutil.Dense(ctx.In("pooling_transform"), x, c.UseBias, c.HiddenUnits)
	x = layerutil.Activate(c.Activation, x)
	x = inputs.PoolToReceiver(c.ReduceType, x)
	return layerutil.Dense(ctx.In("neighbor_transform"), x, false, c.Units)
}

func validateConv(kind string, receiverTag graphtensor.IncidentNodeTag, senderNodeFeature, receiverFeature,
	senderEdgeFeature, reduceType string, units int, dropoutRate float64) error {
	if !receiverTag.IsValid() {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "%s: invalid receiver tag %s", kind, receiverTag)
	}
	if receiverFeature != "" {
		return graphtensor.Errorf(graphtensor.ErrUnsupported, "%s doesn't support a receiver feature, got %q",
			kind, receiverFeature)
	}
	if senderEdgeFeature != "" {
		return graphtensor.Errorf(graphtensor.ErrUnsupported, "%s doesn't support a sender edge feature, got %q",
			kind, senderEdgeFeature)
	}
	if senderNodeFeature == "" {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "%s requires a sender node feature", kind)
	}
	if reduceType == "" {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "%s requires a reduce type", kind)
	}
	if units <= 0 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "%s.Units must be > 0, got %d", kind, units)
	}
	if dropoutRate < 0 || dropoutRate >= 1 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "%s.DropoutRate must be in [0, 1), got %g",
			kind, dropoutRate)
	}
	return nil
}

// senderEdgeValues broadcasts the sender node input to the edges, and applies dropout independently per edge.
func senderEdgeValues(ctx *context.Context, kind string, inputs ConvolutionInputs, dropoutRate float64,
	training bool) *Node {
	if inputs.SenderNodeInput == nil {
		graphtensor.Panicf(graphtensor.ErrLookup, "%s requires a sender node input", kind)
	}
	x := inputs.BroadcastFromSender(inputs.SenderNodeInput)
	return layerutil.Dropout(ctx, x, dropoutRate, training)
}
