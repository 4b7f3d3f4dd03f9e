// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphsage implements GraphSAGE message passing for heterogeneous graphs, from
// [Hamilton et al., 2017].
//
// A GraphSAGE update of a node set v is
//
//	h_v = l2_normalize(activation(combine(W_self h_v, W_neigh_E pool_E(h_N(v)) for each edge set E) + b))
//
// The pieces are:
//
//   - AggregatorConv and PoolingConv: the per edge set convolutions, computing W_neigh_E pool_E(h_N(v)).
//     PoolingConv applies a hidden dense layer to the neighbors before pooling (Eq. 3 of the paper).
//   - NextState: the nextstate.UpdateRule that combines the results of the convolutions with the
//     transformed old state.
//   - NodeSetUpdate: the convolutions of a node set paired with its NextState.
//   - GCNNodeSetUpdate: a self-contained alternative, with optional weight sharing and self-loops.
//   - GraphUpdateSpec: the configuration of a full GraphSAGE update, which is resolved against a
//     graphtensor.Schema into an immutable GraphUpdatePlan.
//
// Trainable parameters are created in the context scope of each piece the first time it is applied,
// sized from the shapes seen then.
//
// [Hamilton et al., 2017]: https://arxiv.org/abs/1706.02216
package graphsage

import (
	"github.com/gomlx/gnn/internal/polymorphicjson"
	"github.com/gomlx/gnn/pkg/graphtensor"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"k8s.io/klog/v2"
)

const (
	// ConvolutionInterfaceName is the name Convolution implementations are registered under in polymorphicjson.
	ConvolutionInterfaceName = "Convolution"

	// NodeSetUpdaterInterfaceName is the name NodeSetUpdater implementations are registered under in polymorphicjson.
	NodeSetUpdaterInterfaceName = "NodeSetUpdater"
)

// ConvolutionInputs are the inputs given to Convolution.Convolve, for one edge set.
type ConvolutionInputs struct {
	// SenderNodeInput is the feature of the sender node set, shaped [numSenderNodes, ...]. Nil if not configured.
	SenderNodeInput *Node

	// ReceiverInput is the feature of the receiver node set, shaped [numReceiverNodes, ...]. Nil if not configured.
	ReceiverInput *Node

	// SenderEdgeInput is the feature of the edges, shaped [numEdges, ...]. Nil if not configured.
	SenderEdgeInput *Node

	// BroadcastFromSender replicates a sender node value to each edge.
	BroadcastFromSender func(value *Node) *Node

	// PoolToReceiver reduces per-edge values to the receiver nodes, with the named reduction.
	PoolToReceiver func(reduceType string, value *Node) *Node
}

// Convolution computes the message of one edge set to its receiver node set.
type Convolution interface {
	polymorphicjson.JSONIdentifiable

	// Validate the configuration.
	Validate() error

	// Receiver is the endpoint of the edges where results are aggregated.
	Receiver() graphtensor.IncidentNodeTag

	// SenderFeature is the name of the sender node set feature used as input.
	SenderFeature() string

	// Convolve returns the aggregated result, shaped [numReceiverNodes, units].
	Convolve(ctx *context.Context, inputs ConvolutionInputs, training bool) *Node
}

// ConvolveEdgeSet applies conv to the edge set of gt.
//
// The sender node set is the one at the reverse of conv.Receiver(), and its SenderFeature is
// given as the sender input: it panics with graphtensor.ErrLookup if the feature is missing.
func ConvolveEdgeSet(ctx *context.Context, conv Convolution, gt *graphtensor.GraphTensor, edgeSetName string,
	training bool) *Node {
	if err := conv.Validate(); err != nil {
		panic(err)
	}
	edgeSchema, err := gt.Schema.EdgeSet(edgeSetName)
	if err != nil {
		panic(err)
	}
	receiverTag := conv.Receiver()
	senderTag := receiverTag.Reverse()
	senderNodeSet := edgeSchema.NodeSetName(senderTag)
	klog.V(2).Infof("convolving edge set %q: %q -> %q", edgeSetName, senderNodeSet, edgeSchema.NodeSetName(receiverTag))
	inputs := ConvolutionInputs{
		SenderNodeInput: gt.NodeFeature(senderNodeSet, conv.SenderFeature()),
		BroadcastFromSender: func(value *Node) *Node {
			return graphtensor.Broadcast(gt, edgeSetName, senderTag, value)
		},
		PoolToReceiver: func(reduceType string, value *Node) *Node {
			return graphtensor.Pool(gt, edgeSetName, receiverTag, reduceType, value)
		},
	}
	return conv.Convolve(ctx, inputs, training)
}

// NodeSetUpdater computes the new features of one node set from a graph tensor.
// Both NodeSetUpdate and GCNNodeSetUpdate implement it.
type NodeSetUpdater interface {
	polymorphicjson.JSONIdentifiable

	// Validate the configuration.
	Validate() error

	// Update returns the new features of the node set.
	Update(ctx *context.Context, gt *graphtensor.GraphTensor, nodeSetName string, training bool) graphtensor.Fields
}

func init() {
	polymorphicjson.Register(func() Convolution { return &AggregatorConv{} })
	polymorphicjson.Register(func() Convolution { return &PoolingConv{} })
	polymorphicjson.Register(func() NodeSetUpdater { return &NodeSetUpdate{} })
	polymorphicjson.Register(func() NodeSetUpdater { return &GCNNodeSetUpdate{} })
}
