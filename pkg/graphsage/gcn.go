// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphsage

import (
	"slices"

	"github.com/gomlx/gnn/internal/layerutil"
	"github.com/gomlx/gnn/pkg/graphtensor"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"k8s.io/klog/v2"
)

// GCNNodeSetUpdate extends the GCN variant of the GraphSAGE mean aggregator (Eq. 2 of the paper) to
// heterogeneous graphs, in one self-contained node set update:
//
//	h_v = activation(reduce({W_E dropout(h_u) for u in N_E(v), for each edge set E} ∪ {W_self dropout(h_v)}) + b)
//
// With ShareWeights a single transform (the one used for W_self) is used for all edge sets, which is the
// homogeneous version of the paper, and requires all sender and receiver states to have the same dimension.
// Without AddSelfLoop the old state of the node is not part of the reduction.
//
// W_self is created in the context scope "node_transform", and each W_E in "edge_sets/<edge set name>".
//
// With ReduceType "mean" the sum is divided by the total in-degree (plus 1 for the self-loop). Nodes
// with zero in-degree get zeros (before bias and activation).
type GCNNodeSetUpdate struct {
	EdgeSetNames []string                    `json:"edge_set_names"`
	ReceiverTag  graphtensor.IncidentNodeTag `json:"receiver_tag"`

	// ReduceType is either "sum" or "mean".
	ReduceType string `json:"reduce_type"`

	SelfNodeFeature   string `json:"self_node_feature"`
	SenderNodeFeature string `json:"sender_node_feature"`

	Units        int     `json:"units"`
	DropoutRate  float64 `json:"dropout_rate"`
	Activation   string  `json:"activation"`
	UseBias      bool    `json:"use_bias"`
	ShareWeights bool    `json:"share_weights"`
	AddSelfLoop  bool    `json:"add_self_loop"`
}

var _ NodeSetUpdater = (*GCNNodeSetUpdate)(nil)

// NewGCNNodeSetUpdate returns a GCNNodeSetUpdate over the given edge sets with "mean" reduction, relu
// activation, no bias, separate weights per edge set and self-loops.
func NewGCNNodeSetUpdate(edgeSetNames []string, receiverTag graphtensor.IncidentNodeTag, units int) *GCNNodeSetUpdate {
	return &GCNNodeSetUpdate{
		EdgeSetNames:      slices.Clone(edgeSetNames),
		ReceiverTag:       receiverTag,
		ReduceType:        graphtensor.ReduceTypeMean,
		SelfNodeFeature:   graphtensor.HiddenState,
		SenderNodeFeature: graphtensor.HiddenState,
		Units:             units,
		Activation:        "relu",
		AddSelfLoop:       true,
	}
}

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (u *GCNNodeSetUpdate) JSONTags() (string, string) {
	return "GCNGraphSAGENodeSetUpdate", NodeSetUpdaterInterfaceName
}

// Validate implements NodeSetUpdater.
func (u *GCNNodeSetUpdate) Validate() error {
	if u.ReduceType != graphtensor.ReduceTypeSum && u.ReduceType != graphtensor.ReduceTypeMean {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "GCNNodeSetUpdate.ReduceType %q not supported, use %q or %q",
			u.ReduceType, graphtensor.ReduceTypeSum, graphtensor.ReduceTypeMean)
	}
	if !u.ReceiverTag.IsValid() {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "GCNNodeSetUpdate: invalid receiver tag %s", u.ReceiverTag)
	}
	if len(u.EdgeSetNames) == 0 && !u.AddSelfLoop {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "GCNNodeSetUpdate requires edge sets or AddSelfLoop")
	}
	if u.SenderNodeFeature == "" || u.SelfNodeFeature == "" {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "GCNNodeSetUpdate requires the self and sender node features")
	}
	if u.Units <= 0 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "GCNNodeSetUpdate.Units must be > 0, got %d", u.Units)
	}
	if u.DropoutRate < 0 || u.DropoutRate >= 1 {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "GCNNodeSetUpdate.DropoutRate must be in [0, 1), got %g",
			u.DropoutRate)
	}
	return layerutil.ValidateActivation(u.Activation)
}

// Update implements NodeSetUpdater.
//
// It panics with graphtensor.ErrConfiguration if one of the edge sets doesn't have nodeSetName at the receiver endpoint.
func (u *GCNNodeSetUpdate) Update(ctx *context.Context, gt *graphtensor.GraphTensor, nodeSetName string,
	training bool) graphtensor.Fields {
	if err := u.Validate(); err != nil {
		panic(err)
	}
	numNodes := gt.NodeSet(nodeSetName).Size
	senderTag := u.ReceiverTag.Reverse()
	isMean := u.ReduceType == graphtensor.ReduceTypeMean

	var contributions, degrees []*Node
	for _, edgeSetName := range slices.Sorted(slices.Values(u.EdgeSetNames)) {
		edgeSchema, err := gt.Schema.EdgeSet(edgeSetName)
		if err != nil {
			panic(err)
		}
		if receiver := edgeSchema.NodeSetName(u.ReceiverTag); receiver != nodeSetName {
			graphtensor.Panicf(graphtensor.ErrConfiguration,
				"GCNNodeSetUpdate of node set %q: edge set %q has node set %q at the %s endpoint",
				nodeSetName, edgeSetName, receiver, u.ReceiverTag)
		}
		x := gt.NodeFeature(edgeSchema.NodeSetName(senderTag), u.SenderNodeFeature)
		x = layerutil.Dropout(ctx, x, u.DropoutRate, training)
		if u.ShareWeights {
			x = layerutil.Dense(ctx.In("node_transform"), x, false, u.Units)
		} else {
			x = layerutil.Dense(ctx.In("edge_sets").In(edgeSetName), x, false, u.Units)
		}
		x = graphtensor.Broadcast(gt, edgeSetName, senderTag, x)
		contributions = append(contributions, graphtensor.Pool(gt, edgeSetName, u.ReceiverTag, graphtensor.ReduceTypeSum, x))
		if isMean {
			ones := Ones(x.Graph(), shapes.Make(x.DType(), gt.EdgeSet(edgeSetName).Size, 1))
			degrees = append(degrees, graphtensor.Pool(gt, edgeSetName, u.ReceiverTag, graphtensor.ReduceTypeSum, ones))
		}
	}
	if u.AddSelfLoop {
		x := gt.NodeFeature(nodeSetName, u.SelfNodeFeature)
		x = layerutil.Dropout(ctx, x, u.DropoutRate, training)
		x = layerutil.Dense(ctx.In("node_transform"), x, false, u.Units)
		contributions = append(contributions, x)
		if isMean {
			degrees = append(degrees, Ones(x.Graph(), shapes.Make(x.DType(), numNodes, 1)))
		}
	}
	klog.V(2).Infof("GCNNodeSetUpdate(%q): %d contributions, reduce %q", nodeSetName, len(contributions), u.ReduceType)

	x := sumAll(contributions)
	if isMean {
		// A node with zero in-degree has a zero sum, so dividing by max(degree, 1) yields 0 for it.
		x = Div(x, MaxScalar(sumAll(degrees), 1))
	}
	if u.UseBias {
		x = Add(x, layerutil.Bias(ctx, x.Graph(), x.DType(), u.Units))
	}
	x = layerutil.Activate(u.Activation, x)
	return graphtensor.Named(map[string]*Node{u.SelfNodeFeature: x})
}

func sumAll(values []*Node) *Node {
	x := values[0]
	for _, v := range values[1:] {
		x = Add(x, v)
	}
	return x
}
