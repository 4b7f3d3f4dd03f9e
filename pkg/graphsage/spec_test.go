// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphsage

import (
	"encoding/json"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gnn/internal/layerutil"
	"github.com/gomlx/gnn/pkg/graphtensor"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// homogeneousStates are the states of 3 nodes with 4 features, connected by the edges 1->0 and 2->0.
var homogeneousStates = [][]float32{{1, 0, 2, -1}, {0.5, 1, -2, 3}, {2, 2, 1, 0}}

func buildHomogeneous(g *Graph) *graphtensor.GraphTensor {
	return graphtensor.New(buildHomogeneousSchema()).
		SetNodeSet("node", 3, map[string]*Node{
			graphtensor.HiddenState: Const(g, homogeneousStates),
			"label":                 Const(g, []int32{0, 1, 0}),
		}).
		SetEdgeSet("edges", Const(g, []int32{1, 2}), Const(g, []int32{0, 0}), nil)
}

// iotaMatrix is the reference of the values created by iotaInitializer.
func iotaMatrix(rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for ii := range data {
		data[ii] = 0.1 * float64(ii+1)
	}
	return mat.NewDense(rows, cols, data)
}

func toDense(values [][]float32) *mat.Dense {
	m := mat.NewDense(len(values), len(values[0]), nil)
	for row := range values {
		for col, v := range values[row] {
			m.Set(row, col, float64(v))
		}
	}
	return m
}

func fromDense(m mat.Matrix) [][]float32 {
	rows, cols := m.Dims()
	values := make([][]float32, rows)
	for row := range values {
		values[row] = make([]float32, cols)
		for col := range values[row] {
			values[row][col] = float32(m.At(row, col))
		}
	}
	return values
}

// homogeneousReference returns the self transform and the transformed mean of the neighbors, computed
// with the weights of iotaInitializer.
func homogeneousReference() (self, neighbors *mat.Dense) {
	states := toDense(homogeneousStates)
	weights := iotaMatrix(4, 4)
	self = mat.NewDense(3, 4, nil)
	self.Mul(states, weights)

	// Only node 0 has incoming edges; the others have a zero mean.
	mean := mat.NewDense(3, 4, nil)
	for col := range 4 {
		mean.Set(0, col, (states.At(1, col)+states.At(2, col))/2)
	}
	neighbors = mat.NewDense(3, 4, nil)
	neighbors.Mul(mean, weights)
	return
}

func homogeneousSpec(combineType string) *GraphUpdateSpec {
	spec := NewGraphUpdateSpec([]string{"node"}, graphtensor.Target, 4)
	spec.UsePooling = false
	spec.UseBias = false
	spec.Activation = ""
	spec.L2Normalize = false
	spec.CombineType = combineType
	return spec
}

func runPlan(t *testing.T, plan *GraphUpdatePlan) (states any, numFeatures int) {
	ctx := context.New().WithInitializer(iotaInitializer)
	got := runGraph(t, ctx, func(ctx *context.Context, g *Graph) []*Node {
		updated := plan.Apply(ctx, buildHomogeneous(g), false)
		numFeatures = len(updated.NodeSet("node").Features)
		return []*Node{updated.NodeFeature("node", graphtensor.HiddenState)}
	})
	return got[0], numFeatures
}

func TestScenarioSum(t *testing.T) {
	plan, err := homogeneousSpec(CombineSum).Resolve(buildHomogeneousSchema())
	require.NoError(t, err)
	got, numFeatures := runPlan(t, plan)

	self, neighbors := homogeneousReference()
	want := mat.NewDense(3, 4, nil)
	want.Add(self, neighbors)
	requireInDelta(t, fromDense(want), got, 1e-4)
	require.Equal(t, 2, numFeatures, "features not updated must be preserved")
}

func TestScenarioConcat(t *testing.T) {
	plan, err := homogeneousSpec(CombineConcat).Resolve(buildHomogeneousSchema())
	require.NoError(t, err)
	got, _ := runPlan(t, plan)

	self, neighbors := homogeneousReference()
	want := mat.NewDense(3, 8, nil)
	want.Augment(self, neighbors)
	requireInDelta(t, fromDense(want), got, 1e-4)

	// The first 4 columns are exactly the self transform, using the same weights in the same graph.
	ctx := context.New().WithInitializer(iotaInitializer)
	outputs := runGraph(t, ctx, func(ctx *context.Context, g *Graph) []*Node {
		gt := buildHomogeneous(g)
		updated := plan.Apply(ctx, gt, false).NodeFeature("node", graphtensor.HiddenState)
		selfScope := ctx.In(plan.Name).In("node").In("next_state").In("self_transform")
		selfTransform := layerutil.Dense(selfScope, gt.NodeFeature("node", graphtensor.HiddenState), false, 4)
		return []*Node{Slice(updated, AxisRange(), AxisRange(0, 4)), selfTransform}
	})
	require.Equal(t, outputs[1], outputs[0])
}

func TestScenarioGCN(t *testing.T) {
	update := NewGCNNodeSetUpdate([]string{"edges"}, graphtensor.Target, 4)
	update.AddSelfLoop = false
	update.ReduceType = graphtensor.ReduceTypeSum
	update.Activation = ""
	plan := &GraphUpdatePlan{NodeSets: map[string]NodeSetUpdater{"node": update}}
	require.NoError(t, plan.Validate())
	got, _ := runPlan(t, plan)

	states := toDense(homogeneousStates)
	sum := mat.NewDense(3, 4, nil)
	for col := range 4 {
		sum.Set(0, col, states.At(1, col)+states.At(2, col))
	}
	want := mat.NewDense(3, 4, nil)
	want.Mul(sum, iotaMatrix(4, 4))
	requireInDelta(t, fromDense(want), got, 1e-4)

	// Nodes without incoming edges are exactly zero.
	values := got.([][]float32)
	require.Equal(t, []float32{0, 0, 0, 0}, values[1])
	require.Equal(t, []float32{0, 0, 0, 0}, values[2])
}

func TestGraphUpdatePlanEdits(t *testing.T) {
	plan, err := homogeneousSpec(CombineSum).Resolve(buildHomogeneousSchema())
	require.NoError(t, err)
	apply := func() error {
		return exceptions.TryCatch[error](func() {
			g := NewGraph(graphtest.BuildTestBackend(), t.Name())
			plan.Apply(context.New(), buildHomogeneous(g), false)
		})
	}

	// Edited plans are validated again when applied.
	plan.NodeSets["node"] = nil
	require.ErrorIs(t, plan.Validate(), graphtensor.ErrConfiguration)
	require.ErrorIs(t, apply(), graphtensor.ErrConfiguration)

	gcn := NewGCNNodeSetUpdate([]string{"edges"}, graphtensor.Target, 0)
	plan.NodeSets["node"] = gcn
	require.ErrorIs(t, apply(), graphtensor.ErrConfiguration)

	// A valid replacement is used by Apply.
	gcn.Units = 4
	gcn.AddSelfLoop = false
	gcn.ReduceType = graphtensor.ReduceTypeSum
	gcn.Activation = ""
	got, _ := runPlan(t, plan)
	require.Equal(t, []float32{0, 0, 0, 0}, got.([][]float32)[1])
}

func buildHomogeneousSchema() *graphtensor.Schema {
	return graphtensor.NewSchema().
		AddNodeSet("node", map[string]int{graphtensor.HiddenState: 4}).
		AddEdgeSet("edges", "node", "node", nil)
}

func TestScenarioDefaults(t *testing.T) {
	// Default GraphSAGE: pooling convolutions, bias, relu and L2 normalization.
	spec := NewGraphUpdateSpec([]string{"node"}, graphtensor.Target, 3)
	spec.HiddenUnits = 5
	spec.DropoutRate = 0.5
	plan, err := spec.Resolve(buildHomogeneousSchema())
	require.NoError(t, err)
	for _, training := range []bool{false, true} {
		ctx := context.New().WithInitializer(iotaInitializer)
		got := runGraph(t, ctx, func(ctx *context.Context, g *Graph) []*Node {
			updated := plan.Apply(ctx, buildHomogeneous(g), training)
			states := updated.NodeFeature("node", graphtensor.HiddenState)
			return []*Node{Sqrt(ReduceSum(Square(states), -1))}
		})
		norms := got[0].([]float32)
		require.Len(t, norms, 3)
		for _, norm := range norms {
			// Rows are either unit vectors or all zeros (if zeroed by the relu).
			require.True(t, norm < 1e-4 || (norm > 1-1e-4 && norm < 1+1e-4), "got norms %v", norms)
		}
	}
}

func TestResolve(t *testing.T) {
	schema := citationsSchema()

	spec := NewGraphUpdateSpec([]string{"paper", "author"}, graphtensor.Target, 8)
	spec.HiddenUnits = 4
	plan, err := spec.Resolve(schema)
	require.NoError(t, err)
	require.Equal(t, "graph_sage", plan.Name)
	// Authors are not the target of any edge set.
	require.Equal(t, []string{"paper"}, plan.NodeSetNames())
	paper := plan.NodeSets["paper"].(*NodeSetUpdate)
	require.Len(t, paper.EdgeSets, 2)
	for _, edgeSetName := range []string{"cites", "writes"} {
		conv, ok := paper.EdgeSets[edgeSetName].(*PoolingConv)
		require.True(t, ok, "edge set %q: got %T", edgeSetName, paper.EdgeSets[edgeSetName])
		require.Equal(t, graphtensor.ReduceTypeMean, conv.ReduceType)
		require.Equal(t, 4, conv.HiddenUnits)
		require.Equal(t, 8, conv.Units)
	}
	require.Equal(t, NewNextState(8), paper.NextState)
	require.Equal(t, graphtensor.HiddenState, paper.NodeInputFeature)

	// Aggregating at the source of the edges: authors receive "affiliated" and "writes".
	spec = NewGraphUpdateSpec([]string{"paper", "author"}, graphtensor.Source, 8)
	spec.UsePooling = false
	plan, err = spec.Resolve(schema)
	require.NoError(t, err)
	require.Equal(t, []string{"author", "paper"}, plan.NodeSetNames())
	author := plan.NodeSets["author"].(*NodeSetUpdate)
	require.Len(t, author.EdgeSets, 2)
	require.IsType(t, &AggregatorConv{}, author.EdgeSets["affiliated"])
	require.IsType(t, &AggregatorConv{}, author.EdgeSets["writes"])
	require.Len(t, plan.NodeSets["paper"].(*NodeSetUpdate).EdgeSets, 1)
}

func TestResolveErrors(t *testing.T) {
	schema := citationsSchema()

	// UsePooling defaults to true and requires HiddenUnits.
	_, err := NewGraphUpdateSpec([]string{"paper"}, graphtensor.Target, 8).Resolve(schema)
	require.ErrorIs(t, err, graphtensor.ErrConfiguration)

	spec := NewGraphUpdateSpec([]string{"paper"}, graphtensor.Target, 8)
	spec.UsePooling = false
	spec.HiddenUnits = 4
	_, err = spec.Resolve(schema)
	require.ErrorIs(t, err, graphtensor.ErrConfiguration)

	spec = NewGraphUpdateSpec([]string{"paper"}, graphtensor.Target, 8)
	spec.UsePooling = false
	spec.CombineType = "product"
	_, err = spec.Resolve(schema)
	require.ErrorIs(t, err, graphtensor.ErrConfiguration)

	spec = NewGraphUpdateSpec([]string{"journal"}, graphtensor.Target, 8)
	spec.UsePooling = false
	_, err = spec.Resolve(schema)
	require.ErrorIs(t, err, graphtensor.ErrLookup)

	spec = NewGraphUpdateSpec([]string{"paper"}, graphtensor.Target, 0)
	spec.UsePooling = false
	_, err = spec.Resolve(schema)
	require.ErrorIs(t, err, graphtensor.ErrConfiguration)
}

func TestFromContext(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamUnits:       16,
		ParamUsePooling:  false,
		ParamCombineType: CombineConcat,
		ParamDropoutRate: 0.1,
		ParamReduceType:  graphtensor.ReduceTypeSum,
	})
	spec := NewGraphUpdateSpecFromContext(ctx, []string{"paper"}, graphtensor.Target)
	require.Equal(t, 16, spec.Units)
	require.False(t, spec.UsePooling)
	require.Equal(t, CombineConcat, spec.CombineType)
	require.Equal(t, 0.1, spec.DropoutRate)
	require.Equal(t, graphtensor.ReduceTypeSum, spec.ReduceType)
	// Not set in the context: defaults.
	require.True(t, spec.L2Normalize)
	require.Equal(t, "relu", spec.Activation)
	_, err := spec.Resolve(citationsSchema())
	require.NoError(t, err)

	conv := NewPoolingConv(graphtensor.Target, 4, 4).FromContext(ctx)
	require.Equal(t, 16, conv.Units)
	require.Equal(t, 4, conv.HiddenUnits)
	require.Equal(t, graphtensor.ReduceTypeSum, conv.ReduceType)
	aggregator := NewAggregatorConv(graphtensor.Target, 4).FromContext(ctx)
	require.Equal(t, 16, aggregator.Units)
	require.Equal(t, 0.1, aggregator.DropoutRate)
	nextState := NewNextState(4).FromContext(ctx)
	require.Equal(t, 16, nextState.Units)
	require.Equal(t, CombineConcat, nextState.CombineType)
	require.NoError(t, nextState.Validate())
}

func TestJSON(t *testing.T) {
	spec := NewGraphUpdateSpec([]string{"paper", "author"}, graphtensor.Source, 8)
	spec.HiddenUnits = 4
	spec.DropoutRate = 0.25
	encoded, err := json.Marshal(spec)
	require.NoError(t, err)
	var decodedSpec GraphUpdateSpec
	require.NoError(t, json.Unmarshal(encoded, &decodedSpec))
	require.Equal(t, spec, &decodedSpec)

	plan, err := spec.Resolve(citationsSchema())
	require.NoError(t, err)
	gcn := NewGCNNodeSetUpdate([]string{"affiliated"}, graphtensor.Target, 8)
	gcn.ShareWeights = true
	gcn.DropoutRate = 0.1
	plan.NodeSets["institution"] = gcn
	encoded, err = json.Marshal(plan)
	require.NoError(t, err)
	var decodedPlan GraphUpdatePlan
	require.NoError(t, json.Unmarshal(encoded, &decodedPlan))
	require.Equal(t, plan, &decodedPlan)
	require.NoError(t, decodedPlan.Validate())
}
