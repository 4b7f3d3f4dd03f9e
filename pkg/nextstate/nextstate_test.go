// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nextstate

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gnn/internal/polymorphicjson"
	"github.com/gomlx/gnn/pkg/graphtensor"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func onesInitializer(g *Graph, shape shapes.Shape) *Node {
	return Ones(g, shape)
}

// runGraph builds and executes fn with a context whose variables are initialized with ones,
// and returns the values of the outputs.
func runGraph(t *testing.T, name string, fn func(ctx *context.Context, g *Graph) []*Node) []any {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().WithInitializer(onesInitializer)
	outputs := context.MustExecOnceN(backend, ctx, fn)
	values := make([]any, len(outputs))
	for ii, output := range outputs {
		values[ii] = output.Value()
		fmt.Printf("\t%s: output #%d = %s\n", name, ii, output.GoStr())
	}
	return values
}

func TestInputsFlatten(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "TestInputsFlatten")
	self := Const(g, [][]float32{{1}})
	a, b, c := Const(g, [][]float32{{2}}), Const(g, [][]float32{{3}}), Const(g, [][]float32{{4}})
	inputs := Inputs{
		Self:    graphtensor.Tensor(self),
		Related: map[string]graphtensor.Fields{"writes": graphtensor.Tensor(b), "cites": graphtensor.Tensor(a)},
		Context: map[string]graphtensor.Fields{graphtensor.ContextName: graphtensor.Tensor(c)},
	}
	require.Equal(t, []*Node{self, a, b, c}, inputs.Flatten())
}

func TestFromConcat(t *testing.T) {
	rule := NewFromConcat(&Dense{Units: 2})
	require.NoError(t, rule.Validate())
	got := runGraph(t, "FromConcat", func(ctx *context.Context, g *Graph) []*Node {
		inputs := Inputs{
			Self:    graphtensor.Tensor(Const(g, [][]float32{{1, 2}, {3, 4}})),
			Related: map[string]graphtensor.Fields{"cites": graphtensor.Tensor(Const(g, [][]float32{{10}, {20}}))},
			Context: map[string]graphtensor.Fields{
				graphtensor.ContextName: graphtensor.Tensor(Const(g, [][]float32{{100}, {200}})),
			},
		}
		return []*Node{rule.Apply(ctx, inputs, false).Single}
	})
	// Concatenation is [[1, 2, 10, 100], [3, 4, 20, 200]], and the weights are all ones.
	require.Equal(t, [][]float32{{113, 113}, {227, 227}}, got[0])
}

func TestFromConcatFNN(t *testing.T) {
	rule := NewFromConcat(NewFNN(2))
	got := runGraph(t, "FromConcat(FNN)", func(ctx *context.Context, g *Graph) []*Node {
		inputs := Inputs{Self: graphtensor.Tensor(Const(g, [][]float32{{1, 2}}))}
		return []*Node{rule.Apply(ctx, inputs, false).Single}
	})
	// Hidden layer: 1+2+bias=4 per unit; output layer: 4+4+bias=9 per unit.
	require.True(t, xslices.SlicesInDelta([][]float32{{9, 9}}, got[0], xslices.Epsilon), "got %v", got[0])
}

func TestResidual(t *testing.T) {
	for _, activation := range []string{"", "relu"} {
		rule := NewResidual(&Dense{Units: 2})
		rule.Activation = activation
		require.NoError(t, rule.Validate())
		got := runGraph(t, "Residual", func(ctx *context.Context, g *Graph) []*Node {
			inputs := Inputs{
				Self: graphtensor.Named(map[string]*Node{
					graphtensor.HiddenState: Const(g, [][]float32{{1, 2}, {3, 4}}),
				}),
				Related: map[string]graphtensor.Fields{"cites": graphtensor.Tensor(Const(g, [][]float32{{1}, {1}}))},
			}
			return []*Node{rule.Apply(ctx, inputs, false).Single}
		})
		// Delta = [[4, 4], [8, 8]], added to the skip connection.
		require.Equal(t, [][]float32{{5, 6}, {11, 12}}, got[0])
	}
}

func TestResidualErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().WithInitializer(onesInitializer)
	g := NewGraph(backend, "TestResidualErrors")
	self := Const(g, [][]float32{{1, 2}, {3, 4}})

	// Construction doesn't know about shapes: the error happens when applied.
	rule := NewResidual(&Dense{Units: 3})
	require.NoError(t, rule.Validate())
	err := exceptions.TryCatch[error](func() {
		rule.Apply(ctx.In("wrong_units"), Inputs{Self: graphtensor.Tensor(self)}, false)
	})
	require.ErrorIs(t, err, graphtensor.ErrShape)

	rule = NewResidual(&Dense{Units: 2})
	rule.SkipConnectionFeatureName = "state"
	err = exceptions.TryCatch[error](func() {
		rule.Apply(ctx.In("missing_skip"), Inputs{
			Self: graphtensor.Named(map[string]*Node{graphtensor.HiddenState: self}),
		}, false)
	})
	require.ErrorIs(t, err, graphtensor.ErrLookup)

	rule = NewResidual(nil)
	require.ErrorIs(t, rule.Validate(), graphtensor.ErrConfiguration)
	rule = NewResidual(&Dense{Units: 2, Activation: "sparkle"})
	require.ErrorIs(t, rule.Validate(), graphtensor.ErrConfiguration)
}

func TestRebinding(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().WithInitializer(onesInitializer)
	rule := NewFromConcat(&Dense{Units: 2})

	g := NewGraph(backend, "first")
	rule.Apply(ctx, Inputs{Self: graphtensor.Tensor(Const(g, [][]float32{{1, 2}}))}, false)

	// Same input width binds to the same weights.
	g = NewGraph(backend, "second")
	require.NotPanics(t, func() {
		rule.Apply(ctx, Inputs{Self: graphtensor.Tensor(Const(g, [][]float32{{1, 2}, {3, 4}}))}, false)
	})

	// A different input width is incompatible with the weights already created.
	g = NewGraph(backend, "third")
	err := exceptions.TryCatch[error](func() {
		rule.Apply(ctx, Inputs{Self: graphtensor.Tensor(Const(g, [][]float32{{1, 2, 3}}))}, false)
	})
	require.ErrorIs(t, err, graphtensor.ErrShape)
}

func TestUpdateRuleJSON(t *testing.T) {
	for _, rule := range []UpdateRule{
		NewFromConcat(&Dense{Units: 7, UseBias: true, Activation: "relu"}),
		&Residual{Transformation: NewFNN(5), Activation: "swish", SkipConnectionFeatureName: "state"},
	} {
		encoded, err := polymorphicjson.Marshal(rule)
		require.NoError(t, err)
		fmt.Printf("\t%s\n", encoded)

		var decoded UpdateRule
		require.NoError(t, polymorphicjson.Unmarshal(encoded, &decoded))
		require.Equal(t, rule, decoded)

		// Also through a wrapper, inside a struct.
		type config struct {
			Rule polymorphicjson.Wrapper[UpdateRule] `json:"rule"`
		}
		encoded, err = json.Marshal(config{Rule: polymorphicjson.Wrap(rule)})
		require.NoError(t, err)
		var decodedConfig config
		require.NoError(t, json.Unmarshal(encoded, &decodedConfig))
		require.Equal(t, rule, decodedConfig.Rule.Value)
	}
}
