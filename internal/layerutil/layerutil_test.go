// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layerutil

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gnn/pkg/graphtensor"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func onesInitializer(g *Graph, shape shapes.Shape) *Node {
	return Ones(g, shape)
}

func TestDense(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().WithInitializer(onesInitializer)
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := Const(g, [][]float32{{1, 2, 3}})
		y := Dense(ctx.In("transform"), x, false, 2)
		// Same scope and shapes: parameters are reused.
		return Add(y, Dense(ctx.In("transform"), MulScalar(x, 2), false, 2))
	})
	require.Equal(t, [][]float32{{18, 18}}, got.Value())
	require.NotNil(t, ctx.In("transform").In("dense").InspectVariableInScope("weights"))

	// Rebinding with a different input width fails.
	err := exceptions.TryCatch[error](func() {
		_ = context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			return Dense(ctx.In("transform"), Const(g, [][]float32{{1, 2}}), false, 2)
		})
	})
	require.ErrorIs(t, err, graphtensor.ErrShape)

	err = exceptions.TryCatch[error](func() {
		_ = context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			return Dense(ctx.In("other"), Const(g, []float32{1, 2}), false, 2)
		})
	})
	require.ErrorIs(t, err, graphtensor.ErrShape)
}

func TestBias(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().WithInitializer(onesInitializer)
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := Const(g, [][]float32{{1, 2}, {3, 4}})
		return Add(x, Bias(ctx, g, x.DType(), 2))
	})
	// Biases start at zero, regardless of the context initializer.
	require.Equal(t, [][]float32{{1, 2}, {3, 4}}, got.Value())

	err := exceptions.TryCatch[error](func() {
		_ = context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			return Bias(ctx, g, dtypes.Float32, 3)
		})
	})
	require.ErrorIs(t, err, graphtensor.ErrShape)
}

func TestDropout(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	values := [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}
	for _, tc := range []struct {
		rate     float64
		training bool
	}{{0.5, false}, {0, true}} {
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			return Dropout(ctx, Const(g, values), tc.rate, tc.training)
		})
		require.Equal(t, values, got.Value(), "rate=%g, training=%v", tc.rate, tc.training)
	}

	// In training, values are either dropped or scaled by 1/(1-rate).
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		return Dropout(ctx, OnesLike(Const(g, values)), 0.5, true)
	})
	for _, row := range got.Value().([][]float32) {
		for _, v := range row {
			require.Contains(t, []float32{0, 2}, v)
		}
	}
}

func TestActivation(t *testing.T) {
	for _, name := range []string{"", "relu", "swish"} {
		require.NoError(t, ValidateActivation(name), "activation %q", name)
	}
	require.ErrorIs(t, ValidateActivation("sparkle"), graphtensor.ErrConfiguration)

	backend := graphtest.BuildTestBackend()
	got := context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
		return Activate("relu", Const(g, []float32{-1, 0, 2}))
	})
	require.Equal(t, []float32{0, 0, 2}, got.Value())
}
