// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// graphsage runs one GraphSAGE graph update over a randomly generated graph, for a schema and
// configuration given in a YAML or JSON file (see package internal/specfile).
//
// It prints the resolved plan, the parameters created and the norm of the updated node states,
// and optionally saves the parameters to a checkpoint.
//
// Example:
//
//	go run ./cmd/graphsage --config=graph.yaml --set="graphsage_units=32;graphsage_combine_type=concat" --training
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"slices"

	"github.com/gomlx/gnn/internal/specfile"
	"github.com/gomlx/gnn/pkg/graphsage"
	"github.com/gomlx/gnn/pkg/graphtensor"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagConfig     = flag.String("config", "", "YAML or JSON file with the graph schema and the GraphSAGE configuration. If empty, a built-in citation graph is used.")
	flagNodes      = flag.Int("nodes", 100, "Number of nodes in each node set of the random graph.")
	flagEdges      = flag.Int("edges", 400, "Number of edges in each edge set of the random graph.")
	flagTraining   = flag.Bool("training", false, "Build the update in training mode, which enables dropout.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory where to save the parameters. If it already holds a checkpoint, the parameters are loaded from it. If empty, parameters are not saved.")
	flagPrintPlan  = flag.Bool("print_plan", false, "Print the resolved plan as JSON.")
)

// specParams returns the context hyperparameters equivalent to spec.
func specParams(spec *graphsage.GraphUpdateSpec) map[string]any {
	return map[string]any{
		graphsage.ParamUnits:       spec.Units,
		graphsage.ParamHiddenUnits: spec.HiddenUnits,
		graphsage.ParamUsePooling:  spec.UsePooling,
		graphsage.ParamReduceType:  spec.ReduceType,
		graphsage.ParamUseBias:     spec.UseBias,
		graphsage.ParamDropoutRate: spec.DropoutRate,
		graphsage.ParamL2Normalize: spec.L2Normalize,
		graphsage.ParamCombineType: spec.CombineType,
		graphsage.ParamActivation:  spec.Activation,
	}
}

func createDefaultContext() *context.Context {
	ctx := context.New()
	spec := graphsage.NewGraphUpdateSpec(nil, graphtensor.Target, 16)
	spec.HiddenUnits = 32
	ctx.SetParams(specParams(spec))
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))

	var config *specfile.File
	if *flagConfig == "" {
		config = specfile.Default()
	} else {
		config = must.M1(specfile.Load(*flagConfig))
	}

	// Hyperparameters not given with --set take the values of the configuration.
	for key, value := range specParams(config.GraphUpdate) {
		if !slices.Contains(paramsSet, key) {
			ctx.SetParam(key, value)
		}
	}
	spec := config.GraphUpdate.FromContext(ctx)
	plan, err := spec.Resolve(config.Schema)
	if err != nil {
		klog.Fatalf("Failed to resolve GraphSAGE configuration: %+v", err)
	}
	fmt.Println(titleStyle.Render("GraphSAGE plan"))
	fmt.Println(planTable(plan).Render())
	if *flagPrintPlan {
		fmt.Println(string(must.M1(json.MarshalIndent(plan, "", "  "))))
	}

	var checkpoint *checkpoints.Handler
	if *flagCheckpoint != "" {
		checkpoint = must.M1(checkpoints.Build(ctx).Dir(*flagCheckpoint).Done())
		fmt.Printf("Parameters checkpoint in %s\n", checkpoint.Dir())
	}

	backend := must.M1(backends.New())
	nodeSetNames := plan.NodeSetNames()
	norms, err := context.ExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		gt := randomGraph(ctx.In("random_graph"), g, config.Schema, *flagNodes, *flagEdges)
		updated := plan.Apply(ctx, gt, *flagTraining)
		norms := make([]*Node, 0, len(nodeSetNames))
		for _, nodeSetName := range nodeSetNames {
			states := updated.NodeFeature(nodeSetName, spec.FeatureName)
			norms = append(norms, ReduceAllMean(Sqrt(ReduceSum(Square(states), -1))))
		}
		return norms
	})
	if err != nil {
		klog.Fatalf("Failed to run GraphSAGE update: %+v", err)
	}

	fmt.Println(titleStyle.Render("Updated node states"))
	fmt.Println(statesTable(nodeSetNames, norms).Render())
	fmt.Println(titleStyle.Render("Parameters"))
	fmt.Println(variablesTable(ctx, plan).Render())

	if checkpoint != nil {
		must.M(checkpoint.Save())
		fmt.Printf("Saved parameters to %s\n", checkpoint.Dir())
	}
}
