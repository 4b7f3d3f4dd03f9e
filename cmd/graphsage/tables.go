// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gnn/pkg/graphsage"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 0, 0, 0).
			Foreground(lipgloss.AdaptiveColor{Light: "5", Dark: "13"})
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			}
			return s.Align(alignment)
		})
}

// planTable lists one row per (node set, edge set) of the plan.
func planTable(plan *graphsage.GraphUpdatePlan) *lgtable.Table {
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right).
		Headers("Node Set", "Edge Set", "Layer", "Units")
	for _, nodeSetName := range plan.NodeSetNames() {
		switch update := plan.NodeSets[nodeSetName].(type) {
		case *graphsage.NodeSetUpdate:
			for _, edgeSetName := range slices.Sorted(maps.Keys(update.EdgeSets)) {
				conv := update.EdgeSets[edgeSetName]
				name, _ := conv.JSONTags()
				table.Row(nodeSetName, edgeSetName, name, convUnits(conv))
			}
			name, _ := update.NextState.JSONTags()
			table.Row(nodeSetName, "", name, "")
		case *graphsage.GCNNodeSetUpdate:
			name, _ := update.JSONTags()
			table.Row(nodeSetName, strings.Join(update.EdgeSetNames, ", "), name, fmt.Sprint(update.Units))
		default:
			table.Row(nodeSetName, "", fmt.Sprintf("%T", update), "")
		}
	}
	return table
}

func convUnits(conv graphsage.Convolution) string {
	switch c := conv.(type) {
	case *graphsage.AggregatorConv:
		return fmt.Sprint(c.Units)
	case *graphsage.PoolingConv:
		return fmt.Sprintf("%d (hidden %d)", c.Units, c.HiddenUnits)
	}
	return ""
}

func statesTable(nodeSetNames []string, norms []*tensors.Tensor) *lgtable.Table {
	table := newPlainTable(lipgloss.Left, lipgloss.Right).Headers("Node Set", "Mean L2 Norm")
	for ii, name := range nodeSetNames {
		table.Row(name, fmt.Sprintf("%.4f", norms[ii].Value()))
	}
	return table
}

// variablesTable lists the variables created in the scope of the plan.
func variablesTable(ctx *context.Context, plan *graphsage.GraphUpdatePlan) *lgtable.Table {
	if plan.Name != "" {
		ctx = ctx.In(plan.Name)
	}
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right).
		Headers("Scope", "Name", "Shape", "Size")
	var rows [][]string
	var total int
	for v := range ctx.IterVariablesInScope() {
		shape := v.Shape()
		total += shape.Size()
		rows = append(rows, []string{v.Scope(), v.Name(), shape.String(), humanize.Comma(int64(shape.Size()))})
	}
	slices.SortFunc(rows, func(a, b []string) int {
		if cmp := strings.Compare(a[0], b[0]); cmp != 0 {
			return cmp
		}
		return strings.Compare(a[1], b[1])
	})
	for _, row := range rows {
		table.Row(row...)
	}
	table.Row("total", fmt.Sprintf("%d variables", len(rows)), "", humanize.Comma(int64(total)))
	return table
}
