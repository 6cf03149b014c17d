// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/shapefeature"
	"github.com/gomlx/shapeopt/pkg/rewrite"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// newTable returns a table with the given column headers, the odd rows faint.
func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle.Faint(row%2 == 1)
		})
}

// indexTable lists the symbolic shape of each value of the graph tracked by sf.
func indexTable(g *graph.Graph, sf *shapefeature.ShapeFeature) string {
	table := newTable("Value", "Static shape", "Symbolic shape")
	for _, v := range g.Values() {
		tuple, found := sf.ShapeOf(v)
		if !found || graph.IsNone(v) {
			continue
		}
		symbolic := "<unknown rank>"
		if tuple != nil {
			symbolic = "(" + strings.Join(xslices.Map(tuple, func(dim *graph.Value) string { return dim.String() }), ", ") + ")"
		}
		table.Row(v.String(), v.Shape().String(), symbolic)
	}
	return table.Render()
}

// statsTable reports the work done by the rewrite driver.
func statsTable(stats *rewrite.Stats, nodesBefore, nodesAfter int) string {
	table := newTable("Statistic", "Value")
	table.Row("iterations", humanize.Comma(int64(stats.Iterations)))
	table.Row("converged", fmt.Sprintf("%v", stats.Converged))
	for _, name := range xslices.SortedKeys(stats.Applied) {
		table.Row(name, humanize.Comma(int64(stats.Applied[name])))
	}
	table.Row("rewrites applied", humanize.Comma(int64(stats.NumApplied())))
	table.Row("rewrites rejected", humanize.Comma(int64(stats.Rejected)))
	table.Row("rewriters failed", humanize.Comma(int64(stats.Failed)))
	table.Row("nodes", fmt.Sprintf("%s -> %s", humanize.Comma(int64(nodesBefore)), humanize.Comma(int64(nodesAfter))))
	table.Row("elapsed", stats.Elapsed.String())
	return table.Render()
}
