// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/shapeopt/pkg/config"
	"github.com/gomlx/shapeopt/pkg/core/shapefeature"
	"github.com/gomlx/shapeopt/pkg/rewrite"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectDemos(t *testing.T) {
	selected, err := selectDemos("all")
	require.NoError(t, err)
	assert.Len(t, selected, len(demos))

	selected, err = selectDemos("unbroadcast, reshape_chain")
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "unbroadcast", selected[0].name)
	assert.Equal(t, "reshape_chain", selected[1].name)

	_, err = selectDemos("reshape_chain,foo")
	assert.ErrorContains(t, err, "foo")
}

func TestRunDemos(t *testing.T) {
	cfg := must.M1(config.New(nil, nil))
	require.NoError(t, cfg.Set(config.RewriteCheckGraph, "true"))
	for _, d := range demos {
		t.Run(d.name, func(t *testing.T) {
			stats, err := runDemo(cfg, d, false)
			require.NoError(t, err)
			assert.True(t, stats.Converged)
			assert.Positive(t, stats.NumApplied())
		})
	}
}

func TestTables(t *testing.T) {
	g := must.M1(demos[0].build())
	sf := shapefeature.New().WithConfig(must.M1(config.New(nil, nil)))
	require.NoError(t, g.AttachFeature(sf))
	index := indexTable(g, sf)
	assert.Contains(t, index, "Symbolic shape")
	assert.Contains(t, index, g.Outputs()[0].String())

	stats := &rewrite.Stats{Iterations: 2, Applied: map[string]int{"local_reshape_chain": 1234}, Converged: true}
	table := statsTable(stats, 5, 3)
	assert.Contains(t, table, "local_reshape_chain")
	assert.Contains(t, table, "1,234")
	assert.Contains(t, table, "5 -> 3")
}
