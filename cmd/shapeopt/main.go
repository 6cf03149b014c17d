// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// shapeopt builds demonstration graphs with shape computations, runs the shape rewrites on them
// and reports the graphs before and after, the symbolic shape index and the rewrite statistics.
//
// The rewrite configuration is read from $SHAPEOPT_FLAGS and the rc files in $SHAPEOPTRC, see
// package config. Use -print_config to list it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/shapeopt/pkg/config"
	"github.com/gomlx/shapeopt/pkg/core/shapefeature"
	"github.com/gomlx/shapeopt/pkg/rewrite"
	_ "github.com/gomlx/shapeopt/pkg/rewrite/shaperules"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagDemo = flag.String("demo", "all",
		"Comma-separated list of demonstration graphs to rewrite, or \"all\". "+
			"Valid demos: reshape_chain, reshape_own_shape, specify_shape, unbroadcast, shape_lowering.")
	flagPhases = xslices.Flag("phases", []rewrite.Phase{rewrite.Canonicalize},
		"Comma-separated list of rewrite phases to apply: useless, canonicalize, stabilize, specialize.",
		rewrite.ParsePhase)
	flagPrintConfig = flag.Bool("print_config", false, "Print the rewrite configuration and its hash.")
	flagProgress    = flag.Bool("progress", false, "Display a progress bar over the demos, instead of the reports.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// Plain output when not writing to a terminal.
	lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())

	cfg := config.Default()
	if *flagPrintConfig {
		fmt.Println(titleStyle.Render("Configuration"))
		fmt.Print(cfg.String())
		fmt.Printf("hash: %s\n", cfg.Hash())
	}
	selected, err := selectDemos(*flagDemo)
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
	if len(*flagPhases) == 0 {
		klog.Errorf("No rewrite phases selected, see -phases.")
		os.Exit(1)
	}

	var bar *progressbar.ProgressBar
	if *flagProgress {
		bar = progressbar.NewOptions(len(selected),
			progressbar.OptionSetDescription("Rewriting: "),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("graphs"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}
	start := time.Now()
	var totalApplied int
	for _, d := range selected {
		stats, err := runDemo(cfg, d, bar == nil)
		if err != nil {
			klog.Errorf("Demo %q failed: %+v", d.name, err)
			os.Exit(1)
		}
		totalApplied += stats.NumApplied()
		if bar != nil {
			must.M(bar.Add(1))
		}
	}
	if bar != nil {
		must.M(bar.Finish())
		fmt.Fprintln(os.Stderr)
	}
	fmt.Printf("%s graphs rewritten in %s, %s rewrites applied.\n",
		humanize.Comma(int64(len(selected))), time.Since(start), humanize.Comma(int64(totalApplied)))
}

// runDemo builds the graph of the demo and rewrites it with the selected phases.
func runDemo(cfg *config.Config, d demo, report bool) (*rewrite.Stats, error) {
	g, err := d.build()
	if err != nil {
		return nil, errors.WithMessagef(err, "building graph %q", d.name)
	}
	nodesBefore := g.NumNodes()
	if report {
		fmt.Println(titleStyle.Render(fmt.Sprintf("%s: %s", d.name, d.description)))
		fmt.Printf("Graph %s, before:\n%s\n", g.UUID(), g)
	}

	pipeline, eq := rewrite.ShapePipeline(cfg, *flagPhases...)
	var index string
	pipeline.OnPass = func(_ int, pass rewrite.Pass, elapsed time.Duration) {
		klog.V(1).Infof("%s: pass %s took %s", d.name, pass.Name(), elapsed)
		if pass == rewrite.Pass(eq) && report {
			if sf := shapefeature.From(g); sf != nil {
				index = indexTable(g, sf)
			}
		}
	}
	if err := pipeline.Run(context.Background(), g); err != nil {
		return eq.LastStats, err
	}
	if !report {
		return eq.LastStats, nil
	}
	fmt.Printf("After (phases %q):\n%s\n", *flagPhases, g)
	fmt.Println("Symbolic shapes:")
	fmt.Println(index)
	fmt.Println(statsTable(eq.LastStats, nodesBefore, g.NumNodes()))
	return eq.LastStats, nil
}
