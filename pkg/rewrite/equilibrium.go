// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rewrite

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shapeopt/pkg/config"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/shapefeature"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Stats of one run of the Equilibrium driver.
type Stats struct {
	// Iterations is the number of passes over the graph.
	Iterations int

	// Applied counts the accepted replacements per rewriter name.
	Applied map[string]int

	// Rejected counts the replacements proposed by a rewriter that the graph (or one of its
	// features) refused, and that were reverted.
	Rejected int

	// Failed counts the rewriters that returned an error or panicked.
	Failed int

	// Converged is true if the last pass didn't change the graph.
	Converged bool

	// Elapsed time of the run.
	Elapsed time.Duration
}

// NumApplied returns the total number of accepted replacements.
func (s *Stats) NumApplied() int {
	total := 0
	for _, count := range s.Applied {
		total += count
	}
	return total
}

// String implements fmt.Stringer.
func (s *Stats) String() string {
	parts := xslices.Map(xslices.SortedKeys(s.Applied), func(name string) string {
		return fmt.Sprintf("%s=%d", name, s.Applied[name])
	})
	return fmt.Sprintf("iterations=%d, converged=%v, applied=%d [%s], rejected=%d, failed=%d, elapsed=%s",
		s.Iterations, s.Converged, s.NumApplied(), strings.Join(parts, ", "), s.Rejected, s.Failed, s.Elapsed)
}

// Equilibrium applies a set of rewriters to every node of a graph, repeatedly, until no rewriter
// changes the graph or the configured maximum number of iterations ("rewrite__max_iterations") is
// reached.
//
// Each pass visits the nodes in topological order. Replacements are transactional (see
// graph.Graph.ReplaceAll): a rejected replacement is reverted and counted, and never aborts the run.
// Rewriters that fail (error or panic) are handled according to the configuration "on_opt_error".
type Equilibrium struct {
	name    string
	cfg     *config.Config
	table   map[graph.OpType][]*NodeRewriter
	generic []*NodeRewriter

	// LastStats holds the statistics of the last call to Rewrite.
	LastStats *Stats
}

var _ Pass = (*Equilibrium)(nil)

// NewEquilibrium creates a driver for the given rewriters. Rewriters are tried in the order given.
func NewEquilibrium(name string, rewriters ...*NodeRewriter) *Equilibrium {
	e := &Equilibrium{
		name:  name,
		table: make(map[graph.OpType][]*NodeRewriter),
	}
	for _, rw := range rewriters {
		if len(rw.Tracks) == 0 {
			e.generic = append(e.generic, rw)
			continue
		}
		for _, opType := range rw.Tracks {
			if !slices.Contains(e.table[opType], rw) {
				e.table[opType] = append(e.table[opType], rw)
			}
		}
	}
	return e
}

// WithConfig sets the configuration used, instead of config.Default(). It returns the driver itself.
func (e *Equilibrium) WithConfig(cfg *config.Config) *Equilibrium {
	e.cfg = cfg
	return e
}

func (e *Equilibrium) config() *config.Config {
	if e.cfg == nil {
		return config.Default()
	}
	return e.cfg
}

// Name implements Pass.
func (e *Equilibrium) Name() string { return e.name }

// Rewrite implements Pass: it runs Apply and keeps the statistics in LastStats.
func (e *Equilibrium) Rewrite(ctx context.Context, g *graph.Graph) error {
	stats, err := e.Apply(ctx, g)
	e.LastStats = stats
	return err
}

// rewritersFor returns the rewriters that inspect node.
func (e *Equilibrium) rewritersFor(node *graph.Node) []*NodeRewriter {
	tracked := e.table[node.Type()]
	if len(e.generic) == 0 {
		return tracked
	}
	return slices.Concat(tracked, e.generic)
}

// Apply runs the rewriters on g until a fixed point. It returns an error only if the context is
// cancelled, if a rewriter fails and "on_opt_error" is "raise", or if the graph fails validation
// with "rewrite__check_graph" set. The statistics are returned also in case of error.
func (e *Equilibrium) Apply(ctx context.Context, g *graph.Graph) (*Stats, error) {
	cfg := e.config()
	maxIterations := cfg.GetInt(config.RewriteMaxIterations)
	checkGraph := cfg.GetBool(config.RewriteCheckGraph)
	verbose := cfg.GetBool(config.RewriteVerbose)
	onError := cfg.GetString(config.OnOptError)

	start := time.Now()
	stats := &Stats{Applied: make(map[string]int)}
	defer func() { stats.Elapsed = time.Since(start) }()

	for stats.Iterations < maxIterations {
		stats.Iterations++
		nodes, err := g.Toposort()
		if err != nil {
			return stats, err
		}
		changed := false
		for _, node := range nodes {
			if err := ctx.Err(); err != nil {
				return stats, errors.WithStack(err)
			}
			for _, rw := range e.rewritersFor(node) {
				if !g.HasNode(node) {
					break
				}
				outputs, err := e.run(rw, g, node)
				if err != nil {
					stats.Failed++
					switch onError {
					case "raise":
						return stats, errors.WithMessagef(err, "%s: rewriter %q failed on %s", e.name, rw.Name, node)
					case "warn":
						klog.Warningf("%s: rewriter %q failed on %s: %+v", e.name, rw.Name, node, err)
					}
					continue
				}
				pairs := replacements(node, outputs)
				if len(pairs) == 0 {
					continue
				}
				if err := g.ReplaceAll(pairs, rw.Name); err != nil {
					stats.Rejected++
					klog.V(1).Infof("%s: replacement by %q on %s rejected: %v", e.name, rw.Name, node, err)
					continue
				}
				stats.Applied[rw.Name]++
				changed = true
				if verbose {
					klog.Infof("%s: %q rewrote %s: %s", e.name, rw.Name, node, describePairs(pairs))
				} else {
					klog.V(1).Infof("%s: %q rewrote %s: %s", e.name, rw.Name, node, describePairs(pairs))
				}
				if checkGraph {
					if err := validate(g); err != nil {
						return stats, errors.WithMessagef(err, "%s: graph invalid after %q rewrote %s", e.name, rw.Name, node)
					}
				}
			}
		}
		if !changed {
			stats.Converged = true
			break
		}
	}
	if !stats.Converged {
		klog.Warningf("%s: graph %q didn't converge after %d iterations (%s=%d)", e.name, g.Name(),
			stats.Iterations, config.RewriteMaxIterations, maxIterations)
	}
	return stats, nil
}

// run calls the rewriter, converting panics to errors, and checks the number of values returned.
func (e *Equilibrium) run(rw *NodeRewriter, g *graph.Graph, node *graph.Node) (outputs []*graph.Value, err error) {
	exception := exceptions.Try(func() {
		outputs, err = rw.Fn(g, node)
	})
	if exception != nil {
		if panicErr, ok := exception.(error); ok {
			return nil, errors.WithMessage(panicErr, "panic")
		}
		return nil, errors.Errorf("panic: %v", exception)
	}
	if err != nil {
		return nil, err
	}
	if outputs != nil && len(outputs) != len(node.Outputs()) {
		return nil, errors.Errorf("returned %d values to replace the %d outputs of %s",
			len(outputs), len(node.Outputs()), node)
	}
	return outputs, nil
}

// replacements pairs each output of node with the value replacing it, skipping unchanged outputs.
func replacements(node *graph.Node, outputs []*graph.Value) []graph.Replacement {
	var pairs []graph.Replacement
	for ii, v := range outputs {
		if v == nil || v == node.Output(ii) {
			continue
		}
		pairs = append(pairs, graph.Replacement{Old: node.Output(ii), New: v})
	}
	return pairs
}

func describePairs(pairs []graph.Replacement) string {
	return strings.Join(xslices.Map(pairs, func(p graph.Replacement) string {
		return fmt.Sprintf("%s -> %s", p.Old, p.New)
	}), ", ")
}

// validate checks the graph and, if attached, its shape index.
func validate(g *graph.Graph) error {
	err := g.Check()
	if sf := shapefeature.From(g); sf != nil {
		err = multierr.Append(err, sf.Check())
	}
	return err
}
