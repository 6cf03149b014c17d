// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

// Names of the standard options.
const (
	// OnShapeError selects what happens when a shape inference rule fails unexpectedly:
	// "raise" returns the error, "warn" logs it and uses the generic shape.
	OnShapeError = "on_shape_error"

	// OnOptError selects what happens when a rewriter fails: "warn" logs and continues,
	// "raise" aborts the rewrite, "ignore" continues silently.
	OnOptError = "on_opt_error"

	// RewriteMaxIterations caps the number of passes of the fixed-point rewrite driver.
	RewriteMaxIterations = "rewrite__max_iterations"

	// RewriteCheckGraph validates the graph (and attached shape index) after every accepted rewrite.
	RewriteCheckGraph = "rewrite__check_graph"

	// RewriteVerbose logs every rewrite applied.
	RewriteVerbose = "rewrite__verbose"
)

func (c *Config) addStandardOptions() error {
	for _, p := range []*Param{
		EnumParam(OnShapeError,
			"What to do when shape inference of a node fails with an unexpected error: "+
				"'raise' returns the error, 'warn' logs it and falls back to the generic shape.",
			"raise", "warn"),
		EnumParam(OnOptError,
			"What to do when a rewriter fails: 'warn' logs the error and continues, 'raise' aborts "+
				"the rewrite and returns the error, 'ignore' continues silently.",
			"warn", "raise", "ignore"),
		IntParam(RewriteMaxIterations,
			"Maximum number of passes over the graph of the fixed-point rewriter.",
			100, func(n int) bool { return n > 0 }),
		BoolParam(RewriteCheckGraph,
			"If true, the graph and its shape index are validated after every accepted rewrite. Slow, for debugging.",
			false),
		BoolParam(RewriteVerbose,
			"If true, every rewrite applied is logged.",
			false),
	} {
		if err := c.Add(p); err != nil {
			return err
		}
	}
	return nil
}
