// Package tools provides the built-in data-quality tool set used by the
// workflow engine: profiling a dataset, flagging out-of-bounds values,
// deriving remediation rules, and applying those rules.
//
// All tools are deterministic and rule-based. They read and write state
// using JSON conventions (datasets are []any, numbers are float64, nulls
// are nil) so the same graphs behave identically whether state arrives
// from Go code or from a decoded JSON request.
//
// Register the whole set on a registry with RegisterBuiltins:
//
//	registry := engine.NewToolRegistry()
//	if err := tools.RegisterBuiltins(registry); err != nil {
//		log.Fatal(err)
//	}
package tools
