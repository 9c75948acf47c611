// Package sqlite implements the run state store on SQLite.
//
// Runs are stored in a runs table; the execution log lives in a separate
// run_log table keyed by (run_id, seq) so appends never rewrite the run
// row. Use Path ":memory:" for tests.
package sqlite
