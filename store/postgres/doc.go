// Package postgres implements the run state store on PostgreSQL.
//
// Run state is stored as JSONB; the execution log lives in a run_log table
// keyed by (run_id, seq). The DBPool interface allows substituting pgxmock
// in tests.
package postgres
