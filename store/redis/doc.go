// Package redis implements the run state store on Redis.
//
// State, status and iteration count are stored as one JSON value per run;
// the execution log is a Redis list, so appends are O(1). An optional TTL
// expires finished runs automatically.
package redis
