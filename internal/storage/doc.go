// Package storage persists execution history.
//
// It records what happened (trigger fires, task outcomes), never the jobs or
// triggers themselves; those are rebuilt from configuration on every start.
package storage
