// Package sqlite persists tracking runs and their per-frame results.
//
// The schema is owned by the embedded migrations; Open applies any pending
// ones before returning.
package sqlite
