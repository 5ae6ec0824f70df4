// Package tracking owns the per-frame node tracking loop.
//
// Responsibilities: classifying nodes as visible or occluded, the two-pass
// registration (a visibility-restricted guide pass that produces
// correspondence priors, then the authoritative full pass), bootstrapping
// the first node chain, and committing updates to TrackState.
// Key types: TrackState, Tracker, FrameResult.
//
// TrackState has a single writer. A Step either commits a complete update
// and bumps the state version or returns an error and leaves the state
// untouched.
package tracking
