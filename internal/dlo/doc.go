// Package dlo holds the shared primitives of the deformable linear object
// tracker: 3-D points and ordered point sets, arc-length helpers, the
// pinhole camera used for visibility checks, sentinel errors, and the
// ops/diag/trace log streams.
//
// Algorithm packages live underneath:
//   - ordering: chain ordering of an unstructured point set
//   - lle: locally-linear reconstruction weights
//   - cpd: Gaussian-mixture registration (bootstrap and tracking)
//   - tracking: per-frame orchestration and track state
//
// No SQL or rendering code is allowed in this package or the algorithm
// packages; see storage/sqlite and render.
package dlo
