package dlo

import "errors"

// Malformed-input failures. A frame that fails with one of these is skipped
// and the caller keeps its previous track state.
var (
	ErrEmptyObservation = errors.New("empty observation set")
	ErrEmptyNodes       = errors.New("empty node set")
	ErrGeodesicLength   = errors.New("geodesic coordinates do not match node count")
	ErrTooFewNodes      = errors.New("too few nodes for geodesic registration")
	ErrPriorIndex       = errors.New("correspondence prior references unknown node")
	ErrInvalidConfig    = errors.New("invalid registration config")
)
