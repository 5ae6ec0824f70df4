package tracking

import (
	"fmt"

	"github.com/banshee-data/dlotrack/internal/dlo"
)

// TrackState is the persistent per-object estimate carried between frames.
type TrackState struct {
	Nodes  dlo.PointSet
	Sigma2 float64
	// GeodesicCoord is the along-chain coordinate of each node, fixed at
	// bootstrap so the chain keeps its rest length.
	GeodesicCoord []float64
	// Version increments on every committed frame.
	Version uint64
}

// NewTrackState builds a state for ordered nodes, recording their arc
// lengths as the geodesic coordinates.
func NewTrackState(nodes dlo.PointSet, sigma2 float64) *TrackState {
	n := nodes.Clone()
	return &TrackState{
		Nodes:         n,
		Sigma2:        sigma2,
		GeodesicCoord: n.ArcLengths(),
	}
}

// Clone returns a deep copy.
func (s *TrackState) Clone() *TrackState {
	if s == nil {
		return nil
	}
	c := &TrackState{
		Nodes:   s.Nodes.Clone(),
		Sigma2:  s.Sigma2,
		Version: s.Version,
	}
	if s.GeodesicCoord != nil {
		c.GeodesicCoord = append([]float64(nil), s.GeodesicCoord...)
	}
	return c
}

// Validate reports malformed state.
func (s *TrackState) Validate() error {
	if s == nil || len(s.Nodes) == 0 {
		return dlo.ErrEmptyNodes
	}
	if len(s.GeodesicCoord) != len(s.Nodes) {
		return fmt.Errorf("%w: %d coordinates for %d nodes", dlo.ErrGeodesicLength, len(s.GeodesicCoord), len(s.Nodes))
	}
	return nil
}

// Length returns the rest length of the chain.
func (s *TrackState) Length() float64 {
	if s == nil || len(s.GeodesicCoord) == 0 {
		return 0
	}
	return s.GeodesicCoord[len(s.GeodesicCoord)-1]
}
