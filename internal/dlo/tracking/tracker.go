package tracking

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/dlotrack/internal/dlo"
	"github.com/banshee-data/dlotrack/internal/dlo/cpd"
	"github.com/banshee-data/dlotrack/internal/dlo/occlusion"
)

// FrameResult carries the per-frame diagnostics that are not part of the
// persistent state.
type FrameResult struct {
	GuideNodes dlo.PointSet
	Priors     []cpd.Prior
	Visible    []int
	Occluded   []int

	Converged       bool
	GuideConverged  bool
	Iterations      int
	GuideIterations int
	GuideSkipped    bool

	// Warnings lists recoverable conditions such as non-convergence.
	Warnings []string
}

// Tracker runs the per-frame update against a fixed camera.
type Tracker struct {
	Config TrackerConfig
	cam    dlo.Camera
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(config TrackerConfig, cam dlo.Camera) *Tracker {
	return &Tracker{Config: config, cam: cam}
}

// Camera returns the projection used for visibility.
func (t *Tracker) Camera() dlo.Camera { return t.cam }

// Step advances state by one observation. field is the distance-to-mask
// image for this frame; nil treats every node as visible.
//
// On error the state is unchanged. On success Nodes and Sigma2 are replaced
// and Version is incremented, whether or not either pass converged.
func (t *Tracker) Step(x dlo.PointSet, state *TrackState, field *occlusion.Field) (*FrameResult, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, dlo.ErrEmptyObservation
	}

	res := &FrameResult{}
	m := len(state.Nodes)
	res.Visible, res.Occluded = occlusion.Classify(state.Nodes, t.cam, field, t.Config.MaskDistThreshold)

	track := cpd.Input{
		Observed:      x,
		Nodes:         state.Nodes,
		Sigma2:        state.Sigma2,
		GeodesicCoord: state.GeodesicCoord,
	}

	if len(res.Visible) >= t.Config.minVisible() {
		guide, err := cpd.Register(cpd.Input{
			Observed:      x,
			Nodes:         state.Nodes.Subset(res.Visible),
			Sigma2:        state.Sigma2 * t.Config.GuideSigma2Inflation,
			GeodesicCoord: subsetCoord(state.GeodesicCoord, res.Visible),
		}, t.Config.Guide)
		if err != nil {
			return nil, fmt.Errorf("guide pass: %w", err)
		}
		res.GuideNodes = guide.Nodes
		res.GuideConverged = guide.Converged
		res.GuideIterations = guide.Iterations
		if !guide.Converged {
			res.warn("guide pass did not converge in %d iterations", guide.Iterations)
		}

		res.Priors = make([]cpd.Prior, len(res.Visible))
		for k, idx := range res.Visible {
			res.Priors[k] = cpd.Prior{Node: idx, Point: guide.Nodes[k]}
		}
		track.Priors = res.Priors
		track.Occluded = res.Occluded
	} else {
		res.GuideSkipped = true
		res.warn("only %d of %d nodes visible, guide pass skipped", len(res.Visible), m)
	}

	out, err := cpd.Register(track, t.Config.Track)
	if err != nil {
		return nil, fmt.Errorf("track pass: %w", err)
	}
	res.Converged = out.Converged
	res.Iterations = out.Iterations
	if !out.Converged {
		res.warn("track pass did not converge in %d iterations", out.Iterations)
	}

	state.Nodes = out.Nodes
	state.Sigma2 = out.Sigma2
	state.Version++

	mean, longest := segmentStats(state.Nodes)
	dlo.Diagf("tracking: v%d points=%d visible=%d occluded=%d sigma2=%g iterations=%d/%d segment mean=%.4f max=%.4f",
		state.Version, len(x), len(res.Visible), len(res.Occluded), out.Sigma2,
		res.GuideIterations, res.Iterations, mean, longest)
	return res, nil
}

// segmentStats returns the mean and longest distance between consecutive
// nodes.
func segmentStats(nodes dlo.PointSet) (mean, longest float64) {
	if len(nodes) < 2 {
		return 0, 0
	}
	seg := make([]float64, len(nodes)-1)
	for i := range seg {
		seg[i] = nodes[i].Dist(nodes[i+1])
	}
	return stat.Mean(seg, nil), floats.Max(seg)
}

func (r *FrameResult) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, msg)
	dlo.Opsf("tracking: %s", msg)
}

func subsetCoord(coord []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = coord[idx]
	}
	return out
}
