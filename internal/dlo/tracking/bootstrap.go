package tracking

import (
	"fmt"
	"math"

	"github.com/banshee-data/dlotrack/internal/dlo"
	"github.com/banshee-data/dlotrack/internal/dlo/cpd"
	"github.com/banshee-data/dlotrack/internal/dlo/ordering"
)

// Bootstrap builds the first TrackState from an unordered observation: a
// mixture fit places cfg.Init.Nodes nodes on the cloud and the nodes are
// then chained. Nodes the chain cannot reach are dropped, so the state may
// hold fewer nodes than requested. The chaining step is
// cfg.BootstrapOrderingMaxStep, or derived from the node spacing when that
// is zero.
func Bootstrap(x dlo.PointSet, cfg TrackerConfig) (*TrackState, error) {
	nodes, sigma2, err := cpd.EstimateInitialNodes(x, cfg.Init)
	if err != nil {
		return nil, err
	}
	step := cfg.BootstrapOrderingMaxStep
	if step <= 0 {
		step = nodeSpacingStep(nodes)
	}
	ordered := ordering.SortPoints(nodes, ordering.Options{MaxStep: step})
	if len(ordered) < len(nodes) {
		dlo.Opsf("tracking: bootstrap chain kept %d of %d nodes", len(ordered), len(nodes))
	}
	if len(ordered) < minGeodesicNodes {
		return nil, fmt.Errorf("%w: bootstrap chain kept %d of %d nodes", dlo.ErrTooFewNodes, len(ordered), len(nodes))
	}
	state := NewTrackState(ordered, sigma2)
	dlo.Diagf("tracking: bootstrapped %d nodes, length=%.4f sigma2=%g", len(ordered), state.Length(), sigma2)
	return state, nil
}

// bootstrapStepScale widens the derived bootstrap step over the node spacing.
const bootstrapStepScale = 1.5

// nodeSpacingStep is the chaining step for freshly fitted nodes: 1.5 times
// the larger of the widest nearest-neighbour gap and the bounding-box
// diagonal shared out over the links. The second term covers nodes that
// pair up with a wide gap between pairs.
func nodeSpacingStep(nodes dlo.PointSet) float64 {
	if len(nodes) < 2 {
		return 0
	}
	tree := dlo.NewTree(nodes)
	var widest float64
	for i, p := range nodes {
		other := func(j int) bool { return j != i }
		if _, d2 := tree.Nearest(p, math.Inf(1), other); d2 > widest {
			widest = d2
		}
	}
	lo, hi := nodes[0], nodes[0]
	for _, p := range nodes[1:] {
		lo = dlo.Point{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = dlo.Point{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	even := hi.Dist(lo) / float64(len(nodes)-1)
	return bootstrapStepScale * math.Max(math.Sqrt(widest), even)
}

// BootstrapFromKeypoints builds the first TrackState from manually
// identified keypoints. The keypoints are chained, their arc lengths become
// the geodesic coordinates, and one registration anchored by a prior on
// every keypoint fits them to the observation.
func BootstrapFromKeypoints(x, keypoints dlo.PointSet, cfg TrackerConfig) (*TrackState, error) {
	if len(x) == 0 {
		return nil, dlo.ErrEmptyObservation
	}
	if len(keypoints) == 0 {
		return nil, dlo.ErrEmptyNodes
	}
	ordered := ordering.SortPoints(keypoints, ordering.Options{MaxStep: cfg.OrderingMaxStep})
	if len(ordered) < len(keypoints) {
		dlo.Opsf("tracking: keypoint chain kept %d of %d keypoints", len(ordered), len(keypoints))
	}
	if len(ordered) < minGeodesicNodes {
		return nil, fmt.Errorf("%w: keypoint chain kept %d of %d keypoints", dlo.ErrTooFewNodes, len(ordered), len(keypoints))
	}

	state := NewTrackState(ordered, 0)
	priors := make([]cpd.Prior, len(ordered))
	for i, p := range ordered {
		priors[i] = cpd.Prior{Node: i, Point: p}
	}
	out, err := cpd.Register(cpd.Input{
		Observed:      x,
		Nodes:         state.Nodes,
		GeodesicCoord: state.GeodesicCoord,
		Priors:        priors,
	}, cfg.Keypoint)
	if err != nil {
		return nil, err
	}
	if !out.Converged {
		dlo.Opsf("tracking: keypoint registration did not converge in %d iterations", out.Iterations)
	}
	state.Nodes = out.Nodes
	state.Sigma2 = out.Sigma2
	dlo.Diagf("tracking: bootstrapped %d nodes from keypoints, length=%.4f sigma2=%g", len(ordered), state.Length(), out.Sigma2)
	return state, nil
}
