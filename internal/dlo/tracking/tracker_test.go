package tracking

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dlotrack/internal/dlo"
	"github.com/banshee-data/dlotrack/internal/dlo/occlusion"
)

const (
	ropeNodes   = 20
	ropeSpacing = 0.05
	imageW      = 320
	imageH      = 240
)

var testCam = dlo.Camera{P: [12]float64{300, 0, 160, 0, 0, 300, 120, 0, 0, 0, 1, 0}}

// ropePoint is the point at arc length s on a straight rope centred in
// front of the camera at z=1.
func ropePoint(s float64) dlo.Point {
	return dlo.Point{X: s - 0.475, Y: 0, Z: 1}
}

func ropeTruth() dlo.PointSet {
	out := make(dlo.PointSet, ropeNodes)
	for i := range out {
		out[i] = ropePoint(ropeSpacing * float64(i))
	}
	return out
}

// ropeCloud samples the rope every 5 mm over the full extent of every
// node's segment, skipping arc lengths in (gapLo, gapHi), then shifts and
// perturbs each point.
func ropeCloud(rng *rand.Rand, shift dlo.Point, noise, gapLo, gapHi float64) dlo.PointSet {
	var out dlo.PointSet
	for k := 0; k <= 200; k++ {
		s := -0.025 + 0.005*float64(k)
		if s > gapLo && s < gapHi {
			continue
		}
		p := ropePoint(s).Add(shift)
		p.X += rng.NormFloat64() * noise
		p.Y += rng.NormFloat64() * noise
		p.Z += rng.NormFloat64() * noise
		out = append(out, p)
	}
	return out
}

func fieldFor(x dlo.PointSet, radius int) *occlusion.Field {
	return occlusion.DistanceTransform(occlusion.MaskFromPoints(x, testCam, imageW, imageH, radius))
}

func TestStepStraightRope(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	truth := ropeTruth()
	shift := dlo.Point{Y: 0.004}
	x := ropeCloud(rng, shift, 0.001, 1, 1)

	state := NewTrackState(truth, 1e-4)
	tracker := NewTracker(DefaultTrackerConfig(), testCam)

	res, err := tracker.Step(x, state, fieldFor(x, 2))
	require.NoError(t, err)
	assert.True(t, res.Converged, "warnings: %v", res.Warnings)
	assert.Len(t, res.Visible, ropeNodes)
	assert.Empty(t, res.Occluded)
	assert.Len(t, res.Priors, ropeNodes)
	assert.Len(t, res.GuideNodes, ropeNodes)
	assert.Equal(t, uint64(1), state.Version)

	for i, p := range state.Nodes {
		assert.Less(t, p.Dist(truth[i].Add(shift)), 0.01, "node %d at %+v", i, p)
	}
	assert.Greater(t, state.Sigma2, 0.0)
	assert.False(t, math.IsInf(state.Sigma2, 0))
}

func TestStepOccludedMiddleThird(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	truth := ropeTruth()
	// Nodes 7-12 have no observations near them.
	x := ropeCloud(rng, dlo.Point{}, 0.001, 0.326, 0.624)

	cfg := DefaultTrackerConfig()
	cfg.MaskDistThreshold = 4
	state := NewTrackState(truth, 1e-4)
	tracker := NewTracker(cfg, testCam)

	res, err := tracker.Step(x, state, fieldFor(x, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8, 9, 10, 11, 12}, res.Occluded)
	assert.True(t, res.Converged, "warnings: %v", res.Warnings)
	assert.False(t, res.GuideSkipped)

	for i := 1; i < len(state.Nodes); i++ {
		seg := state.Nodes[i].Dist(state.Nodes[i-1])
		assert.LessOrEqual(t, seg, 1.5*ropeSpacing, "segment %d-%d", i-1, i)
	}
	for _, i := range res.Occluded {
		assert.Less(t, state.Nodes[i].Dist(truth[i]), 0.02, "occluded node %d drifted", i)
	}
}

func TestStepWithoutField(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := ropeCloud(rng, dlo.Point{}, 0.001, 1, 1)
	state := NewTrackState(ropeTruth(), 1e-4)

	res, err := NewTracker(DefaultTrackerConfig(), testCam).Step(x, state, nil)
	require.NoError(t, err)
	assert.Len(t, res.Visible, ropeNodes)
	assert.Nil(t, res.Occluded)
}

func TestStepTooFewVisibleSkipsGuide(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	truth := ropeTruth()
	x := ropeCloud(rng, dlo.Point{}, 0.001, 1, 1)
	// The mask comes from a cloud 20 cm away, so every node is occluded.
	far := ropeCloud(rng, dlo.Point{Y: 0.2}, 0, 1, 1)

	state := NewTrackState(truth, 1e-4)
	res, err := NewTracker(DefaultTrackerConfig(), testCam).Step(x, state, fieldFor(far, 1))
	require.NoError(t, err)
	assert.True(t, res.GuideSkipped)
	assert.Empty(t, res.Visible)
	assert.Nil(t, res.Priors)
	assert.Nil(t, res.GuideNodes)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "guide pass skipped")
	assert.Equal(t, uint64(1), state.Version)
}

func TestStepNonConvergenceIsWarning(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := ropeCloud(rng, dlo.Point{Y: 0.02}, 0.001, 1, 1)

	cfg := DefaultTrackerConfig()
	cfg.Track.MaxIterations = 1
	cfg.Track.Tolerance = 0
	state := NewTrackState(ropeTruth(), 1e-4)

	res, err := NewTracker(cfg, testCam).Step(x, state, nil)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.NotEmpty(t, res.Warnings)
	assert.Equal(t, uint64(1), state.Version)
}

func TestStepMalformedInputKeepsState(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	x := ropeCloud(rng, dlo.Point{}, 0.001, 1, 1)
	tracker := NewTracker(DefaultTrackerConfig(), testCam)

	tests := []struct {
		name  string
		x     dlo.PointSet
		state func() *TrackState
		isErr error
	}{
		{"empty observation", nil, func() *TrackState { return NewTrackState(ropeTruth(), 1e-4) }, dlo.ErrEmptyObservation},
		{"empty nodes", x, func() *TrackState { return NewTrackState(nil, 1e-4) }, dlo.ErrEmptyNodes},
		{"nil state", x, func() *TrackState { return nil }, dlo.ErrEmptyNodes},
		{"short geodesic", x, func() *TrackState {
			s := NewTrackState(ropeTruth(), 1e-4)
			s.GeodesicCoord = s.GeodesicCoord[:5]
			return s
		}, dlo.ErrGeodesicLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := tt.state()
			before := state.Clone()
			res, err := tracker.Step(tt.x, state, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.isErr), "got %v", err)
			assert.Nil(t, res)
			if diff := cmp.Diff(before, state); diff != "" {
				t.Errorf("state changed (-before +after):\n%s", diff)
			}
		})
	}
}

func TestTrackStateClone(t *testing.T) {
	s := NewTrackState(ropeTruth(), 2e-4)
	s.Version = 7
	c := s.Clone()
	assert.Empty(t, cmp.Diff(s, c))

	c.Nodes[0].X = 99
	c.GeodesicCoord[1] = 99
	assert.NotEqual(t, 99.0, s.Nodes[0].X)
	assert.NotEqual(t, 99.0, s.GeodesicCoord[1])
	assert.InDelta(t, 0.95, s.Length(), 1e-9)

	var nilState *TrackState
	assert.Nil(t, nilState.Clone())
	assert.Equal(t, 0.0, nilState.Length())
}

func TestSegmentStats(t *testing.T) {
	t.Parallel()
	mean, longest := segmentStats(dlo.PointSet{{X: 0}, {X: 0.1}, {X: 0.4}})
	assert.InDelta(t, 0.2, mean, 1e-12)
	assert.InDelta(t, 0.3, longest, 1e-12)

	mean, longest = segmentStats(dlo.PointSet{{X: 1}})
	assert.Zero(t, mean)
	assert.Zero(t, longest)
}
