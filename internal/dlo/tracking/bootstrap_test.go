package tracking

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dlotrack/internal/config"
	"github.com/banshee-data/dlotrack/internal/dlo"
	"github.com/banshee-data/dlotrack/internal/dlo/cpd"
)

func shortRope(lo, hi float64) dlo.PointSet {
	var out dlo.PointSet
	for s := lo; s <= hi+1e-9; s += 0.002 {
		out = append(out, dlo.Point{X: s, Y: 0.05, Z: 0.8})
	}
	return out
}

func TestBootstrap(t *testing.T) {
	cfg := DefaultTrackerConfig()
	x := shortRope(0, 0.3)

	state, err := Bootstrap(x, cfg)
	require.NoError(t, err)
	require.Len(t, state.Nodes, 20)
	require.Len(t, state.GeodesicCoord, 20)
	assert.Equal(t, 0.0, state.GeodesicCoord[0])
	assert.Greater(t, state.Sigma2, 0.0)
	assert.Equal(t, uint64(0), state.Version)

	for i, p := range state.Nodes {
		assert.InDelta(t, 0.05, p.Y, 1e-6)
		assert.InDelta(t, 0.8, p.Z, 1e-6)
		if i > 0 {
			assert.Less(t, p.Dist(state.Nodes[i-1]), 0.03, "step %d", i)
		}
	}
	assert.InDelta(t, 0.285, state.Length(), 0.05)
}

func TestBootstrapLongRopeDefaults(t *testing.T) {
	cfg := DefaultTrackerConfig()
	var x dlo.PointSet
	for i := 0; i <= 190; i++ {
		x = append(x, dlo.Point{X: -0.475 + 0.005*float64(i), Y: 0.05, Z: 0.8})
	}

	state, err := Bootstrap(x, cfg)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(state.Nodes), cfg.Init.Nodes-2)
	assert.InDelta(t, 0.9, state.Length(), 0.1)
	for i := 1; i < len(state.Nodes); i++ {
		assert.Greater(t, state.GeodesicCoord[i], state.GeodesicCoord[i-1], "coord %d", i)
	}
}

func TestNodeSpacingStep(t *testing.T) {
	tests := []struct {
		name  string
		nodes dlo.PointSet
		want  float64
	}{
		{"single", dlo.PointSet{{X: 1}}, 0},
		{"even", dlo.PointSet{{X: 0}, {X: 0.05}, {X: 0.1}, {X: 0.15}}, 0.075},
		{"one wide gap", dlo.PointSet{{X: 0}, {X: 0.05}, {X: 0.2}, {X: 0.25}, {X: 0.3}}, 0.1125},
		{"paired", dlo.PointSet{{X: 0}, {X: 0.01}, {X: 0.1}, {X: 0.11}, {X: 0.2}, {X: 0.21}}, 0.063},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, nodeSpacingStep(tt.nodes), 1e-12)
		})
	}
}

func TestBootstrapErrors(t *testing.T) {
	cfg := DefaultTrackerConfig()

	_, err := Bootstrap(nil, cfg)
	assert.True(t, errors.Is(err, dlo.ErrEmptyObservation))

	// Nodes spread far beyond the ordering step cannot be chained.
	cfg.Init.Nodes = 4
	cfg.BootstrapOrderingMaxStep = 1e-4
	_, err = Bootstrap(shortRope(0, 1), cfg)
	assert.True(t, errors.Is(err, dlo.ErrTooFewNodes), "got %v", err)
}

func TestBootstrapFromKeypoints(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.OrderingMaxStep = 0.1

	x := shortRope(-0.035, 0.315)
	keypoints := dlo.PointSet{
		{X: 0.14, Y: 0.05, Z: 0.8},
		{X: 0.00, Y: 0.05, Z: 0.8},
		{X: 0.28, Y: 0.05, Z: 0.8},
		{X: 0.07, Y: 0.05, Z: 0.8},
		{X: 0.21, Y: 0.05, Z: 0.8},
	}

	state, err := BootstrapFromKeypoints(x, keypoints, cfg)
	require.NoError(t, err)
	require.Len(t, state.Nodes, 5)
	assert.InDelta(t, 0.28, state.Length(), 1e-9)
	assert.Greater(t, state.Sigma2, 0.0)

	want := []float64{0, 0.07, 0.14, 0.21, 0.28}
	nodes := state.Nodes
	if nodes[0].X > nodes[len(nodes)-1].X {
		nodes = nodes.Subset([]int{4, 3, 2, 1, 0})
	}
	for i, p := range nodes {
		assert.InDelta(t, want[i], p.X, 0.01, "node %d", i)
		assert.InDelta(t, 0.05, p.Y, 1e-3)
		assert.InDelta(t, 0.8, p.Z, 1e-3)
	}
}

func TestBootstrapFromKeypointsErrors(t *testing.T) {
	cfg := DefaultTrackerConfig()
	x := shortRope(0, 0.1)

	_, err := BootstrapFromKeypoints(nil, x[:3], cfg)
	assert.True(t, errors.Is(err, dlo.ErrEmptyObservation))
	_, err = BootstrapFromKeypoints(x, nil, cfg)
	assert.True(t, errors.Is(err, dlo.ErrEmptyNodes))
	_, err = BootstrapFromKeypoints(x, dlo.PointSet{{X: 0}, {X: 1}}, cfg)
	assert.True(t, errors.Is(err, dlo.ErrTooFewNodes))
}

func TestTrackerConfigFromTuning(t *testing.T) {
	tuning := config.EmptyTuningConfig()
	cfg, err := TrackerConfigFromTuning(tuning)
	require.NoError(t, err)

	assert.Equal(t, cpd.Gaussian{Beta: 10000}, cfg.Guide.Kernel)
	assert.Equal(t, cpd.FirstOrder{Beta: 10}, cfg.Track.Kernel)
	assert.True(t, cfg.Guide.UseGeodesic)
	assert.False(t, cfg.Guide.UseECPD)
	assert.False(t, cfg.Guide.IncludeLLE)
	assert.True(t, cfg.Track.IncludeLLE)
	assert.True(t, cfg.Track.UseECPD)
	assert.Equal(t, 0.01, cfg.Track.Omega)
	assert.Equal(t, 2.0, cfg.Track.Gamma)
	assert.Equal(t, 100.0, cfg.GuideSigma2Inflation)
	assert.Equal(t, 20, cfg.Init.Nodes)
	assert.Equal(t, 0.1, cfg.Keypoint.Omega)
	assert.False(t, cfg.Keypoint.UsePrevSigma2)

	bad := "cubic"
	tuning.TrackKernel = &bad
	_, err = TrackerConfigFromTuning(tuning)
	assert.Error(t, err)

	zero := 0.0
	tuning = config.EmptyTuningConfig()
	tuning.GuideSigma2Inflation = &zero
	_, err = TrackerConfigFromTuning(tuning)
	assert.Error(t, err)

	cfg.MinVisibleNodes = 1
	assert.Equal(t, 3, cfg.minVisible())
	assert.False(t, math.IsNaN(cfg.MaskDistThreshold))
}
