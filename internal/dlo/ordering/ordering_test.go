package ordering

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dlotrack/internal/dlo"
)

// lineFixture returns k points spaced uniformly along a 3-D line, shuffled
// with a fixed seed, plus the line position of every shuffled entry.
func lineFixture(k int, spacing float64, seed int64) (dlo.PointSet, []int) {
	dir := dlo.Point{X: 0.6, Y: 0.0, Z: 0.8}
	origin := dlo.Point{X: 0.1, Y: -0.2, Z: 0.7}
	linePos := rand.New(rand.NewSource(seed)).Perm(k)
	pts := make(dlo.PointSet, k)
	for i, pos := range linePos {
		pts[i] = origin.Add(dir.Scale(spacing * float64(pos)))
	}
	return pts, linePos
}

// linePositions maps a permutation of input indices to their line positions.
func linePositions(order, linePos []int) []int {
	out := make([]int, len(order))
	for i, idx := range order {
		out[i] = linePos[idx]
	}
	return out
}

func TestSort_UniformLine(t *testing.T) {
	t.Parallel()

	for _, seed := range []int64{1, 2, 3, 42, 1234} {
		pts, linePos := lineFixture(25, 0.01, seed)
		order := Sort(pts, Options{})
		require.Len(t, order, len(pts), "seed %d: no point may be dropped", seed)

		got := linePositions(order, linePos)
		forward := make([]int, len(pts))
		for i := range forward {
			forward[i] = i
		}
		reverse := slices.Clone(forward)
		slices.Reverse(reverse)

		if cmp.Diff(forward, got) != "" && cmp.Diff(reverse, got) != "" {
			t.Errorf("seed %d: chain is neither line order nor its reverse: %v", seed, got)
		}
	}
}

func TestSort_StartAtEndpoint(t *testing.T) {
	t.Parallel()

	pts := dlo.PointSet{
		{X: 0}, {X: 0.03}, {X: 0.01}, {X: 0.02}, {X: 0.04},
	}
	order := Sort(pts, Options{})
	if diff := cmp.Diff([]int{0, 2, 3, 1, 4}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_InteriorStartGrowsBothWays(t *testing.T) {
	t.Parallel()

	// Start (index 0) sits in the middle of the line.
	pts := dlo.PointSet{
		{X: 0.02}, {X: 0.00}, {X: 0.04}, {X: 0.03}, {X: 0.01},
	}
	order := Sort(pts, Options{})
	if diff := cmp.Diff([]int{1, 4, 0, 3, 2}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_GapDropsUnreachablePoints(t *testing.T) {
	t.Parallel()

	pts := dlo.PointSet{
		{X: 0}, {X: 0.01}, {X: 0.02},
		{X: 0.5}, {X: 0.51},
	}
	order := Sort(pts, Options{})
	if diff := cmp.Diff([]int{0, 1, 2}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	// A wider step reaches across the gap.
	order = Sort(pts, Options{MaxStep: 0.6})
	assert.Len(t, order, 5)
}

func TestSort_SmallInputs(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Sort(nil, Options{}))
	assert.Equal(t, []int{0}, Sort(dlo.PointSet{{X: 1}}, Options{}))
	assert.Equal(t, []int{0, 1}, Sort(dlo.PointSet{{X: 1}, {X: 5}}, Options{}))
}

func TestSortPoints(t *testing.T) {
	t.Parallel()

	pts := dlo.PointSet{{X: 0.02}, {X: 0.00}, {X: 0.01}}
	got := SortPoints(pts, Options{})
	require.Len(t, got, 3)
	assert.InDelta(t, 0.02, got[0].X, 1e-12)
	assert.InDelta(t, 0.01, got[1].X, 1e-12)
	assert.InDelta(t, 0.0, got[2].X, 1e-12)
}

func TestGrowthStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "searching", stateSearching.String())
	assert.Equal(t, "extending", stateExtending.String())
	assert.Equal(t, "terminated", stateTerminated.String())
	assert.Equal(t, "unknown", growthState(9).String())
}
