// Package cloud holds point-cloud preprocessing applied before tracking.
package cloud

import (
	"math"

	"github.com/banshee-data/dlotrack/internal/dlo"
)

type voxelKey [3]int64

type voxelAccum struct {
	sum       dlo.Point
	count     int
	best      int
	bestDist2 float64
}

// VoxelGrid downsamples points on a cubic grid of the given leaf size.
// Each occupied voxel keeps the input point closest to the voxel centroid,
// so output points are always real observations. Output follows the order
// in which voxels are first seen. Returns nil for empty input and a copy
// of the input when leafSize <= 0.
func VoxelGrid(points dlo.PointSet, leafSize float64) dlo.PointSet {
	if len(points) == 0 {
		return nil
	}
	if leafSize <= 0 || math.IsNaN(leafSize) {
		return points.Clone()
	}

	inv := 1 / leafSize
	keyOf := func(p dlo.Point) voxelKey {
		return voxelKey{
			int64(math.Floor(p.X * inv)),
			int64(math.Floor(p.Y * inv)),
			int64(math.Floor(p.Z * inv)),
		}
	}

	voxels := make(map[voxelKey]*voxelAccum, len(points)/4)
	order := make([]voxelKey, 0, len(points)/4)
	for i, p := range points {
		k := keyOf(p)
		acc, ok := voxels[k]
		if !ok {
			acc = &voxelAccum{best: i, bestDist2: math.MaxFloat64}
			voxels[k] = acc
			order = append(order, k)
		}
		acc.sum = acc.sum.Add(p)
		acc.count++
	}

	for i, p := range points {
		acc := voxels[keyOf(p)]
		c := acc.sum.Scale(1 / float64(acc.count))
		if d2 := p.DistSq(c); d2 < acc.bestDist2 {
			acc.bestDist2 = d2
			acc.best = i
		}
	}

	out := make(dlo.PointSet, len(order))
	for i, k := range order {
		out[i] = points[voxels[k].best]
	}
	return out
}
