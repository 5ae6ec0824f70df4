package dlo

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is a position in the camera frame (metres).
type Point struct {
	X, Y, Z float64
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z}
}

// Scale returns p scaled by s.
func (p Point) Scale(s float64) Point {
	return Point{X: p.X * s, Y: p.Y * s, Z: p.Z * s}
}

// Dot returns the dot product of p and q.
func (p Point) Dot(q Point) float64 {
	return p.X*q.X + p.Y*q.Y + p.Z*q.Z
}

// DistSq returns the squared Euclidean distance between p and q.
func (p Point) DistSq(q Point) float64 {
	d := p.Sub(q)
	return d.Dot(d)
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Sqrt(p.DistSq(q))
}

// PointSet is an ordered sequence of points. For node sets the order is
// the object's topology: consecutive entries are adjacent along the object.
type PointSet []Point

// Clone returns a copy of ps that shares no storage with it.
func (ps PointSet) Clone() PointSet {
	if ps == nil {
		return nil
	}
	out := make(PointSet, len(ps))
	copy(out, ps)
	return out
}

// Subset returns the points at the given indices, in index order.
func (ps PointSet) Subset(indices []int) PointSet {
	out := make(PointSet, len(indices))
	for i, idx := range indices {
		out[i] = ps[idx]
	}
	return out
}

// Centroid returns the mean position of ps, or the origin for an empty set.
func (ps PointSet) Centroid() Point {
	if len(ps) == 0 {
		return Point{}
	}
	var c Point
	for _, p := range ps {
		c = c.Add(p)
	}
	return c.Scale(1 / float64(len(ps)))
}

// ArcLengths returns the cumulative arc length along ps. The first entry is
// always 0 and the sequence is non-decreasing; nil for an empty set.
func (ps PointSet) ArcLengths() []float64 {
	if len(ps) == 0 {
		return nil
	}
	coord := make([]float64, len(ps))
	for i := 1; i < len(ps); i++ {
		coord[i] = coord[i-1] + ps[i].Dist(ps[i-1])
	}
	return coord
}

// SquaredDisplacement returns the summed squared distance between
// corresponding points of a and b. Both sets must have equal length.
func SquaredDisplacement(a, b PointSet) float64 {
	var sum float64
	for i := range a {
		sum += a[i].DistSq(b[i])
	}
	return sum
}

// Dense packs ps into an len(ps)×3 matrix, one point per row.
func (ps PointSet) Dense() *mat.Dense {
	data := make([]float64, 0, 3*len(ps))
	for _, p := range ps {
		data = append(data, p.X, p.Y, p.Z)
	}
	return mat.NewDense(len(ps), 3, data)
}

// PointSetFromDense unpacks an r×3 matrix into a PointSet.
func PointSetFromDense(m mat.Matrix) PointSet {
	r, _ := m.Dims()
	out := make(PointSet, r)
	for i := 0; i < r; i++ {
		out[i] = Point{X: m.At(i, 0), Y: m.At(i, 1), Z: m.At(i, 2)}
	}
	return out
}
