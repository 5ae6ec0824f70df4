package dlo

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// IndexedPoint is a kd-tree entry remembering its index in the source set.
type IndexedPoint struct {
	Point
	Index int
}

// Compare implements the kdtree.Comparable interface
func (p IndexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(IndexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p IndexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p IndexedPoint) Distance(c kdtree.Comparable) float64 {
	return p.DistSq(c.(IndexedPoint).Point)
}

// indexedPoints satisfies kdtree.Interface.
type indexedPoints []IndexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{indexedPoints: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{indexedPoints: p, Dim: d}, 100))
}

// pointPlane implements kdtree.SortSlicer for indexedPoints.
type pointPlane struct {
	indexedPoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	a, b := p.indexedPoints[i], p.indexedPoints[j]
	switch p.Dim {
	case 0:
		return a.X < b.X
	case 1:
		return a.Y < b.Y
	case 2:
		return a.Z < b.Z
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// Tree answers nearest-point queries over a fixed PointSet by source index.
type Tree struct {
	tree *kdtree.Tree
}

// NewTree builds a kd-tree over ps. ps is not modified.
func NewTree(ps PointSet) *Tree {
	if len(ps) == 0 {
		return &Tree{}
	}
	entries := make(indexedPoints, len(ps))
	for i, p := range ps {
		entries[i] = IndexedPoint{Point: p, Index: i}
	}
	return &Tree{tree: kdtree.New(entries, false)}
}

// Nearest returns the index and squared distance of the point nearest q
// that is strictly closer than limit2 and accepted by keep (nil keeps
// everything). Equidistant candidates resolve to the lower index. The index
// is -1 when nothing qualifies.
func (t *Tree) Nearest(q Point, limit2 float64, keep func(i int) bool) (int, float64) {
	if t == nil || t.tree == nil {
		return -1, math.Inf(1)
	}
	k := &nearestKeeper{limit: limit2, keep: keep}
	k.Heap = kdtree.Heap{{Dist: limit2}}
	t.tree.NearestSet(k, IndexedPoint{Point: q, Index: -1})
	if k.Len() == 0 {
		return -1, math.Inf(1)
	}
	best, ok := k.Heap[0].Comparable.(IndexedPoint)
	if !ok {
		return -1, math.Inf(1)
	}
	return best.Index, k.Heap[0].Dist
}

// Within returns the indices of all points strictly closer than limit2 to
// q, nearest first with ties by index.
func (t *Tree) Within(q Point, limit2 float64) []int {
	if t == nil || t.tree == nil {
		return nil
	}
	k := kdtree.NewDistKeeper(limit2)
	t.tree.NearestSet(k, IndexedPoint{Point: q, Index: -1})
	found := make([]kdtree.ComparableDist, 0, k.Len())
	for _, cd := range k.Heap {
		if _, ok := cd.Comparable.(IndexedPoint); ok && cd.Dist < limit2 {
			found = append(found, cd)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Dist != found[j].Dist {
			return found[i].Dist < found[j].Dist
		}
		return found[i].Comparable.(IndexedPoint).Index < found[j].Comparable.(IndexedPoint).Index
	})
	out := make([]int, len(found))
	for i, cd := range found {
		out[i] = cd.Comparable.(IndexedPoint).Index
	}
	return out
}

// nearestKeeper is a kdtree.Keeper retaining the single best accepted
// point. Its heap holds exactly one entry: the current best, or a sentinel
// at the distance limit until something is accepted.
type nearestKeeper struct {
	kdtree.Heap
	limit float64
	keep  func(int) bool
}

func (k *nearestKeeper) Keep(c kdtree.ComparableDist) {
	p, ok := c.Comparable.(IndexedPoint)
	if !ok || c.Dist >= k.limit {
		return
	}
	if k.keep != nil && !k.keep(p.Index) {
		return
	}
	cur := k.Heap[0]
	if curPt, ok := cur.Comparable.(IndexedPoint); ok {
		if c.Dist > cur.Dist || (c.Dist == cur.Dist && p.Index > curPt.Index) {
			return
		}
	}
	k.Heap[0] = c
}

func (k *nearestKeeper) Max() kdtree.ComparableDist { return k.Heap[0] }
