package cpd

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/dlotrack/internal/dlo"
)

// estep computes the responsibility matrix for one iteration.
type estep struct {
	mu       float64
	geodesic bool
	coord    []float64

	occluded []int
	// assoc flags observations lying near a correspondence prior; nil
	// means none do.
	assoc []bool
}

// responsibilities returns P (M×N), P[m][n] being the posterior that
// observation n was generated by node m. Columns whose unnormalised mass
// and outlier term are both zero stay zero.
func (e estep) responsibilities(y, x dlo.PointSet, sigma2 float64) *mat.Dense {
	m, n := len(y), len(x)
	p := mat.NewDense(m, n, nil)
	d2 := make([]float64, m)
	for j, xj := range x {
		for i, yi := range y {
			d2[i] = yi.DistSq(xj)
		}
		if e.geodesic {
			e.geodesicColumn(d2)
		}
		for i, d := range d2 {
			p.Set(i, j, math.Exp(-0.5*d/sigma2))
		}
	}

	c := math.Pow(2*math.Pi*sigma2, dims/2.0) * e.mu / (1 - e.mu)
	visible, nVisible := visibility(m, e.occluded)
	if nVisible < m {
		e.reweight(p, visible, nVisible)
		c /= float64(n)
	} else {
		c *= float64(m) / float64(n)
	}
	normalizeColumns(p, c)
	return p
}

// geodesicColumn replaces the squared Euclidean distances from one
// observation to every node with squared along-chain distances. The
// observation is attached to its nearest node and the closer of that node's
// chain neighbours; every other node is reached by walking the chain from
// whichever attachment is on its side; a node between the two attachments
// takes the shorter of both walks. At the chain ends the missing neighbour
// is replaced by the node two steps inward. It returns the attachment pair
// in chain order.
func (e estep) geodesicColumn(d2 []float64) (lo, hi int) {
	m := len(d2)
	best := floats.MinIdx(d2)
	before, after := best-1, best+1
	if before < 0 {
		before = best + 2
	}
	if after >= m {
		after = best - 2
	}
	next := before
	if d2[after] < d2[before] {
		next = after
	}

	lo, hi = best, next
	if lo > hi {
		lo, hi = hi, lo
	}
	eLo, eHi := math.Sqrt(d2[lo]), math.Sqrt(d2[hi])
	for i := range d2 {
		viaLo := math.Abs(e.coord[i]-e.coord[lo]) + eLo
		viaHi := math.Abs(e.coord[i]-e.coord[hi]) + eHi
		var g float64
		switch {
		case i <= lo:
			g = viaLo
		case i >= hi:
			g = viaHi
		default:
			g = math.Min(viaLo, viaHi)
		}
		d2[i] = g * g
	}
	return lo, hi
}

// reweight scales responsibilities so that observations explained by a
// prior spread over the visible nodes and the remainder over the occluded
// ones. With no visible node, explained observations lose all node mass.
func (e estep) reweight(p *mat.Dense, visible []bool, nVisible int) {
	m, n := p.Dims()
	nOccluded := m - nVisible
	for j := 0; j < n; j++ {
		assoc := e.assoc != nil && e.assoc[j]
		for i := 0; i < m; i++ {
			var w float64
			switch {
			case assoc && visible[i]:
				w = 1 / float64(nVisible)
			case !assoc && !visible[i]:
				w = 1 / float64(nOccluded)
			}
			p.Set(i, j, p.At(i, j)*w)
		}
	}
}

// associations flags each observation whose squared distance to the
// nearest prior is below threshold.
func associations(x dlo.PointSet, priors []Prior, threshold float64) []bool {
	if len(priors) == 0 {
		return nil
	}
	anchors := make(dlo.PointSet, len(priors))
	for k, pr := range priors {
		anchors[k] = pr.Point
	}
	tree := dlo.NewTree(anchors)
	out := make([]bool, len(x))
	for j, xj := range x {
		idx, _ := tree.Nearest(xj, threshold, nil)
		out[j] = idx >= 0
	}
	return out
}

// visibility expands an occluded index list into a per-node mask.
func visibility(m int, occluded []int) ([]bool, int) {
	visible := make([]bool, m)
	for i := range visible {
		visible[i] = true
	}
	count := m
	for _, o := range occluded {
		if visible[o] {
			visible[o] = false
			count--
		}
	}
	return visible, count
}

func normalizeColumns(p *mat.Dense, c float64) {
	m, n := p.Dims()
	col := make([]float64, m)
	for j := 0; j < n; j++ {
		mat.Col(col, j, p)
		den := floats.Sum(col) + c
		if den == 0 {
			continue
		}
		for i := 0; i < m; i++ {
			p.Set(i, j, col[i]/den)
		}
	}
}
