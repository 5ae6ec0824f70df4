// Package lle computes locally-linear reconstruction weights for an
// ordered node chain: each node is expressed as an affine combination of
// its chain neighbours. The resulting matrix L feeds the shape-preserving
// regulariser H = (I-L)ᵗ(I-L) used by registration.
package lle

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/dlotrack/internal/dlo"
)

const (
	// DefaultHalfWidth is the number of chain neighbours taken on each side.
	DefaultHalfWidth = 3

	// Ridge is added to the Gram diagonal when it is singular.
	Ridge = 1e-5

	// maxGramCond is the condition number above which a Gram matrix is
	// treated as singular. Exact zero determinants are rare in floating
	// point, so numerically singular neighbourhoods are caught here.
	maxGramCond = 1e12
)

// NeighborWindow returns the chain indices used to reconstruct node i out
// of m nodes: 2k indices centred on i, with the window shifted inward near
// the chain ends so its size stays 2k. When the chain is shorter than
// 2k+1 every other node is used.
func NeighborWindow(i, m, k int) []int {
	size := 2*k + 1
	start := i - k
	if size > m {
		size = m
		start = 0
	}
	if start < 0 {
		start = 0
	}
	if start+size > m {
		start = m - size
	}

	out := make([]int, 0, size-1)
	for j := start; j < start+size; j++ {
		if j != i {
			out = append(out, j)
		}
	}
	return out
}

// Weights returns the m×m reconstruction matrix for nodes. Row i is zero
// outside NeighborWindow(i, m, k) and its entries sum to 1. A chain with a
// single node yields a zero matrix.
func Weights(nodes dlo.PointSet, k int) *mat.Dense {
	if k < 1 {
		k = DefaultHalfWidth
	}
	m := len(nodes)
	if m == 0 {
		return nil
	}
	w := mat.NewDense(m, m, nil)
	if m == 1 {
		return w
	}

	for i := range nodes {
		indices := NeighborWindow(i, m, k)
		row := solveRow(nodes, i, indices)
		for c, idx := range indices {
			w.Set(i, idx, row[c])
		}
	}
	return w
}

// solveRow computes unit-sum weights w = G⁻¹1 / (1ᵗG⁻¹1) reconstructing
// nodes[i] from nodes[indices].
func solveRow(nodes dlo.PointSet, i int, indices []int) []float64 {
	n := len(indices)

	// C has one column per neighbour: neighbour - node.
	c := mat.NewDense(3, n, nil)
	for col, idx := range indices {
		d := nodes[idx].Sub(nodes[i])
		c.Set(0, col, d.X)
		c.Set(1, col, d.Y)
		c.Set(2, col, d.Z)
	}
	var gram mat.Dense
	gram.Mul(c.T(), c)

	var lu mat.LU
	lu.Factorize(&gram)
	if det := lu.Det(); det == 0 || lu.Cond() > maxGramCond {
		for d := 0; d < n; d++ {
			gram.Set(d, d, gram.At(d, d)+Ridge)
		}
		lu.Factorize(&gram)
	}

	ones := mat.NewVecDense(n, nil)
	for d := 0; d < n; d++ {
		ones.SetVec(d, 1)
	}
	var x mat.VecDense
	if err := lu.SolveVecTo(&x, false, ones); err != nil {
		// Condition warnings still leave a usable solution in x; anything
		// else falls back to uniform weights.
		if _, ok := err.(mat.Condition); !ok {
			return uniform(n)
		}
	}

	sum := mat.Sum(&x)
	if sum == 0 {
		return uniform(n)
	}
	out := make([]float64, n)
	for d := 0; d < n; d++ {
		out[d] = x.AtVec(d) / sum
	}
	return out
}

func uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

// Regularizer returns H = (I-L)ᵗ(I-L) for an m×m weight matrix L.
func Regularizer(l mat.Matrix) *mat.Dense {
	m, _ := l.Dims()
	var diff mat.Dense
	diff.Sub(identity(m), l)
	var h mat.Dense
	h.Mul(diff.T(), &diff)
	return &h
}

func identity(m int) *mat.Dense {
	id := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		id.Set(i, i, 1)
	}
	return id
}
