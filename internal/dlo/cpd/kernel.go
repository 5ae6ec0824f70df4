package cpd

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/dlotrack/internal/dlo"
)

// Kernel is a motion-coherence kernel evaluated on pairwise node distance.
type Kernel interface {
	// Name is the configuration tag of the kernel.
	Name() string
	// Bandwidth returns beta.
	Bandwidth() float64
	// Eval returns the coupling between two nodes at distance d.
	Eval(d float64) float64
}

// Gaussian is exp(-d²/2β²).
type Gaussian struct{ Beta float64 }

// Laplacian is exp(-d/2β²).
type Laplacian struct{ Beta float64 }

// FirstOrder is the first-order spline-like kernel
// (√2·d + β)·exp(-√2·d/β) / 4β².
type FirstOrder struct{ Beta float64 }

// SecondOrder is the second-order spline-like kernel
// 27·(√3β² + 3βd + √3d²)·exp(-√3·d/β) / 72β³.
type SecondOrder struct{ Beta float64 }

func (Gaussian) Name() string    { return "gaussian" }
func (Laplacian) Name() string   { return "laplacian" }
func (FirstOrder) Name() string  { return "first_order" }
func (SecondOrder) Name() string { return "second_order" }

func (k Gaussian) Bandwidth() float64    { return k.Beta }
func (k Laplacian) Bandwidth() float64   { return k.Beta }
func (k FirstOrder) Bandwidth() float64  { return k.Beta }
func (k SecondOrder) Bandwidth() float64 { return k.Beta }

func (k Gaussian) Eval(d float64) float64 {
	return math.Exp(-d * d / (2 * k.Beta * k.Beta))
}

func (k Laplacian) Eval(d float64) float64 {
	return math.Exp(-d / (2 * k.Beta * k.Beta))
}

func (k FirstOrder) Eval(d float64) float64 {
	b := k.Beta
	return (math.Sqrt2*d + b) * math.Exp(-math.Sqrt2*d/b) / (4 * b * b)
}

func (k SecondOrder) Eval(d float64) float64 {
	b := k.Beta
	s3 := math.Sqrt(3)
	return 27 * (s3*b*b + 3*b*d + s3*d*d) * math.Exp(-s3*d/b) / (72 * b * b * b)
}

// ParseKernel maps a configuration tag to a kernel with bandwidth beta.
// Tags are case-insensitive; "1st_order"/"2nd_order" are accepted aliases.
func ParseKernel(name string, beta float64) (Kernel, error) {
	if beta <= 0 || math.IsNaN(beta) || math.IsInf(beta, 0) {
		return nil, fmt.Errorf("%w: kernel bandwidth must be positive, got %v", dlo.ErrInvalidConfig, beta)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gaussian", "":
		return Gaussian{Beta: beta}, nil
	case "laplacian":
		return Laplacian{Beta: beta}, nil
	case "first_order", "1st_order":
		return FirstOrder{Beta: beta}, nil
	case "second_order", "2nd_order":
		return SecondOrder{Beta: beta}, nil
	}
	return nil, fmt.Errorf("%w: unknown kernel %q", dlo.ErrInvalidConfig, name)
}

// affinity builds the symmetric m×m matrix G[i][j] = k(dist(i, j)).
func affinity(k Kernel, m int, dist func(i, j int) float64) *mat.Dense {
	g := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		g.Set(i, i, k.Eval(0))
		for j := i + 1; j < m; j++ {
			v := k.Eval(dist(i, j))
			g.Set(i, j, v)
			g.Set(j, i, v)
		}
	}
	return g
}

// euclideanAffinity couples nodes by straight-line distance.
func euclideanAffinity(k Kernel, nodes dlo.PointSet) *mat.Dense {
	return affinity(k, len(nodes), func(i, j int) float64 {
		return nodes[i].Dist(nodes[j])
	})
}

// geodesicAffinity couples nodes by along-chain distance.
func geodesicAffinity(k Kernel, coord []float64) *mat.Dense {
	return affinity(k, len(coord), func(i, j int) float64 {
		return math.Abs(coord[i] - coord[j])
	})
}
