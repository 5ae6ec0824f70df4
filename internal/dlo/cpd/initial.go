package cpd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/dlotrack/internal/dlo"
)

// InitConfig configures EstimateInitialNodes.
type InitConfig struct {
	Nodes      int
	Mu         float64
	Iterations int
}

// DefaultInitConfig returns the bootstrap mixture parameters.
func DefaultInitConfig() InitConfig {
	return InitConfig{Nodes: 20, Mu: 0.05, Iterations: 50}
}

// EstimateInitialNodes fits an unregularised isotropic Gaussian mixture of
// cfg.Nodes components to x and returns the component means and the final
// variance. Means start on a short line from the origin along the
// coordinate axis of greatest spread in x. The returned nodes are not
// ordered along the object.
func EstimateInitialNodes(x dlo.PointSet, cfg InitConfig) (dlo.PointSet, float64, error) {
	if len(x) == 0 {
		return nil, 0, dlo.ErrEmptyObservation
	}
	if cfg.Nodes < 1 {
		return nil, 0, fmt.Errorf("%w: node count must be positive, got %d", dlo.ErrInvalidConfig, cfg.Nodes)
	}
	if !(cfg.Mu >= 0 && cfg.Mu < 1) {
		return nil, 0, fmt.Errorf("%w: mu must be in [0, 1), got %v", dlo.ErrInvalidConfig, cfg.Mu)
	}
	if cfg.Iterations < 1 {
		return nil, 0, fmt.Errorf("%w: iterations must be positive, got %d", dlo.ErrInvalidConfig, cfg.Iterations)
	}

	m, n := cfg.Nodes, len(x)
	y := seedLine(m, spreadAxis(x))
	sigma2 := clampSigma2(initialSigma2(y, x))

	d2 := make([][]float64, m)
	p := make([][]float64, m)
	for i := range d2 {
		d2[i] = make([]float64, n)
		p[i] = make([]float64, n)
	}
	col := make([]float64, m)

	for it := 0; it < cfg.Iterations; it++ {
		for i, yi := range y {
			for j, xj := range x {
				d2[i][j] = yi.DistSq(xj)
				p[i][j] = math.Exp(-0.5 * d2[i][j] / sigma2)
			}
		}
		c := math.Pow(2*math.Pi*sigma2, dims/2.0) * cfg.Mu / (1 - cfg.Mu) * float64(m) / float64(n)
		for j := 0; j < n; j++ {
			for i := 0; i < m; i++ {
				col[i] = p[i][j]
			}
			den := floats.Sum(col) + c
			if den == 0 {
				continue
			}
			for i := 0; i < m; i++ {
				p[i][j] /= den
			}
		}

		var mass, weighted float64
		next := make(dlo.PointSet, m)
		for i := 0; i < m; i++ {
			p1 := floats.Sum(p[i])
			mass += p1
			weighted += floats.Dot(p[i], d2[i])
			if p1 == 0 {
				next[i] = y[i]
				continue
			}
			var acc dlo.Point
			for j, xj := range x {
				acc = acc.Add(xj.Scale(p[i][j]))
			}
			next[i] = acc.Scale(1 / p1)
		}
		y = next
		if !(mass > 0) {
			dlo.Diagf("cpd: bootstrap mixture lost all mass at iteration %d", it)
			break
		}
		sigma2 = clampSigma2(weighted / (mass * dims))
	}
	dlo.Diagf("cpd: bootstrap fit %d nodes to %d points, sigma2=%g", m, n, sigma2)
	return y, sigma2, nil
}

// spreadAxis returns 0, 1 or 2 for the coordinate with the largest
// variance in x.
func spreadAxis(x dlo.PointSet) int {
	cols := [dims][]float64{
		make([]float64, len(x)),
		make([]float64, len(x)),
		make([]float64, len(x)),
	}
	for i, p := range x {
		cols[0][i], cols[1][i], cols[2][i] = p.X, p.Y, p.Z
	}
	best, bestVar := 0, -1.0
	for d := 0; d < dims; d++ {
		v := stat.PopVariance(cols[d], nil)
		if v > bestVar {
			best, bestVar = d, v
		}
	}
	return best
}

// seedLine places m points 0.1/m apart from the origin along axis.
func seedLine(m, axis int) dlo.PointSet {
	step := 0.1 / float64(m)
	y := make(dlo.PointSet, m)
	for i := range y {
		v := step * float64(i)
		switch axis {
		case 0:
			y[i].X = v
		case 1:
			y[i].Y = v
		default:
			y[i].Z = v
		}
	}
	return y
}
