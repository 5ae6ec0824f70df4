package cpd

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/dlotrack/internal/dlo"
	"github.com/banshee-data/dlotrack/internal/dlo/lle"
)

const (
	dims = 3

	// minSigma2 keeps the variance strictly positive once nodes sit on
	// their observations and the trace identity cancels to ~0.
	minSigma2 = 1e-10

	// svdRcond is the relative singular value cutoff for the least-squares
	// fallback solve.
	svdRcond = 1e-12
)

// Register deforms in.Nodes toward in.Observed. The input slices are not
// modified.
//
// Each iteration computes responsibilities P (M×N) and solves
//
//	(diag(P1)·G + α·σ²·I + σ²·γ·H·G + σ²/ω·diag(P̃1)·G)·W =
//	    P·X − diag(P1)·Y0 − σ²·γ·H·Y0 + σ²/ω·(P̃·X − diag(P̃1)·Y0)
//
// for W, then sets Y = Y0 + G·W. The LLE term is present only with
// IncludeLLE and the prior (P̃) terms only when priors are enabled and
// supplied. Iteration stops when the summed squared node displacement falls
// below Tolerance or MaxIterations is reached.
//
// With Occluded non-empty, observations within AssociationThreshold
// (squared) of a prior spread their responsibility over the visible nodes
// and all others over the occluded nodes. When every node is occluded the
// prior-explained observations carry no node mass.
func Register(in Input, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if len(in.Observed) == 0 {
		return Result{}, dlo.ErrEmptyObservation
	}
	m := len(in.Nodes)
	if m == 0 {
		return Result{}, dlo.ErrEmptyNodes
	}
	for _, pr := range in.Priors {
		if pr.Node < 0 || pr.Node >= m {
			return Result{}, fmt.Errorf("%w: node %d of %d", dlo.ErrPriorIndex, pr.Node, m)
		}
	}
	for _, o := range in.Occluded {
		if o < 0 || o >= m {
			return Result{}, fmt.Errorf("%w: occluded node %d of %d", dlo.ErrInvalidConfig, o, m)
		}
	}
	if cfg.UseGeodesic && m < 3 {
		return Result{}, fmt.Errorf("%w: geodesic mode needs at least 3 nodes, got %d", dlo.ErrTooFewNodes, m)
	}
	coord := in.GeodesicCoord
	if coord != nil && len(coord) != m {
		return Result{}, fmt.Errorf("%w: %d coordinates for %d nodes", dlo.ErrGeodesicLength, len(coord), m)
	}
	if coord == nil {
		coord = in.Nodes.ArcLengths()
	}

	useECPD := cfg.UseECPD && len(in.Priors) > 0
	y0 := in.Nodes.Clone()
	x := in.Observed
	if useECPD {
		x = augment(in.Observed, in.Priors)
	}

	var g *mat.Dense
	if cfg.UseGeodesic {
		g = geodesicAffinity(cfg.Kernel, coord)
	} else {
		g = euclideanAffinity(cfg.Kernel, y0)
	}

	sigma2 := in.Sigma2
	if !cfg.UsePrevSigma2 || !(sigma2 > 0) || math.IsInf(sigma2, 0) {
		sigma2 = initialSigma2(y0, x)
	}
	sigma2 = clampSigma2(sigma2)

	xd := x.Dense()
	y0d := y0.Dense()

	var hg, hy0 *mat.Dense
	if cfg.IncludeLLE && cfg.Gamma > 0 {
		h := lle.Regularizer(lle.Weights(y0, cfg.LLEHalfWidth))
		hg = new(mat.Dense)
		hg.Mul(h, g)
		hy0 = new(mat.Dense)
		hy0.Mul(h, y0d)
	}

	var prior *priorTerms
	if useECPD {
		prior = newPriorTerms(m, in.Priors)
	}

	est := estep{
		mu:       cfg.Mu,
		geodesic: cfg.UseGeodesic,
		coord:    coord,
		occluded: in.Occluded,
	}
	if len(in.Occluded) > 0 {
		est.assoc = associations(x, in.Priors, cfg.AssociationThreshold)
	}

	y := y0.Clone()
	res := Result{}
	for it := 0; it < cfg.MaxIterations; it++ {
		res.Iterations = it + 1

		p := est.responsibilities(y, x, sigma2)
		p1 := rowSums(p)
		pt1 := colSums(p)
		np := floats.Sum(p1)
		if !(np > 0) {
			dlo.Diagf("cpd: no responsibility mass at iteration %d (sigma2=%g), stopping", it, sigma2)
			break
		}

		var px mat.Dense
		px.Mul(p, xd)

		a := mat.NewDense(m, m, nil)
		for i := 0; i < m; i++ {
			for j := 0; j < m; j++ {
				a.Set(i, j, p1[i]*g.At(i, j))
			}
			a.Set(i, i, a.At(i, i)+cfg.Alpha*sigma2)
		}
		b := mat.NewDense(m, dims, nil)
		b.Copy(&px)
		for i := 0; i < m; i++ {
			for d := 0; d < dims; d++ {
				b.Set(i, d, b.At(i, d)-p1[i]*y0d.At(i, d))
			}
		}
		if hg != nil {
			var t mat.Dense
			t.Scale(sigma2*cfg.Gamma, hg)
			a.Add(a, &t)
			t.Reset()
			t.Scale(sigma2*cfg.Gamma, hy0)
			b.Sub(b, &t)
		}
		if prior != nil {
			prior.apply(a, b, g, y0d, sigma2/cfg.Omega)
		}

		w, err := solve(a, b)
		if err != nil {
			dlo.Opsf("cpd: M-step solve failed at iteration %d: %v", it, err)
			break
		}
		var gw mat.Dense
		gw.Mul(g, w)
		next := make(dlo.PointSet, m)
		for i := 0; i < m; i++ {
			next[i] = dlo.Point{
				X: y0[i].X + gw.At(i, 0),
				Y: y0[i].Y + gw.At(i, 1),
				Z: y0[i].Z + gw.At(i, 2),
			}
		}

		sigma2 = updateSigma2(x, &px, pt1, p1, next, np)
		disp := dlo.SquaredDisplacement(y, next)
		y = next
		dlo.Tracef("cpd: iteration %d displacement=%g sigma2=%g", it, disp, sigma2)
		if disp < cfg.Tolerance {
			res.Converged = true
			break
		}
	}

	res.Nodes = y
	res.Sigma2 = sigma2
	if !res.Converged {
		dlo.Diagf("cpd: not converged after %d iterations (sigma2=%g)", res.Iterations, sigma2)
	}
	return res, nil
}

// augment appends prior points to the observation set so they participate
// in the E-step like any other observation.
func augment(x dlo.PointSet, priors []Prior) dlo.PointSet {
	out := make(dlo.PointSet, 0, len(x)+len(priors))
	out = append(out, x...)
	for _, pr := range priors {
		out = append(out, pr.Point)
	}
	return out
}

// initialSigma2 is the mean squared node/point distance per dimension.
func initialSigma2(y, x dlo.PointSet) float64 {
	var sum float64
	for _, yi := range y {
		for _, xj := range x {
			sum += yi.DistSq(xj)
		}
	}
	return sum / float64(dims*len(y)*len(x))
}

func clampSigma2(s float64) float64 {
	if math.IsNaN(s) || s < minSigma2 {
		return minSigma2
	}
	return s
}

// updateSigma2 evaluates
//
//	(Σ Pt1·‖x‖² − 2·tr((P·X)ᵀ·T) + Σ P1·‖t‖²) / (Np·D).
func updateSigma2(x dlo.PointSet, px *mat.Dense, pt1, p1 []float64, t dlo.PointSet, np float64) float64 {
	var xx, cross, tt float64
	for j, xj := range x {
		xx += pt1[j] * xj.Dot(xj)
	}
	for i, ti := range t {
		cross += px.At(i, 0)*ti.X + px.At(i, 1)*ti.Y + px.At(i, 2)*ti.Z
		tt += p1[i] * ti.Dot(ti)
	}
	return clampSigma2((xx - 2*cross + tt) / (np * dims))
}

// priorTerms holds P̃·1 and P̃·X for the binary prior assignment P̃ whose
// entry (node, N+k) is 1 for the k-th prior.
type priorTerms struct {
	count []float64
	sum   *mat.Dense
}

func newPriorTerms(m int, priors []Prior) *priorTerms {
	pt := &priorTerms{
		count: make([]float64, m),
		sum:   mat.NewDense(m, dims, nil),
	}
	for _, pr := range priors {
		i := pr.Node
		pt.count[i]++
		pt.sum.Set(i, 0, pt.sum.At(i, 0)+pr.Point.X)
		pt.sum.Set(i, 1, pt.sum.At(i, 1)+pr.Point.Y)
		pt.sum.Set(i, 2, pt.sum.At(i, 2)+pr.Point.Z)
	}
	return pt
}

// apply adds scale·diag(P̃1)·G to a and scale·(P̃X − diag(P̃1)·Y0) to b.
func (pt *priorTerms) apply(a, b, g, y0 *mat.Dense, scale float64) {
	m, _ := a.Dims()
	for i := 0; i < m; i++ {
		c := pt.count[i]
		if c == 0 {
			continue
		}
		for j := 0; j < m; j++ {
			a.Set(i, j, a.At(i, j)+scale*c*g.At(i, j))
		}
		for d := 0; d < dims; d++ {
			b.Set(i, d, b.At(i, d)+scale*(pt.sum.At(i, d)-c*y0.At(i, d)))
		}
	}
}

// solve returns W with A·W = B, falling back to a minimum-norm
// least-squares solution when A is singular or badly conditioned.
func solve(a, b *mat.Dense) (*mat.Dense, error) {
	var w mat.Dense
	err := w.Solve(a, b)
	if err == nil {
		return &w, nil
	}
	dlo.Tracef("cpd: direct solve: %v, using least squares", err)

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("svd factorization failed")
	}
	_, ac := a.Dims()
	_, bc := b.Dims()
	rank := svd.Rank(svdRcond)
	if rank == 0 {
		return mat.NewDense(ac, bc, nil), nil
	}
	var ls mat.Dense
	svd.SolveTo(&ls, b, rank)
	return &ls, nil
}

func rowSums(p *mat.Dense) []float64 {
	m, _ := p.Dims()
	out := make([]float64, m)
	for i := range out {
		out[i] = floats.Sum(p.RawRowView(i))
	}
	return out
}

func colSums(p *mat.Dense) []float64 {
	m, n := p.Dims()
	out := make([]float64, n)
	for i := 0; i < m; i++ {
		floats.Add(out, p.RawRowView(i))
	}
	return out
}
