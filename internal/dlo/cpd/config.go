package cpd

import (
	"fmt"
	"math"

	"github.com/banshee-data/dlotrack/internal/dlo"
	"github.com/banshee-data/dlotrack/internal/dlo/lle"
)

// Config controls one Register call.
type Config struct {
	Kernel Kernel

	Alpha float64 // coherence weight on the deformation field
	Gamma float64 // weight of the LLE shape term
	Mu    float64 // uniform outlier weight in [0, 1)

	MaxIterations int
	Tolerance     float64 // on the summed squared node displacement per iteration

	IncludeLLE   bool
	LLEHalfWidth int

	// UseGeodesic switches the kernel distances and the E-step to
	// along-chain distance.
	UseGeodesic bool
	// UsePrevSigma2 keeps the supplied variance instead of re-estimating it
	// from the initial node/point spread.
	UsePrevSigma2 bool

	// UseECPD enables correspondence priors when any are supplied.
	UseECPD bool
	// Omega is the prior confidence; smaller values pull harder.
	Omega float64
	// AssociationThreshold is the squared distance below which an
	// observation is considered explained by a prior during occlusion
	// reweighting.
	AssociationThreshold float64
}

// DefaultConfig returns the parameters used by the per-frame tracking pass.
func DefaultConfig() Config {
	return Config{
		Kernel:               FirstOrder{Beta: 10},
		Alpha:                1,
		Gamma:                2,
		Mu:                   0.05,
		MaxIterations:        50,
		Tolerance:            1e-5,
		IncludeLLE:           true,
		LLEHalfWidth:         lle.DefaultHalfWidth,
		UseGeodesic:          true,
		UsePrevSigma2:        true,
		UseECPD:              true,
		Omega:                0.01,
		AssociationThreshold: 0.01,
	}
}

// Validate reports the first out-of-range parameter.
func (c Config) Validate() error {
	if c.Kernel == nil {
		return fmt.Errorf("%w: kernel is required", dlo.ErrInvalidConfig)
	}
	if b := c.Kernel.Bandwidth(); !(b > 0) || math.IsInf(b, 0) {
		return fmt.Errorf("%w: kernel bandwidth must be positive, got %v", dlo.ErrInvalidConfig, b)
	}
	if c.Alpha < 0 || math.IsNaN(c.Alpha) {
		return fmt.Errorf("%w: alpha must be non-negative, got %v", dlo.ErrInvalidConfig, c.Alpha)
	}
	if c.Gamma < 0 || math.IsNaN(c.Gamma) {
		return fmt.Errorf("%w: gamma must be non-negative, got %v", dlo.ErrInvalidConfig, c.Gamma)
	}
	if !(c.Mu >= 0 && c.Mu < 1) {
		return fmt.Errorf("%w: mu must be in [0, 1), got %v", dlo.ErrInvalidConfig, c.Mu)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be at least 1, got %d", dlo.ErrInvalidConfig, c.MaxIterations)
	}
	if c.Tolerance < 0 || math.IsNaN(c.Tolerance) {
		return fmt.Errorf("%w: tolerance must be non-negative, got %v", dlo.ErrInvalidConfig, c.Tolerance)
	}
	if c.UseECPD && !(c.Omega > 0) {
		return fmt.Errorf("%w: omega must be positive when priors are enabled, got %v", dlo.ErrInvalidConfig, c.Omega)
	}
	if c.AssociationThreshold < 0 {
		return fmt.Errorf("%w: association threshold must be non-negative, got %v", dlo.ErrInvalidConfig, c.AssociationThreshold)
	}
	return nil
}

// Prior anchors one node to a known 3-D position.
type Prior struct {
	Node  int
	Point dlo.Point
}

// Input is the per-call problem for Register.
type Input struct {
	Observed dlo.PointSet // X, N points
	Nodes    dlo.PointSet // Y0, M ordered nodes
	Sigma2   float64

	// GeodesicCoord is the cumulative along-chain distance of each node.
	// Computed from Nodes when nil.
	GeodesicCoord []float64
	Priors        []Prior
	// Occluded lists node indices that are not visible this frame. Empty
	// and nil are equivalent.
	Occluded []int
}

// Result is the outcome of Register. Converged is false when the
// iteration budget ran out or the loop stopped on a degenerate step; the
// nodes are still the best available estimate.
type Result struct {
	Nodes      dlo.PointSet
	Sigma2     float64
	Converged  bool
	Iterations int
}
