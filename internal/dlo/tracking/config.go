package tracking

import (
	"fmt"

	"github.com/banshee-data/dlotrack/internal/config"
	"github.com/banshee-data/dlotrack/internal/dlo/cpd"
)

// minGeodesicNodes is the smallest node subset the geodesic E-step accepts.
const minGeodesicNodes = 3

// TrackerConfig holds configuration parameters for the tracker and its
// bootstrap.
type TrackerConfig struct {
	Guide                cpd.Config // visibility-restricted guide pass
	Track                cpd.Config // authoritative full pass
	GuideSigma2Inflation float64    // guide pass starts at sigma2 times this
	MaskDistThreshold    float64    // pixels from the mask at which a node is occluded
	MinVisibleNodes      int        // below this the guide pass is skipped

	// Bootstrap params
	Init                     cpd.InitConfig
	OrderingMaxStep          float64    // metres, keypoint chaining
	BootstrapOrderingMaxStep float64    // metres, fitted-node chaining; 0 derives from spacing
	Keypoint                 cpd.Config // keypoint-anchored first registration
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found or holds an unusable value; intended
// for tests and binaries that have already validated config availability.
func DefaultTrackerConfig() TrackerConfig {
	cfg, err := TrackerConfigFromTuning(config.MustLoadDefaultConfig())
	if err != nil {
		panic(err)
	}
	return cfg
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func TrackerConfigFromTuning(cfg *config.TuningConfig) (TrackerConfig, error) {
	guideKernel, err := cpd.ParseKernel(cfg.GetGuideKernel(), cfg.GetGuideBeta())
	if err != nil {
		return TrackerConfig{}, fmt.Errorf("guide kernel: %w", err)
	}
	trackKernel, err := cpd.ParseKernel(cfg.GetTrackKernel(), cfg.GetTrackBeta())
	if err != nil {
		return TrackerConfig{}, fmt.Errorf("track kernel: %w", err)
	}
	keypointKernel, err := cpd.ParseKernel("gaussian", cfg.GetKeypointBeta())
	if err != nil {
		return TrackerConfig{}, fmt.Errorf("keypoint kernel: %w", err)
	}

	tc := TrackerConfig{
		Guide: cpd.Config{
			Kernel:               guideKernel,
			Alpha:                cfg.GetGuideAlpha(),
			Gamma:                cfg.GetGuideGamma(),
			Mu:                   cfg.GetGuideMu(),
			MaxIterations:        cfg.GetMaxIterations(),
			Tolerance:            cfg.GetTolerance(),
			IncludeLLE:           cfg.GetGuideIncludeLLE(),
			LLEHalfWidth:         cfg.GetLLEHalfWidth(),
			UseGeodesic:          true,
			UsePrevSigma2:        true,
			AssociationThreshold: cfg.GetPriorAssociationThreshold(),
		},
		Track: cpd.Config{
			Kernel:               trackKernel,
			Alpha:                cfg.GetTrackAlpha(),
			Gamma:                cfg.GetTrackGamma(),
			Mu:                   cfg.GetTrackMu(),
			MaxIterations:        cfg.GetMaxIterations(),
			Tolerance:            cfg.GetTolerance(),
			IncludeLLE:           true,
			LLEHalfWidth:         cfg.GetLLEHalfWidth(),
			UseGeodesic:          true,
			UsePrevSigma2:        true,
			UseECPD:              true,
			Omega:                cfg.GetTrackOmega(),
			AssociationThreshold: cfg.GetPriorAssociationThreshold(),
		},
		GuideSigma2Inflation: cfg.GetGuideSigma2Inflation(),
		MaskDistThreshold:    cfg.GetMaskDistThreshold(),
		MinVisibleNodes:      cfg.GetMinVisibleNodes(),
		Init: cpd.InitConfig{
			Nodes:      cfg.GetNodeCount(),
			Mu:         cfg.GetInitMu(),
			Iterations: cfg.GetInitIterations(),
		},
		OrderingMaxStep:          cfg.GetOrderingMaxStep(),
		BootstrapOrderingMaxStep: cfg.GetBootstrapOrderingMaxStep(),
		Keypoint: cpd.Config{
			Kernel:               keypointKernel,
			Alpha:                cfg.GetKeypointAlpha(),
			Gamma:                cfg.GetKeypointGamma(),
			Mu:                   cfg.GetTrackMu(),
			MaxIterations:        cfg.GetMaxIterations(),
			Tolerance:            cfg.GetTolerance(),
			IncludeLLE:           true,
			LLEHalfWidth:         cfg.GetLLEHalfWidth(),
			UseGeodesic:          true,
			UsePrevSigma2:        false,
			UseECPD:              true,
			Omega:                cfg.GetKeypointOmega(),
			AssociationThreshold: cfg.GetPriorAssociationThreshold(),
		},
	}
	return tc, tc.Validate()
}

// Validate checks every pass configuration.
func (c TrackerConfig) Validate() error {
	if err := c.Guide.Validate(); err != nil {
		return fmt.Errorf("guide pass: %w", err)
	}
	if err := c.Track.Validate(); err != nil {
		return fmt.Errorf("track pass: %w", err)
	}
	if err := c.Keypoint.Validate(); err != nil {
		return fmt.Errorf("keypoint pass: %w", err)
	}
	if !(c.GuideSigma2Inflation > 0) {
		return fmt.Errorf("guide sigma2 inflation must be positive, got %v", c.GuideSigma2Inflation)
	}
	if !(c.MaskDistThreshold > 0) {
		return fmt.Errorf("mask distance threshold must be positive, got %v", c.MaskDistThreshold)
	}
	return nil
}

func (c TrackerConfig) minVisible() int {
	if c.MinVisibleNodes < minGeodesicNodes {
		return minGeodesicNodes
	}
	return c.MinVisibleNodes
}
