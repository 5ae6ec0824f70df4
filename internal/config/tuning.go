package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// DefaultCameraProjection is the 3×4 row-major projection used when the
// tuning file does not supply one.
var DefaultCameraProjection = []float64{
	918.359130859375, 0, 645.8908081054688, 0,
	0, 916.265869140625, 354.02392578125, 0,
	0, 0, 1, 0,
}

// TuningConfig represents the root configuration for tracking parameters.
// Every field is optional; the Get* methods supply defaults for omitted
// fields so partial files are safe.
type TuningConfig struct {
	// Bootstrap and general params
	NodeCount                 *int     `json:"node_count,omitempty"`
	InitIterations            *int     `json:"init_iterations,omitempty"`
	InitMu                    *float64 `json:"init_mu,omitempty"`
	OrderingMaxStep           *float64 `json:"ordering_max_step,omitempty"`           // metres
	BootstrapOrderingMaxStep  *float64 `json:"bootstrap_ordering_max_step,omitempty"` // metres, 0 derives from node spacing
	LLEHalfWidth              *int     `json:"lle_half_width,omitempty"`
	MaxIterations             *int     `json:"max_iterations,omitempty"`
	Tolerance                 *float64 `json:"tolerance,omitempty"`
	PriorAssociationThreshold *float64 `json:"prior_association_threshold,omitempty"` // metres²
	MaskDistThreshold         *float64 `json:"mask_dist_threshold,omitempty"`         // pixels
	MinVisibleNodes           *int     `json:"min_visible_nodes,omitempty"`

	// Guide pass params
	GuideKernel          *string  `json:"guide_kernel,omitempty"`
	GuideBeta            *float64 `json:"guide_beta,omitempty"`
	GuideAlpha           *float64 `json:"guide_alpha,omitempty"`
	GuideGamma           *float64 `json:"guide_gamma,omitempty"`
	GuideMu              *float64 `json:"guide_mu,omitempty"`
	GuideSigma2Inflation *float64 `json:"guide_sigma2_inflation,omitempty"`
	GuideIncludeLLE      *bool    `json:"guide_include_lle,omitempty"`

	// Track pass params
	TrackKernel *string  `json:"track_kernel,omitempty"`
	TrackBeta   *float64 `json:"track_beta,omitempty"`
	TrackAlpha  *float64 `json:"track_alpha,omitempty"`
	TrackGamma  *float64 `json:"track_gamma,omitempty"`
	TrackMu     *float64 `json:"track_mu,omitempty"`
	TrackOmega  *float64 `json:"track_omega,omitempty"`

	// Keypoint bootstrap params
	KeypointBeta  *float64 `json:"keypoint_beta,omitempty"`
	KeypointAlpha *float64 `json:"keypoint_alpha,omitempty"`
	KeypointGamma *float64 `json:"keypoint_gamma,omitempty"`
	KeypointOmega *float64 `json:"keypoint_omega,omitempty"`

	// Camera and image params
	CameraProjection []float64 `json:"camera_projection,omitempty"` // 12 entries, row-major 3×4
	ImageWidth       *int      `json:"image_width,omitempty"`
	ImageHeight      *int      `json:"image_height,omitempty"`
	MaskPointRadius  *int      `json:"mask_point_radius,omitempty"` // pixels
	VoxelLeafSize    *float64  `json:"voxel_leaf_size,omitempty"`   // metres
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,             // from cmd/
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/dlo/tracking/
		"../../../../" + DefaultConfigPath,    // from internal/dlo/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

var kernelNames = map[string]bool{
	"gaussian":     true,
	"laplacian":    true,
	"first_order":  true,
	"1st_order":    true,
	"second_order": true,
	"2nd_order":    true,
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*int{
		"node_count":      c.NodeCount,
		"init_iterations": c.InitIterations,
		"lle_half_width":  c.LLEHalfWidth,
		"max_iterations":  c.MaxIterations,
		"image_width":     c.ImageWidth,
		"image_height":    c.ImageHeight,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}
	if c.MinVisibleNodes != nil && *c.MinVisibleNodes < 3 {
		return fmt.Errorf("min_visible_nodes must be at least 3, got %d", *c.MinVisibleNodes)
	}
	if c.MaskPointRadius != nil && *c.MaskPointRadius < 0 {
		return fmt.Errorf("mask_point_radius must be non-negative, got %d", *c.MaskPointRadius)
	}

	for name, v := range map[string]*float64{
		"init_mu":  c.InitMu,
		"guide_mu": c.GuideMu,
		"track_mu": c.TrackMu,
	} {
		if v != nil && !(*v >= 0 && *v < 1) {
			return fmt.Errorf("%s must be in [0, 1), got %v", name, *v)
		}
	}

	for name, v := range map[string]*float64{
		"ordering_max_step":      c.OrderingMaxStep,
		"guide_beta":             c.GuideBeta,
		"guide_sigma2_inflation": c.GuideSigma2Inflation,
		"track_beta":             c.TrackBeta,
		"track_omega":            c.TrackOmega,
		"keypoint_beta":          c.KeypointBeta,
		"keypoint_omega":         c.KeypointOmega,
		"mask_dist_threshold":    c.MaskDistThreshold,
	} {
		if v != nil && !(*v > 0 && !math.IsInf(*v, 1)) {
			return fmt.Errorf("%s must be positive, got %v", name, *v)
		}
	}

	for name, v := range map[string]*float64{
		"tolerance":                   c.Tolerance,
		"prior_association_threshold": c.PriorAssociationThreshold,
		"guide_alpha":                 c.GuideAlpha,
		"guide_gamma":                 c.GuideGamma,
		"track_alpha":                 c.TrackAlpha,
		"track_gamma":                 c.TrackGamma,
		"keypoint_alpha":              c.KeypointAlpha,
		"keypoint_gamma":              c.KeypointGamma,
		"voxel_leaf_size":             c.VoxelLeafSize,
		"bootstrap_ordering_max_step": c.BootstrapOrderingMaxStep,
	} {
		if v != nil && !(*v >= 0) {
			return fmt.Errorf("%s must be non-negative, got %v", name, *v)
		}
	}

	for name, v := range map[string]*string{
		"guide_kernel": c.GuideKernel,
		"track_kernel": c.TrackKernel,
	} {
		if v != nil && !kernelNames[strings.ToLower(strings.TrimSpace(*v))] {
			return fmt.Errorf("unknown %s %q", name, *v)
		}
	}

	if c.CameraProjection != nil && len(c.CameraProjection) != 12 {
		return fmt.Errorf("camera_projection must have 12 entries, got %d", len(c.CameraProjection))
	}
	return nil
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// GetNodeCount returns the node_count value or the default.
func (c *TuningConfig) GetNodeCount() int { return getInt(c.NodeCount, 20) }

// GetInitIterations returns the init_iterations value or the default.
func (c *TuningConfig) GetInitIterations() int { return getInt(c.InitIterations, 50) }

// GetInitMu returns the init_mu value or the default.
func (c *TuningConfig) GetInitMu() float64 { return getFloat(c.InitMu, 0.05) }

// GetOrderingMaxStep returns the ordering_max_step value or the default.
func (c *TuningConfig) GetOrderingMaxStep() float64 { return getFloat(c.OrderingMaxStep, 0.02) }

// GetBootstrapOrderingMaxStep returns the bootstrap_ordering_max_step value
// or the default. Zero asks the bootstrap to derive the step from the
// spacing of the fitted nodes.
func (c *TuningConfig) GetBootstrapOrderingMaxStep() float64 {
	return getFloat(c.BootstrapOrderingMaxStep, 0)
}

// GetLLEHalfWidth returns the lle_half_width value or the default.
func (c *TuningConfig) GetLLEHalfWidth() int { return getInt(c.LLEHalfWidth, 3) }

// GetMaxIterations returns the max_iterations value or the default.
func (c *TuningConfig) GetMaxIterations() int { return getInt(c.MaxIterations, 50) }

// GetTolerance returns the tolerance value or the default.
func (c *TuningConfig) GetTolerance() float64 { return getFloat(c.Tolerance, 1e-5) }

// GetPriorAssociationThreshold returns the prior_association_threshold value or the default.
func (c *TuningConfig) GetPriorAssociationThreshold() float64 {
	return getFloat(c.PriorAssociationThreshold, 0.01)
}

// GetMaskDistThreshold returns the mask_dist_threshold value or the default.
func (c *TuningConfig) GetMaskDistThreshold() float64 { return getFloat(c.MaskDistThreshold, 10) }

// GetMinVisibleNodes returns the min_visible_nodes value or the default.
func (c *TuningConfig) GetMinVisibleNodes() int { return getInt(c.MinVisibleNodes, 3) }

// GetGuideKernel returns the guide_kernel value or the default.
func (c *TuningConfig) GetGuideKernel() string {
	if c.GuideKernel == nil {
		return "gaussian"
	}
	return *c.GuideKernel
}

// GetGuideBeta returns the guide_beta value or the default.
func (c *TuningConfig) GetGuideBeta() float64 { return getFloat(c.GuideBeta, 10000) }

// GetGuideAlpha returns the guide_alpha value or the default.
func (c *TuningConfig) GetGuideAlpha() float64 { return getFloat(c.GuideAlpha, 1) }

// GetGuideGamma returns the guide_gamma value or the default.
func (c *TuningConfig) GetGuideGamma() float64 { return getFloat(c.GuideGamma, 1) }

// GetGuideMu returns the guide_mu value or the default.
func (c *TuningConfig) GetGuideMu() float64 { return getFloat(c.GuideMu, 0.05) }

// GetGuideSigma2Inflation returns the guide_sigma2_inflation value or the default.
func (c *TuningConfig) GetGuideSigma2Inflation() float64 {
	return getFloat(c.GuideSigma2Inflation, 100)
}

// GetGuideIncludeLLE returns the guide_include_lle value or the default.
func (c *TuningConfig) GetGuideIncludeLLE() bool {
	if c.GuideIncludeLLE == nil {
		return false
	}
	return *c.GuideIncludeLLE
}

// GetTrackKernel returns the track_kernel value or the default.
func (c *TuningConfig) GetTrackKernel() string {
	if c.TrackKernel == nil {
		return "first_order"
	}
	return *c.TrackKernel
}

// GetTrackBeta returns the track_beta value or the default.
func (c *TuningConfig) GetTrackBeta() float64 { return getFloat(c.TrackBeta, 10) }

// GetTrackAlpha returns the track_alpha value or the default.
func (c *TuningConfig) GetTrackAlpha() float64 { return getFloat(c.TrackAlpha, 1) }

// GetTrackGamma returns the track_gamma value or the default.
func (c *TuningConfig) GetTrackGamma() float64 { return getFloat(c.TrackGamma, 2) }

// GetTrackMu returns the track_mu value or the default.
func (c *TuningConfig) GetTrackMu() float64 { return getFloat(c.TrackMu, 0.05) }

// GetTrackOmega returns the track_omega value or the default.
func (c *TuningConfig) GetTrackOmega() float64 { return getFloat(c.TrackOmega, 0.01) }

// GetKeypointBeta returns the keypoint_beta value or the default.
func (c *TuningConfig) GetKeypointBeta() float64 { return getFloat(c.KeypointBeta, 1) }

// GetKeypointAlpha returns the keypoint_alpha value or the default.
func (c *TuningConfig) GetKeypointAlpha() float64 { return getFloat(c.KeypointAlpha, 1) }

// GetKeypointGamma returns the keypoint_gamma value or the default.
func (c *TuningConfig) GetKeypointGamma() float64 { return getFloat(c.KeypointGamma, 1) }

// GetKeypointOmega returns the keypoint_omega value or the default.
func (c *TuningConfig) GetKeypointOmega() float64 { return getFloat(c.KeypointOmega, 0.1) }

// GetCameraProjection returns a copy of the camera_projection entries or
// the default projection.
func (c *TuningConfig) GetCameraProjection() []float64 {
	src := c.CameraProjection
	if len(src) != 12 {
		src = DefaultCameraProjection
	}
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

// GetImageWidth returns the image_width value or the default.
func (c *TuningConfig) GetImageWidth() int { return getInt(c.ImageWidth, 1280) }

// GetImageHeight returns the image_height value or the default.
func (c *TuningConfig) GetImageHeight() int { return getInt(c.ImageHeight, 720) }

// GetMaskPointRadius returns the mask_point_radius value or the default.
func (c *TuningConfig) GetMaskPointRadius() int { return getInt(c.MaskPointRadius, 3) }

// GetVoxelLeafSize returns the voxel_leaf_size value or the default.
func (c *TuningConfig) GetVoxelLeafSize() float64 { return getFloat(c.VoxelLeafSize, 0.005) }
