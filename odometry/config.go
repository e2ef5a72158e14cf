package odometry

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/viam-labs/visual-odometry/transform"
)

// Config contains the parameters of the odometry pipeline.
type Config struct {
	// MaxKeyFrames bounds the active window; it is the sole backpressure
	// mechanism of the core.
	MaxKeyFrames int `json:"max_key_frames"`
	// RetireThreshold is how many frames a still-tracked correspondence may
	// stay out of the inlier set before it is dropped.
	RetireThreshold int64 `json:"retire_threshold"`
	// MaxBundleTracks caps the tracks fed into each bundle adjustment.
	MaxBundleTracks int `json:"max_bundle_tracks"`
	// KeyframePeriod is the cadence of permanently retained keyframes when
	// the periodic keyframe policy is used.
	KeyframePeriod int64 `json:"keyframe_period"`
	// CamIntrinsics is the shared camera model. It may instead be supplied
	// later through SetCamera, but must be set before the first image.
	CamIntrinsics *transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
}

// DefaultConfig returns the pipeline defaults, without camera intrinsics.
func DefaultConfig() *Config {
	return &Config{
		MaxKeyFrames:    5,
		RetireThreshold: 2,
		MaxBundleTracks: 50,
		KeyframePeriod:  3,
	}
}

// LoadConfig loads a pipeline configuration from a json file.
func LoadConfig(path string) (*Config, error) {
	var config Config
	//nolint:gosec
	configFile, err := os.Open(path)
	defer utils.UncheckedErrorFunc(configFile.Close)
	if err != nil {
		return nil, err
	}
	jsonParser := json.NewDecoder(configFile)
	if err := jsonParser.Decode(&config); err != nil {
		return nil, err
	}
	return &config, config.CheckValid()
}

// CheckValid checks if the config has valid inputs.
func (c *Config) CheckValid() error {
	if c.MaxKeyFrames < 2 {
		return errors.Errorf("max_key_frames must be at least 2, got %d", c.MaxKeyFrames)
	}
	if c.RetireThreshold < 1 {
		return errors.Errorf("retire_threshold must be at least 1, got %d", c.RetireThreshold)
	}
	if c.MaxBundleTracks < 1 {
		return errors.Errorf("max_bundle_tracks must be at least 1, got %d", c.MaxBundleTracks)
	}
	if c.KeyframePeriod < 1 {
		return errors.Errorf("keyframe_period must be at least 1, got %d", c.KeyframePeriod)
	}
	if c.CamIntrinsics != nil {
		if err := c.CamIntrinsics.CheckValid(); err != nil {
			return err
		}
	}
	return nil
}
