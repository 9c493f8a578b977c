// Package config loads the operator-facing fixture configuration: the
// per-channel placement grid, axis quirks, burn parameters, and the
// tolerance/forecast numbers the control and batch packages consume.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/resonatorlab/laser-precision-adjust/internal/control"
	"github.com/resonatorlab/laser-precision-adjust/internal/coords"
	"github.com/resonatorlab/laser-precision-adjust/internal/predictor"
)

// ResonatorPlacement is one channel's physical position and optional
// per-channel burn-parameter multipliers.
type ResonatorPlacement struct {
	X float32 `yaml:"x"`
	Y float32 `yaml:"y"`
	W float32 `yaml:"w"`
	H float32 `yaml:"h"`

	// PowerMultiplier, PWMMultiplier and SoftPowerMultiplier are read
	// from the file but not passed to the motion driver: every channel
	// burns with the global BurnLaser* values, and the commands set a
	// soft-burn multiplier of 1.
	PowerMultiplier     float32 `yaml:"power_multiplier"`
	PWMMultiplier       float32 `yaml:"pwm_multiplier"`
	SoftPowerMultiplier float32 `yaml:"soft_power_multiplier"`
}

// Config is the full on-disk configuration: fixture geometry, serial
// ports, burn parameters, and the tolerance/forecast numbers that feed
// internal/control and internal/predictor.
type Config struct {
	ResonatorsPlacement []ResonatorPlacement `yaml:"resonators_placement"`
	AxisConfig          coords.AxisConfig    `yaml:"axis_config"`

	MotionPort  string `yaml:"motion_port"`
	FixturePort string `yaml:"fixture_port"`

	BurnLaserS float32 `yaml:"burn_laser_s"`
	BurnLaserA float32 `yaml:"burn_laser_a"`
	BurnLaserB uint32  `yaml:"burn_laser_b"`
	BurnLaserF float32 `yaml:"burn_laser_f"`

	TotalVerticalSteps uint32 `yaml:"total_vertical_steps"`

	FreqmeterOffset  float64 `yaml:"freqmeter_offset"`
	WorkingOffsetPPM float64 `yaml:"working_offset_ppm"`
	TargetFreqCenter float64 `yaml:"target_freq_center"`

	UpdateIntervalMs uint32 `yaml:"update_interval_ms"`

	ForecastConfig predictor.ForecastConfig `yaml:"forecast_config"`
	AutoAdjustLimits control.Limits         `yaml:"auto_adjust_limits"`

	StableVal float64 `yaml:"stable_val"`

	// FragmentLen is the predictor's capture-window length (§3 expansion).
	FragmentLen int `yaml:"fragment_len"`

	// FragmentDumpPathTemplate is a strftime template (see internal/predictor's
	// save routine) for where fragments are dumped on camera-open events.
	FragmentDumpPathTemplate string `yaml:"fragment_dump_path_template"`
}

// DefaultPath returns the config file location under the user's
// config directory: $XDG_CONFIG_HOME/precision-adjust/config.yaml or
// the platform equivalent via os.UserConfigDir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: не удалось определить каталог конфигурации: %w", err)
	}
	return filepath.Join(dir, "precision-adjust", "config.yaml"), nil
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: не удалось прочитать %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: не удалось разобрать %s: %w", path, err)
	}
	return &c, nil
}

// Save writes c as YAML to path, creating parent directories as needed.
func Save(path string, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: не удалось создать каталог %s: %w", filepath.Dir(path), err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: не удалось сериализовать конфигурацию: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: не удалось записать %s: %w", path, err)
	}
	return nil
}

// ChannelCount reports how many resonator channels this fixture carries.
func (c *Config) ChannelCount() int {
	return len(c.ResonatorsPlacement)
}
