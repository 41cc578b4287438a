package imu

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/westphae/goahrs/ahrs"
	"github.com/westphae/goahrs/calibration"
	"github.com/westphae/goahrs/sensors"
)

// AxisMap maps raw sensor axes onto the body frame: output axis i is raw axis
// Index[i] multiplied by Sign[i].
type AxisMap struct {
	Index [3]int     `yaml:"index"`
	Sign  [3]float32 `yaml:"sign"`
}

var identityAxes = AxisMap{Index: [3]int{0, 1, 2}, Sign: [3]float32{1, 1, 1}}

func (a AxisMap) validate(name string) error {
	var seen [3]bool
	for i, ix := range a.Index {
		if ix < 0 || ix > 2 || seen[ix] {
			return errors.Errorf("%s axis index %v is not a permutation of 0, 1, 2", name, a.Index)
		}
		seen[ix] = true
		if a.Sign[i] != 1 && a.Sign[i] != -1 {
			return errors.Errorf("%s axis sign %v must be 1 or -1", name, a.Sign[i])
		}
	}
	return nil
}

// AxisConfig holds the fixed mounting and scaling constants of the sensor board.
// LegacyGyroSign applies the gyro x sign to the y axis, as the first firmware
// for this board did.
type AxisConfig struct {
	Accel           AxisMap `yaml:"accel"`
	Gyro            AxisMap `yaml:"gyro"`
	Mag             AxisMap `yaml:"mag"`
	GyroSensitivity float32 `yaml:"gyro_sensitivity"` // LSB per deg/s
	LegacyGyroSign  bool    `yaml:"legacy_gyro_sign"`
}

func DefaultAxisConfig() AxisConfig {
	return AxisConfig{
		Accel:           identityAxes,
		Gyro:            identityAxes,
		Mag:             identityAxes,
		GyroSensitivity: sensors.ITG_SENSITIVITY,
	}
}

// Validate checks that every map is a signed permutation and the gyro sensitivity is positive.
func (a AxisConfig) Validate() error {
	if err := a.Accel.validate("accel"); err != nil {
		return err
	}
	if err := a.Gyro.validate("gyro"); err != nil {
		return err
	}
	if err := a.Mag.validate("mag"); err != nil {
		return err
	}
	if a.GyroSensitivity <= 0 {
		return errors.Errorf("gyro sensitivity %v must be positive", a.GyroSensitivity)
	}
	return nil
}

// Config is everything needed to run the IMU.
type Config struct {
	Axes          AxisConfig         `yaml:"axes"`
	Calibration   calibration.Config `yaml:"calibration"`
	Filter        ahrs.Config        `yaml:"filter"`
	MaxReadErrors int                `yaml:"max_read_errors"` // Consecutive failed updates Run tolerates
}

func DefaultConfig() Config {
	return Config{
		Axes:          DefaultAxisConfig(),
		Calibration:   calibration.DefaultConfig(),
		Filter:        ahrs.DefaultConfig(),
		MaxReadErrors: 10,
	}
}

// Validate checks the settings that would otherwise fail at run time.
func (c Config) Validate() error {
	if err := c.Axes.Validate(); err != nil {
		return err
	}
	if c.Filter.SamplePeriod <= 0 {
		return errors.Errorf("sample period %v must be positive", c.Filter.SamplePeriod)
	}
	if c.Calibration.GyroSamples <= 0 || c.Calibration.MagSamples <= 0 {
		return errors.New("calibration sample counts must be positive")
	}
	if c.Calibration.MagGain > sensors.MaxMagGain {
		return errors.Errorf("magnetometer gain %d above %d", c.Calibration.MagGain, sensors.MaxMagGain)
	}
	return nil
}

// ParseConfig reads YAML over the defaults: keys missing from data keep their default value.
func ParseConfig(data []byte) (Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrap(err, "parsing IMU config")
	}
	return c, c.Validate()
}

// LoadConfig reads the YAML file at path over the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), errors.Wrap(err, "reading IMU config")
	}
	return ParseConfig(data)
}
