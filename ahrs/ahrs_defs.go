// Package ahrs implements a quaternion attitude filter fusing gyro, accelerometer
// and magnetometer readings, one sample at a time, at a fixed sample period.
//
// Sensor frame is the body frame of the IMU; earth frame is 1 north, 2 east-ish
// (whatever the horizontal magnetic field defines), 3 up.  The quaternion
// rotates sensor frame vectors into the earth frame.
package ahrs

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

const (
	Pi  = math.Pi
	Deg = Pi / 180
)

// Mode selects which update the Filter runs each cycle.
type Mode int

const (
	// ModeAuto runs the PI complementary update, falling back to the
	// accelerometer-only gradient descent update whenever the magnetometer
	// reading is exactly zero.
	ModeAuto Mode = iota
	// ModeAHRS always runs the PI complementary update with the magnetometer.
	ModeAHRS
	// ModeIMU always runs the accelerometer-only gradient descent update.
	ModeIMU
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeAHRS:
		return "ahrs"
	case ModeIMU:
		return "imu"
	}
	return "unknown"
}

// ParseMode returns the Mode named by s, or ok=false.
func ParseMode(s string) (m Mode, ok bool) {
	switch s {
	case "auto", "":
		return ModeAuto, true
	case "ahrs":
		return ModeAHRS, true
	case "imu":
		return ModeIMU, true
	}
	return ModeAuto, false
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	mode, ok := ParseMode(string(b))
	if !ok {
		return errors.Errorf("unknown filter mode %q", b)
	}
	*m = mode
	return nil
}

// Config holds the filter gains and timing.  None of it changes once a Filter is built.
type Config struct {
	Kp            float32       `yaml:"kp"`             // Proportional gain of the PI update
	Ki            float32       `yaml:"ki"`             // Integral gain of the PI update, applied per sample
	Beta          float32       `yaml:"beta"`           // Gradient descent step size of the IMU-only update
	SamplePeriod  time.Duration `yaml:"sample_period"`  // Time between updates
	IntegralLimit float32       `yaml:"integral_limit"` // Per-axis bound on the integral error, 0 for unbounded
	Mode          Mode          `yaml:"mode"`
}

// DefaultConfig returns the gains the filter was tuned with: a 50Hz sample rate.
func DefaultConfig() Config {
	return Config{
		Kp:           2.0,
		Ki:           0.005,
		Beta:         0.1,
		SamplePeriod: 20 * time.Millisecond,
		Mode:         ModeAuto,
	}
}

func (c Config) dt() float32 {
	return float32(c.SamplePeriod.Seconds())
}
