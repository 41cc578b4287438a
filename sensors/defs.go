// Package sensors defines where raw IMU samples come from: the SampleSource
// contract the calibration and filter layers read through, and the Stick
// adapter for an ADXL345/ITG3200/HMC5883L board on an I2C bus.
package sensors

// SampleSource delivers raw signed 16-bit triplets in sensor counts.
// Each call blocks until the part has answered.
type SampleSource interface {
	ReadAcceleration() (x, y, z int16, err error)
	ReadAngularRate() (x, y, z int16, err error)
	ReadMagneticField() (x, y, z int16, err error)
}

// MagnetometerConfigurer is implemented by sources whose magnetometer has a
// self-test bias field, used to measure per-axis scale factors.
type MagnetometerConfigurer interface {
	// SetMagSelfTest selects the bias field applied during measurements and the gain setting.
	SetMagSelfTest(bias MagBias, gain uint8) error
	// SetMagMode selects the measurement mode and the output rate.
	SetMagMode(mode MagMode, rate MagRate) error
}

// MagBias is the self-test bias field applied to the magnetometer.
type MagBias byte

const (
	MagBiasNormal MagBias = iota
	MagBiasPositive
	MagBiasNegative
)

// MagMode is the magnetometer measurement mode.
type MagMode byte

const (
	MagModeContinuous MagMode = iota
	MagModeSingle
	MagModeIdle
)

// MagRate is the magnetometer output rate, encoded as the HMC5883L does.
type MagRate byte

const (
	MagRate0_75 MagRate = iota // 0.75Hz
	MagRate1_5
	MagRate3
	MagRate7_5
	MagRate15
	MagRate30
	MagRate75
)

// MaxMagGain is the largest gain setting; higher settings have lower sensitivity.
const MaxMagGain = 7

// Triplet reads one raw triplet with read and returns it as an array.
func Triplet(read func() (x, y, z int16, err error)) (v [3]int16, err error) {
	v[0], v[1], v[2], err = read()
	return v, err
}
