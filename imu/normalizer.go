package imu

import (
	"github.com/westphae/goahrs/ahrs"
	"github.com/westphae/goahrs/calibration"
	"github.com/westphae/goahrs/sensors"
)

// Sample holds one raw reading of each sensor, in counts.
type Sample struct {
	Accel, Gyro, Mag [3]int16
}

// Scaled holds one reading of each sensor in the body frame.  Accel and Mag keep
// the units of their counts, Gyro is in rad/s.
type Scaled struct {
	Accel, Gyro, Mag [3]float32
}

// ReadSample reads the three sensors of src once, accelerometer first.
func ReadSample(src sensors.SampleSource) (s Sample, err error) {
	if s.Accel, err = sensors.Triplet(src.ReadAcceleration); err != nil {
		return s, err
	}
	if s.Gyro, err = sensors.Triplet(src.ReadAngularRate); err != nil {
		return s, err
	}
	if s.Mag, err = sensors.Triplet(src.ReadMagneticField); err != nil {
		return s, err
	}
	return s, nil
}

// Normalizer turns raw samples into body frame vectors using the calibration
// parameters and the board constants.  It holds no state between samples.
type Normalizer struct {
	axes     AxisConfig
	params   calibration.Params
	gyroSign [3]float32
	gyroRad  float32 // rad/s per count
}

func NewNormalizer(axes AxisConfig, p calibration.Params) *Normalizer {
	n := &Normalizer{
		axes:     axes,
		params:   p,
		gyroSign: axes.Gyro.Sign,
		gyroRad:  float32(ahrs.Deg) / axes.GyroSensitivity,
	}
	if axes.LegacyGyroSign {
		n.gyroSign[1] = axes.Gyro.Sign[0]
	}
	return n
}

// Normalize applies the axis map, calibration and unit conversion to raw.
// Degenerate readings, all zero or saturated, pass through unchanged.
func (n *Normalizer) Normalize(raw Sample) (s Scaled) {
	for i := 0; i < 3; i++ {
		ax := n.axes.Accel.Index[i]
		s.Accel[i] = float32(raw.Accel[ax]) * n.params.AccelOffsets[ax] * n.axes.Accel.Sign[i]

		gx := n.axes.Gyro.Index[i]
		s.Gyro[i] = (float32(raw.Gyro[gx]) - n.params.GyroBias[gx]) * n.gyroRad * n.gyroSign[i]

		mx := n.axes.Mag.Index[i]
		s.Mag[i] = float32(raw.Mag[mx]) * n.params.MagScales[mx] * n.axes.Mag.Sign[i]
	}
	return s
}
