// Package calibration measures the per-sensor corrections applied to raw IMU
// samples: gyro zero-rate bias, magnetometer axis scales from the self-test
// field, and accelerometer offsets.  It runs once, with the sensor at rest,
// before the filter starts.
package calibration

import (
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/westphae/goahrs/sensors"
)

const gyroVarianceDecay = 0.95

var ErrNoMagSignal = errors.New("magnetometer self-test produced no positive reading")

// Config controls a calibration run.
type Config struct {
	GyroSamples     int           `yaml:"gyro_samples"`      // Number of gyro samples averaged for the bias
	MagSamples      int           `yaml:"mag_samples"`       // Number of self-test magnetometer samples
	MagGain         uint8         `yaml:"mag_gain"`          // Magnetometer gain setting during and after self-test
	MaxGyroVariance float64       `yaml:"max_gyro_variance"` // Raw counts², above which the sensor was probably moving
	Settle          time.Duration `yaml:"settle"`            // Pause between calibration steps
}

func DefaultConfig() Config {
	return Config{
		GyroSamples:     200,
		MagSamples:      10,
		MagGain:         1,
		MaxGyroVariance: 10,
		Settle:          100 * time.Millisecond,
	}
}

// Params are the corrections found by Run.  They are fixed for the rest of the session.
type Params struct {
	GyroBias     [3]float32 // Raw counts, gyro frame
	MagGain      uint8
	MagMaxs      [3]int     // Largest self-test reading per axis, raw counts
	MagScales    [3]float32 // Per-axis ratio to the largest self-test reading
	AccelOffsets [3]float32 // Multiplicative, currently always 1
}

// GyroReader is the part of a sensors.SampleSource read for the gyro bias.
type GyroReader interface {
	ReadAngularRate() (x, y, z int16, err error)
}

// MagReader is the part of a sensors.SampleSource read for the magnetometer scales.
type MagReader interface {
	ReadMagneticField() (x, y, z int16, err error)
}

// Run calibrates src: gyro bias, then magnetometer scales when src can run a
// self-test, then accelerometer offsets.  The sensor must be at rest; motion is
// logged but not rejected.
func Run(src sensors.SampleSource, cfg Config) (p Params, err error) {
	log.Printf("IMU Info: calibrating gyro over %d samples, keep the sensor still\n", cfg.GyroSamples)
	var variance [3]float64
	if p.GyroBias, variance, err = GyroBias(src, cfg.GyroSamples); err != nil {
		return p, err
	}
	log.Printf("IMU Info: gyro bias %.2f %.2f %.2f, variance %.2f %.2f %.2f\n",
		p.GyroBias[0], p.GyroBias[1], p.GyroBias[2], variance[0], variance[1], variance[2])
	for i, v := range variance {
		if v > cfg.MaxGyroVariance {
			log.Printf("IMU Warning: gyro axis %d variance %.2f exceeds %.2f, sensor may have moved\n",
				i, v, cfg.MaxGyroVariance)
		}
	}
	time.Sleep(cfg.Settle)

	p.MagGain = cfg.MagGain
	if d, ok := src.(sensors.MagnetometerConfigurer); ok {
		if p.MagMaxs, p.MagScales, err = MagScales(d, src, cfg.MagGain, cfg.MagSamples); err != nil {
			return p, err
		}
		log.Printf("IMU Info: magnetometer maxima %d %d %d, scales %.3f %.3f %.3f\n",
			p.MagMaxs[0], p.MagMaxs[1], p.MagMaxs[2], p.MagScales[0], p.MagScales[1], p.MagScales[2])
	} else {
		p.MagScales = [3]float32{1, 1, 1}
		log.Println("IMU Info: magnetometer has no self-test, using unit scales")
	}
	time.Sleep(cfg.Settle)

	p.AccelOffsets = AccelOffsets()
	return p, nil
}

// GyroBias averages n gyro readings.  It also returns the weighted variance of
// each axis, which is large when the sensor was not at rest.
func GyroBias(r GyroReader, n int) (bias [3]float32, variance [3]float64, err error) {
	if n <= 0 {
		return bias, variance, errors.Errorf("gyro bias needs a positive sample count, got %d", n)
	}
	var (
		sum [3]int64
		acc [3]*VarianceAccumulator
	)
	for i := 0; i < n; i++ {
		v, err := sensors.Triplet(r.ReadAngularRate)
		if err != nil {
			return bias, variance, errors.Wrapf(err, "gyro bias sample %d", i)
		}
		for j := range v {
			sum[j] += int64(v[j])
			if acc[j] == nil {
				acc[j] = NewVarianceAccumulator(float64(v[j]), gyroVarianceDecay)
			} else {
				acc[j].Add(float64(v[j]))
			}
		}
	}
	for j := range sum {
		bias[j] = float32(float64(sum[j]) / float64(n))
		variance[j] = acc[j].Variance()
	}
	return bias, variance, nil
}

// MagScales measures the magnetometer response to its positive self-test field
// over n single measurements at gain.  Each axis scale is its largest reading
// divided by the largest reading of any axis.  Afterwards the bias is returned
// to normal and the magnetometer left in single measurement mode at 75Hz.
func MagScales(d sensors.MagnetometerConfigurer, r MagReader, gain uint8, n int) (maxs [3]int, scales [3]float32, err error) {
	if err = d.SetMagSelfTest(sensors.MagBiasPositive, gain); err != nil {
		return maxs, scales, errors.Wrap(err, "enabling magnetometer self-test")
	}
	if err = d.SetMagMode(sensors.MagModeSingle, sensors.MagRate75); err != nil {
		return maxs, scales, errors.Wrap(err, "magnetometer self-test")
	}

	for i := 0; i < n; i++ {
		v, err := sensors.Triplet(r.ReadMagneticField)
		if err != nil {
			return maxs, scales, errors.Wrapf(err, "magnetometer self-test sample %d", i)
		}
		for j := range v {
			if int(v[j]) > maxs[j] {
				maxs[j] = int(v[j])
			}
		}
	}

	if err = d.SetMagSelfTest(sensors.MagBiasNormal, gain); err != nil {
		return maxs, scales, errors.Wrap(err, "disabling magnetometer self-test")
	}
	if err = d.SetMagMode(sensors.MagModeSingle, sensors.MagRate75); err != nil {
		return maxs, scales, errors.Wrap(err, "restoring magnetometer mode")
	}

	var max int
	for _, m := range maxs {
		if m > max {
			max = m
		}
	}
	if max == 0 {
		return maxs, scales, ErrNoMagSignal
	}
	for j, m := range maxs {
		scales[j] = float32(m) / float32(max)
	}
	return maxs, scales, nil
}

// AccelOffsets returns the accelerometer corrections.  The part is trusted as
// is: every axis gets 1.
func AccelOffsets() [3]float32 {
	return [3]float32{1, 1, 1}
}
