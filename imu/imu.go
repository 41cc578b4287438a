// Package imu ties a raw sample source, its calibration and the attitude
// filter together: calibrate once at rest, then update once per sample period.
package imu

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/westphae/goahrs/ahrs"
	"github.com/westphae/goahrs/calibration"
	"github.com/westphae/goahrs/sensors"
)

var ErrNotCalibrated = errors.New("IMU has not been calibrated")

// IMU estimates the attitude of the sensors behind a SampleSource.
// It is not safe for concurrent use; Run calls back on its own goroutine.
type IMU struct {
	src    sensors.SampleSource
	cfg    Config
	filter *ahrs.Filter

	params calibration.Params
	norm   *Normalizer
	last   Scaled
}

func New(src sensors.SampleSource, cfg Config) *IMU {
	return &IMU{
		src:    src,
		cfg:    cfg,
		filter: ahrs.NewFilter(cfg.Filter),
	}
}

// Calibrate measures the calibration parameters.  The sensor must be at rest.
// Parameters from an earlier call are replaced only when this one succeeds.
func (m *IMU) Calibrate() error {
	p, err := calibration.Run(m.src, m.cfg.Calibration)
	if err != nil {
		return errors.Wrap(err, "calibrating IMU")
	}
	m.SetParams(p)
	return nil
}

// SetParams uses p instead of measuring them, as from an earlier session.
func (m *IMU) SetParams(p calibration.Params) {
	m.params = p
	m.norm = NewNormalizer(m.cfg.Axes, p)
}

// Update reads one sample, normalizes it and runs one filter cycle.  On a
// sensor error the filter is left untouched.
func (m *IMU) Update() error {
	if m.norm == nil {
		return ErrNotCalibrated
	}
	raw, err := ReadSample(m.src)
	if err != nil {
		return errors.Wrap(err, "reading IMU sample")
	}
	m.last = m.norm.Normalize(raw)
	m.filter.Update(m.last.Gyro, m.last.Accel, m.last.Mag)
	return nil
}

// Run calls Update once per sample period, then every if it is not nil,
// until ctx is done or the sensors fail MaxReadErrors times in a row.
func (m *IMU) Run(ctx context.Context, every func(*IMU)) error {
	if m.norm == nil {
		return ErrNotCalibrated
	}
	ticker := time.NewTicker(m.cfg.Filter.SamplePeriod)
	defer ticker.Stop()

	var nErr int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := m.Update(); err != nil {
			nErr++
			log.Printf("IMU Warning: update failed (%d in a row): %v\n", nErr, err)
			if nErr >= m.cfg.MaxReadErrors {
				return errors.Wrapf(err, "%d consecutive IMU update failures", nErr)
			}
			continue
		}
		nErr = 0
		if every != nil {
			every(m)
		}
	}
}

// Quaternion returns the attitude estimate rotating the body frame to the earth frame, w first.
func (m *IMU) Quaternion() (w, x, y, z float32) {
	return m.filter.Quaternion()
}

// RollPitchYaw returns the attitude estimate in radians.
func (m *IMU) RollPitchYaw() (roll, pitch, yaw float64) {
	return m.filter.RollPitchYaw()
}

// ScaledMeasurements returns the sensor vectors fed to the filter on the last Update.
func (m *IMU) ScaledMeasurements() (accel, gyro, mag [3]float32) {
	return m.last.Accel, m.last.Gyro, m.last.Mag
}

func (m *IMU) Params() calibration.Params {
	return m.params
}

// Reset returns the filter to the identity attitude.  Calibration is kept.
func (m *IMU) Reset() {
	m.filter.Reset()
}
