// Package sim generates raw IMU samples for a scripted attitude history, for
// exercising calibration and the filter without hardware.
package sim

import (
	"errors"
	"sort"

	"github.com/westphae/quaternion"

	"github.com/westphae/goahrs/ahrs"
)

const rateStep = 0.001 // s, for differentiating the attitude

// Scenario defines an attitude history by piecewise-linear interpolation of
// roll, pitch and yaw.  The attitude is held after the last time.
type Scenario struct {
	T               []float64 // times, s, increasing
	Phi, Theta, Psi []float64 // attitude, rad [roll R/L, pitch U/D, yaw]
}

// Still is a level, north-facing sensor at rest.
var Still = &Scenario{
	T:     []float64{0, 1},
	Phi:   []float64{0, 0},
	Theta: []float64{0, 0},
	Psi:   []float64{0, 0},
}

// Tilted rests at a fixed roll, pitch and yaw.
func Tilted(phi, theta, psi float64) *Scenario {
	return &Scenario{
		T:     []float64{0, 1},
		Phi:   []float64{phi, phi},
		Theta: []float64{theta, theta},
		Psi:   []float64{psi, psi},
	}
}

// Turn sits still for 2s, then yaws one full turn at a 30 deg/s rate with a
// 10 degree roll, then holds level again.
var Turn = &Scenario{
	T:     []float64{0, 2, 3, 14, 15, 20},
	Phi:   []float64{0, 0, 10 * ahrs.Deg, 10 * ahrs.Deg, 0, 0},
	Theta: []float64{0, 0, 0, 0, 0, 0},
	Psi:   []float64{0, 0, 15 * ahrs.Deg, 345 * ahrs.Deg, 360 * ahrs.Deg, 360 * ahrs.Deg},
}

// BeginTime returns the time stamp when the scenario begins.
func (s *Scenario) BeginTime() float64 {
	return s.T[0]
}

// EndTime returns the time of the last attitude; it is held afterward.
func (s *Scenario) EndTime() float64 {
	return s.T[len(s.T)-1]
}

// Attitude interpolates the unit quaternion rotating sensor frame to earth frame at time t.
func (s *Scenario) Attitude(t float64) (quaternion.Quaternion, error) {
	if t < s.T[0] {
		return quaternion.Quaternion{}, errors.New("requested time is before scenario")
	}
	if t >= s.EndTime() {
		ix := len(s.T) - 1
		return toQuaternion(s.Phi[ix], s.Theta[ix], s.Psi[ix]), nil
	}
	ix := 0
	if t > s.T[0] {
		ix = sort.SearchFloat64s(s.T, t) - 1
	}

	f := (s.T[ix+1] - t) / (s.T[ix+1] - s.T[ix])
	return toQuaternion(
		f*s.Phi[ix]+(1-f)*s.Phi[ix+1],
		f*s.Theta[ix]+(1-f)*s.Theta[ix+1],
		f*s.Psi[ix]+(1-f)*s.Psi[ix+1],
	), nil
}

// BodyRate returns the angular rate in the sensor frame at time t, rad/s, from
// q' = q*(0,w)/2 differentiated over a short step.
func (s *Scenario) BodyRate(t float64) ([3]float64, error) {
	t0, t1 := t, t+rateStep
	if end := s.EndTime(); t1 > end && t < end {
		t0, t1 = end-rateStep, end
	}
	q0, err := s.Attitude(t0)
	if err != nil {
		return [3]float64{}, err
	}
	q1, err := s.Attitude(t1)
	if err != nil {
		return [3]float64{}, err
	}
	d := quaternion.Prod(q0.Conj(), q1)
	return [3]float64{2 * d.X / rateStep, 2 * d.Y / rateStep, 2 * d.Z / rateStep}, nil
}

func toQuaternion(phi, theta, psi float64) quaternion.Quaternion {
	var q quaternion.Quaternion
	q.W, q.X, q.Y, q.Z = ahrs.ToQuaternion(phi, theta, psi)
	return q
}
