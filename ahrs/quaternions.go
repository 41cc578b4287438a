package ahrs

import "math"

// ToQuaternion calculates the 0,1,2,3 components of the rotation quaternion
// corresponding to the ZYX Tait-Bryan angles roll (phi), pitch (theta), yaw (psi),
// all in radians.
func ToQuaternion(phi, theta, psi float64) (float64, float64, float64, float64) {
	cphi := math.Cos(phi / 2)
	sphi := math.Sin(phi / 2)
	ctheta := math.Cos(theta / 2)
	stheta := math.Sin(theta / 2)
	cpsi := math.Cos(psi / 2)
	spsi := math.Sin(psi / 2)

	q0 := cphi*ctheta*cpsi + sphi*stheta*spsi
	q1 := sphi*ctheta*cpsi - cphi*stheta*spsi
	q2 := cphi*stheta*cpsi + sphi*ctheta*spsi
	q3 := cphi*ctheta*spsi - sphi*stheta*cpsi
	return q0, q1, q2, q3
}

// FromQuaternion calculates the ZYX Tait-Bryan angles phi, theta, psi corresponding to
// the quaternion.  The quaternion need not be exactly unit length.
func FromQuaternion(q0, q1, q2, q3 float64) (float64, float64, float64) {
	nn := q0*q0 + q1*q1 + q2*q2 + q3*q3
	phi := math.Atan2(2*(q0*q1+q2*q3), q0*q0-q1*q1-q2*q2+q3*q3)
	sth := 2 * (q0*q2 - q3*q1) / nn
	if sth > 1 {
		sth = 1
	} else if sth < -1 {
		sth = -1
	}
	theta := math.Asin(sth)
	psi := math.Atan2(2*(q0*q3+q1*q2), q0*q0+q1*q1-q2*q2-q3*q3)
	return phi, theta, psi
}

// Regularize ensures that roll and yaw are in (-Pi, Pi] and pitch in [-Pi/2, Pi/2].
// All in radians.
func Regularize(roll, pitch, yaw float64) (float64, float64, float64) {
	for pitch > Pi {
		pitch -= 2 * Pi
	}
	for pitch <= -Pi {
		pitch += 2 * Pi
	}
	if pitch > Pi/2 {
		pitch = Pi - pitch
		roll += Pi
		yaw += Pi
	}
	if pitch < -Pi/2 {
		pitch = -Pi - pitch
		roll += Pi
		yaw += Pi
	}
	return wrap(roll), pitch, wrap(yaw)
}

func wrap(x float64) float64 {
	for x > Pi {
		x -= 2 * Pi
	}
	for x <= -Pi {
		x += 2 * Pi
	}
	return x
}
