package ahrs

import "math"

// Filter holds the attitude quaternion and the integral error of the PI update.
// Each Filter is independent; only its update methods mutate it.
type Filter struct {
	q0, q1, q2, q3      float32 // Quaternion rotating sensor frame to earth frame
	exInt, eyInt, ezInt float32 // Integral error, already scaled by Ki

	cfg    Config
	halfDt float32
	dt     float32
}

// NewFilter returns a Filter at the identity attitude with zero integral error.
func NewFilter(cfg Config) *Filter {
	f := &Filter{
		cfg:    cfg,
		dt:     cfg.dt(),
		halfDt: 0.5 * cfg.dt(),
	}
	f.Reset()
	return f
}

// Reset puts the filter back at the identity attitude and clears the integral error.
// It is the only way out of a NaN state.
func (f *Filter) Reset() {
	f.q0, f.q1, f.q2, f.q3 = 1, 0, 0, 0
	f.exInt, f.eyInt, f.ezInt = 0, 0, 0
}

// Config returns the configuration the filter was built with.
func (f *Filter) Config() Config {
	return f.cfg
}

// Quaternion returns the current attitude estimate, w first.
func (f *Filter) Quaternion() (w, x, y, z float32) {
	return f.q0, f.q1, f.q2, f.q3
}

// IntegralError returns the accumulated integral feedback, rad/s.
func (f *Filter) IntegralError() (x, y, z float32) {
	return f.exInt, f.eyInt, f.ezInt
}

// RollPitchYaw returns the current attitude as ZYX Tait-Bryan angles, radians.
func (f *Filter) RollPitchYaw() (roll, pitch, yaw float64) {
	return FromQuaternion(float64(f.q0), float64(f.q1), float64(f.q2), float64(f.q3))
}

// Update runs one filter cycle with gyro rates g (rad/s), accelerations a and
// magnetic field m, choosing the update according to the configured Mode.
func (f *Filter) Update(g, a, m [3]float32) {
	switch f.cfg.Mode {
	case ModeIMU:
		f.UpdateIMU(g[0], g[1], g[2], a[0], a[1], a[2])
	case ModeAHRS:
		f.UpdateAHRS(g[0], g[1], g[2], a[0], a[1], a[2], m[0], m[1], m[2])
	default:
		if m[0] == 0 && m[1] == 0 && m[2] == 0 {
			f.UpdateIMU(g[0], g[1], g[2], a[0], a[1], a[2])
			return
		}
		f.UpdateAHRS(g[0], g[1], g[2], a[0], a[1], a[2], m[0], m[1], m[2])
	}
}

// UpdateAHRS is the proportional-integral complementary update.  The error is
// the cross product of the measured gravity and field directions with the ones
// the current quaternion predicts; it feeds back into the gyro rates before they
// are integrated.  A zero a or m vector drives the state to NaN.
func (f *Filter) UpdateAHRS(gx, gy, gz, ax, ay, az, mx, my, mz float32) {
	var (
		recipNorm          float32
		hx, hy, hz, bx, bz float32
		vx, vy, vz         float32
		wx, wy, wz         float32
		ex, ey, ez         float32
	)
	q0, q1, q2, q3 := f.q0, f.q1, f.q2, f.q3

	q0q0 := q0 * q0
	q0q1 := q0 * q1
	q0q2 := q0 * q2
	q0q3 := q0 * q3
	q1q1 := q1 * q1
	q1q2 := q1 * q2
	q1q3 := q1 * q3
	q2q2 := q2 * q2
	q2q3 := q2 * q3
	q3q3 := q3 * q3

	recipNorm = InvSqrt(ax*ax + ay*ay + az*az)
	ax *= recipNorm
	ay *= recipNorm
	az *= recipNorm
	recipNorm = InvSqrt(mx*mx + my*my + mz*mz)
	mx *= recipNorm
	my *= recipNorm
	mz *= recipNorm

	// Measured field in the earth frame, collapsed onto the x-z plane
	hx = 2*mx*(0.5-q2q2-q3q3) + 2*my*(q1q2-q0q3) + 2*mz*(q1q3+q0q2)
	hy = 2*mx*(q1q2+q0q3) + 2*my*(0.5-q1q1-q3q3) + 2*mz*(q2q3-q0q1)
	hz = 2*mx*(q1q3-q0q2) + 2*my*(q2q3+q0q1) + 2*mz*(0.5-q1q1-q2q2)
	bx = float32(math.Sqrt(float64(hx*hx + hy*hy)))
	bz = hz

	// Gravity and field directions predicted in the sensor frame
	vx = 2 * (q1q3 - q0q2)
	vy = 2 * (q0q1 + q2q3)
	vz = q0q0 - q1q1 - q2q2 + q3q3
	wx = 2*bx*(0.5-q2q2-q3q3) + 2*bz*(q1q3-q0q2)
	wy = 2*bx*(q1q2-q0q3) + 2*bz*(q0q1+q2q3)
	wz = 2*bx*(q0q2+q1q3) + 2*bz*(0.5-q1q1-q2q2)

	ex = (ay*vz - az*vy) + (my*wz - mz*wy)
	ey = (az*vx - ax*vz) + (mz*wx - mx*wz)
	ez = (ax*vy - ay*vx) + (mx*wy - my*wx)

	f.exInt += ex * f.cfg.Ki
	f.eyInt += ey * f.cfg.Ki
	f.ezInt += ez * f.cfg.Ki
	if lim := f.cfg.IntegralLimit; lim > 0 {
		f.exInt = clamp(f.exInt, lim)
		f.eyInt = clamp(f.eyInt, lim)
		f.ezInt = clamp(f.ezInt, lim)
	}

	gx += f.cfg.Kp*ex + f.exInt
	gy += f.cfg.Kp*ey + f.eyInt
	gz += f.cfg.Kp*ez + f.ezInt

	f.setNormalized(
		q0+(-q1*gx-q2*gy-q3*gz)*f.halfDt,
		q1+(q0*gx+q2*gz-q3*gy)*f.halfDt,
		q2+(q0*gy-q1*gz+q3*gx)*f.halfDt,
		q3+(q0*gz+q1*gy-q2*gx)*f.halfDt,
	)
}

// UpdateIMU is the accelerometer-only update: one gradient descent step on the
// disagreement between measured and predicted gravity, scaled by Beta, is
// subtracted from the gyro quaternion rate.  With a zero accelerometer reading
// only the gyro is integrated.
func (f *Filter) UpdateIMU(gx, gy, gz, ax, ay, az float32) {
	var (
		recipNorm                  float32
		s0, s1, s2, s3             float32
		qDot1, qDot2, qDot3, qDot4 float32
	)
	q0, q1, q2, q3 := f.q0, f.q1, f.q2, f.q3

	qDot1 = 0.5 * (-q1*gx - q2*gy - q3*gz)
	qDot2 = 0.5 * (q0*gx + q2*gz - q3*gy)
	qDot3 = 0.5 * (q0*gy - q1*gz + q3*gx)
	qDot4 = 0.5 * (q0*gz + q1*gy - q2*gx)

	if !(ax == 0 && ay == 0 && az == 0) {
		recipNorm = InvSqrt(ax*ax + ay*ay + az*az)
		ax *= recipNorm
		ay *= recipNorm
		az *= recipNorm

		_2q0 := 2 * q0
		_2q1 := 2 * q1
		_2q2 := 2 * q2
		_2q3 := 2 * q3
		_4q0 := 4 * q0
		_4q1 := 4 * q1
		_4q2 := 4 * q2
		_8q1 := 8 * q1
		_8q2 := 8 * q2
		q0q0 := q0 * q0
		q1q1 := q1 * q1
		q2q2 := q2 * q2
		q3q3 := q3 * q3

		// Gradient of the gravity error with respect to q
		s0 = _4q0*q2q2 + _2q2*ax + _4q0*q1q1 - _2q1*ay
		s1 = _4q1*q3q3 - _2q3*ax + 4*q0q0*q1 - _2q0*ay - _4q1 + _8q1*q1q1 + _8q1*q2q2 + _4q1*az
		s2 = 4*q0q0*q2 + _2q0*ax + _4q2*q3q3 - _2q3*ay - _4q2 + _8q2*q1q1 + _8q2*q2q2 + _4q2*az
		s3 = 4*q1q1*q3 - _2q1*ax + 4*q2q2*q3 - _2q2*ay
		recipNorm = InvSqrt(s0*s0 + s1*s1 + s2*s2 + s3*s3)
		s0 *= recipNorm
		s1 *= recipNorm
		s2 *= recipNorm
		s3 *= recipNorm

		qDot1 -= f.cfg.Beta * s0
		qDot2 -= f.cfg.Beta * s1
		qDot3 -= f.cfg.Beta * s2
		qDot4 -= f.cfg.Beta * s3
	}

	f.setNormalized(q0+qDot1*f.dt, q1+qDot2*f.dt, q2+qDot3*f.dt, q3+qDot4*f.dt)
}

func (f *Filter) setNormalized(q0, q1, q2, q3 float32) {
	recipNorm := InvSqrt(q0*q0 + q1*q1 + q2*q2 + q3*q3)
	f.q0 = q0 * recipNorm
	f.q1 = q1 * recipNorm
	f.q2 = q2 * recipNorm
	f.q3 = q3 * recipNorm
}

func clamp(x, lim float32) float32 {
	if x > lim {
		return lim
	}
	if x < -lim {
		return -lim
	}
	return x
}
