package ahrs

import "math"

const invSqrtMagic = 0x5f3759df

// InvSqrt approximates 1/sqrt(x) for x > 0 using the IEEE-754 single precision
// bit pattern and one Newton-Raphson step.  Relative error is below 0.18%.
// Results for x <= 0 are meaningless.
func InvSqrt(x float32) float32 {
	halfx := 0.5 * x
	i := math.Float32bits(x)
	i = invSqrtMagic - i>>1
	y := math.Float32frombits(i)
	return y * (1.5 - halfx*y*y)
}
