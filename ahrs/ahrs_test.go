package ahrs

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/westphae/quaternion"
)

// Normalization goes through InvSqrt, so unit length only holds to its accuracy.
const normTolerance = 2e-3

func norm(f *Filter) float64 {
	q0, q1, q2, q3 := f.Quaternion()
	return math.Sqrt(float64(q0*q0 + q1*q1 + q2*q2 + q3*q3))
}

// unitQuaternion returns the filter attitude scaled to unit length.
func unitQuaternion(f *Filter) quaternion.Quaternion {
	q0, q1, q2, q3 := f.Quaternion()
	return quaternion.Quaternion{
		W: float64(q0), X: float64(q1), Y: float64(q2), Z: float64(q3),
	}.Unit()
}

// toSensor rotates the earth frame vector v into the sensor frame of attitude e.
func toSensor(e quaternion.Quaternion, v [3]float64) [3]float32 {
	s := quaternion.Prod(e.Conj(), quaternion.Quaternion{X: v[0], Y: v[1], Z: v[2]}, e)
	return [3]float32{float32(s.X), float32(s.Y), float32(s.Z)}
}

var (
	up    = [3]float64{0, 0, 1}
	field = [3]float64{0.6, 0, -0.8}
)

func TestNormStaysUnit(t *testing.T) {
	rand.Seed(1)
	for _, mode := range []Mode{ModeAHRS, ModeIMU} {
		cfg := DefaultConfig()
		cfg.Mode = mode
		f := NewFilter(cfg)
		for i := 0; i < 2000; i++ {
			g := [3]float32{
				float32(rand.Float64()*2 - 1),
				float32(rand.Float64()*2 - 1),
				float32(rand.Float64()*2 - 1),
			}
			a := [3]float32{
				float32(rand.Float64()*0.4 - 0.2),
				float32(rand.Float64()*0.4 - 0.2),
				float32(rand.Float64()*0.4 + 0.8),
			}
			m := [3]float32{
				float32(rand.Float64()*0.4 + 0.4),
				float32(rand.Float64()*0.4 - 0.2),
				float32(rand.Float64()*0.4 - 1),
			}
			f.Update(g, a, m)
			if n := norm(f); math.Abs(n-1) > normTolerance {
				fmt.Printf("%s step %d: norm %f\n", mode, i, n)
				t.FailNow()
			}
		}
	}
}

func TestIdentityIsFixedPoint(t *testing.T) {
	f := NewFilter(DefaultConfig())
	for i := 0; i < 1000; i++ {
		f.UpdateAHRS(0, 0, 0, 0, 0, 1, 1, 0, 0)
	}
	q0, q1, q2, q3 := f.Quaternion()
	if q1 != 0 || q2 != 0 || q3 != 0 || math.Abs(float64(q0)-1) > normTolerance {
		t.Errorf("level, north-facing and still: got %v %v %v %v, want 1 0 0 0", q0, q1, q2, q3)
	}
	ex, ey, ez := f.IntegralError()
	if ex != 0 || ey != 0 || ez != 0 {
		t.Errorf("integral error accumulated to %v %v %v", ex, ey, ez)
	}
}

func TestConsistentAttitudeIsStable(t *testing.T) {
	var e quaternion.Quaternion
	e.W, e.X, e.Y, e.Z = ToQuaternion(0.3, -0.2, 1.0)
	a, m := toSensor(e, up), toSensor(e, field)

	f := NewFilter(DefaultConfig())
	f.q0, f.q1, f.q2, f.q3 = float32(e.W), float32(e.X), float32(e.Y), float32(e.Z)
	for i := 0; i < 2000; i++ {
		f.UpdateAHRS(0, 0, 0, a[0], a[1], a[2], m[0], m[1], m[2])
	}
	checkAttitude(t, f, e, 5e-3)
}

func TestConvergesToAttitude(t *testing.T) {
	var e quaternion.Quaternion
	e.W, e.X, e.Y, e.Z = ToQuaternion(0.3, -0.2, 1.0)
	a, m := toSensor(e, up), toSensor(e, field)

	f := NewFilter(DefaultConfig())
	for i := 0; i < 3000; i++ {
		f.Update([3]float32{}, a, m)
	}
	checkAttitude(t, f, e, 5e-3)

	roll, pitch, yaw := f.RollPitchYaw()
	if math.Abs(roll-0.3) > 1e-2 || math.Abs(pitch+0.2) > 1e-2 || math.Abs(yaw-1.0) > 1e-2 {
		t.Errorf("got roll %f pitch %f yaw %f, want 0.3 -0.2 1.0", roll, pitch, yaw)
	}
}

func checkAttitude(t *testing.T, f *Filter, e quaternion.Quaternion, tol float64) {
	t.Helper()
	q := unitQuaternion(f)
	if math.Abs(q.W-e.W) > tol || math.Abs(q.X-e.X) > tol ||
		math.Abs(q.Y-e.Y) > tol || math.Abs(q.Z-e.Z) > tol {
		fmt.Printf("Got  %+6.4f %+6.4f %+6.4f %+6.4f\n", q.W, q.X, q.Y, q.Z)
		fmt.Printf("Want %+6.4f %+6.4f %+6.4f %+6.4f\n", e.W, e.X, e.Y, e.Z)
		t.Fail()
	}
}

func TestInvertedGravity(t *testing.T) {
	// Exactly antiparallel gravity has no cross product to correct with.
	f := NewFilter(DefaultConfig())
	f.UpdateAHRS(0, 0, 0, 0, 0, -1, 1, 0, 0)
	if _, q1, q2, q3 := f.Quaternion(); q1 != 0 || q2 != 0 || q3 != 0 {
		t.Errorf("antiparallel gravity moved the attitude: %v %v %v", q1, q2, q3)
	}

	// Any tilt off the antiparallel axis rolls the estimate over.
	f.Reset()
	for i := 0; i < 100; i++ {
		f.UpdateAHRS(0, 0, 0, 0, 0.05, -1, 1, 0, 0)
	}
	if _, q1, _, _ := f.Quaternion(); math.Abs(float64(q1)) < 0.05 {
		t.Errorf("after 100 updates q1 = %v, want a measurable roll", q1)
	}
	for i := 0; i < 2900; i++ {
		f.UpdateAHRS(0, 0, 0, 0, 0.05, -1, 1, 0, 0)
	}
	if _, q1, _, _ := f.Quaternion(); math.Abs(float64(q1)) < 0.9 {
		t.Errorf("after 3000 updates q1 = %v, want upside down", q1)
	}
}

func TestIMUModeMatchesGravity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeIMU
	f := NewFilter(cfg)

	var e quaternion.Quaternion
	e.W, e.X, e.Y, e.Z = ToQuaternion(0.4, 0.25, 0)
	a := toSensor(e, up)
	for i := 0; i < 3000; i++ {
		f.Update([3]float32{}, a, [3]float32{0.5, 0, -0.5})
	}

	// Yaw is unobservable from gravity, so compare the predicted gravity direction.
	// The fixed step size keeps the estimate chattering around the minimum.
	q := unitQuaternion(f)
	v := toSensor(q, up)
	for i := range v {
		if math.Abs(float64(v[i]-a[i])) > 1e-2 {
			fmt.Printf("Predicted gravity %v, measured %v\n", v, a)
			t.FailNow()
		}
	}
}

func TestIMUZeroAccelIntegratesGyro(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeIMU
	f := NewFilter(cfg)
	f.Update([3]float32{0.1, 0, 0}, [3]float32{}, [3]float32{})

	q0, q1, q2, q3 := f.Quaternion()
	// One step of q' = q + 0.5*q*(0,g)*dt from identity
	want := 0.5 * 0.1 * cfg.SamplePeriod.Seconds()
	if math.Abs(float64(q1/q0)-want) > 1e-6 || q2 != 0 || q3 != 0 {
		t.Errorf("got %v %v %v %v, want q1/q0 = %v", q0, q1, q2, q3, want)
	}
}

func TestAutoFallsBackToIMU(t *testing.T) {
	imuCfg := DefaultConfig()
	imuCfg.Mode = ModeIMU
	auto, imu := NewFilter(DefaultConfig()), NewFilter(imuCfg)

	g := [3]float32{0.01, -0.02, 0.03}
	a := [3]float32{0.1, 0.2, 0.95}
	for i := 0; i < 50; i++ {
		auto.Update(g, a, [3]float32{})
		imu.Update(g, a, [3]float32{1, 1, 1})
	}
	a0, a1, a2, a3 := auto.Quaternion()
	i0, i1, i2, i3 := imu.Quaternion()
	if a0 != i0 || a1 != i1 || a2 != i2 || a3 != i3 {
		t.Errorf("auto %v %v %v %v, imu %v %v %v %v", a0, a1, a2, a3, i0, i1, i2, i3)
	}
}

func TestAHRSZeroFieldGivesNoCorrection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAHRS
	f := NewFilter(cfg)
	f.Update([3]float32{0, 0, 0.1}, [3]float32{0, 0, 1}, [3]float32{})
	q0, q1, q2, q3 := f.Quaternion()
	if math.IsNaN(float64(q0)) || q1 != 0 || q2 != 0 || q3 <= 0 {
		t.Errorf("zero field: got %v %v %v %v, want a pure yaw step", q0, q1, q2, q3)
	}
}

func TestNaNIsSticky(t *testing.T) {
	nan := float32(math.NaN())
	f := NewFilter(DefaultConfig())
	f.Update([3]float32{nan, 0, 0}, [3]float32{0, 0, 1}, [3]float32{1, 0, 0})
	if q0, _, _, _ := f.Quaternion(); !math.IsNaN(float64(q0)) {
		t.Fatalf("NaN gyro gave q0 = %v, want NaN", q0)
	}

	for i := 0; i < 10; i++ {
		f.Update([3]float32{}, [3]float32{0, 0, 1}, [3]float32{1, 0, 0})
	}
	if q0, _, _, _ := f.Quaternion(); !math.IsNaN(float64(q0)) {
		t.Errorf("NaN state recovered by itself: q0 = %v", q0)
	}

	f.Reset()
	f.Update([3]float32{}, [3]float32{0, 0, 1}, [3]float32{1, 0, 0})
	if q0, q1, q2, q3 := f.Quaternion(); q1 != 0 || q2 != 0 || q3 != 0 || math.IsNaN(float64(q0)) {
		t.Errorf("after Reset got %v %v %v %v", q0, q1, q2, q3)
	}
}

func TestIntegralCancelsGyroBias(t *testing.T) {
	run := func(limit float32) *Filter {
		cfg := DefaultConfig()
		cfg.IntegralLimit = limit
		f := NewFilter(cfg)
		for i := 0; i < 20000; i++ {
			f.UpdateAHRS(0.05, 0, 0, 0, 0, 1, 1, 0, 0)
		}
		return f
	}

	f := run(0)
	ex, _, _ := f.IntegralError()
	if math.Abs(float64(ex)+0.05) > 1e-3 {
		t.Errorf("unbounded integral error %v, want -0.05", ex)
	}
	if _, q1, _, _ := f.Quaternion(); math.Abs(float64(q1)) > 1e-3 {
		t.Errorf("bias not cancelled, q1 = %v", q1)
	}

	f = run(0.01)
	ex, ey, ez := f.IntegralError()
	if ex != -0.01 || ey != 0 || ez != 0 {
		t.Errorf("bounded integral error %v %v %v, want -0.01 0 0", ex, ey, ez)
	}
	if _, q1, _, _ := f.Quaternion(); q1 < 5e-3 {
		t.Errorf("clamped integral should leave a residual roll, q1 = %v", q1)
	}
}

func TestFiltersAreIndependent(t *testing.T) {
	f1, f2 := NewFilter(DefaultConfig()), NewFilter(DefaultConfig())
	for i := 0; i < 100; i++ {
		f1.UpdateAHRS(0.5, 0, 0, 0, 0, 1, 1, 0, 0)
	}
	if q0, q1, q2, q3 := f2.Quaternion(); q0 != 1 || q1 != 0 || q2 != 0 || q3 != 0 {
		t.Errorf("untouched filter moved to %v %v %v %v", q0, q1, q2, q3)
	}
	if _, q1, _, _ := f1.Quaternion(); q1 == 0 {
		t.Error("updated filter did not move")
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeAuto, ModeAHRS, ModeIMU} {
		if got, ok := ParseMode(m.String()); !ok || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, ok)
		}
	}
	if _, ok := ParseMode("kalman"); ok {
		t.Error("ParseMode accepted an unknown mode")
	}
}
