package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/skelterjohn/go.matrix"
	"github.com/westphae/quaternion"

	"github.com/westphae/goahrs/sensors"
)

// Scale factors of the sensor stick parts at their default settings
const (
	AccelCounts = 256                    // per g, ADXL345 full resolution
	GyroCounts  = 14.375 * 180 / math.Pi // per rad/s, ITG3200
	MagCounts   = 1090                   // per gauss, HMC5883L gain 1
	SelfTestG   = 1.16                   // gauss, HMC5883L positive self-test field
)

// Source is a sensors.SampleSource and sensors.MagnetometerConfigurer that
// reports what a sensor following a Scenario would read.  It is not safe for
// concurrent use.
type Source struct {
	Scenario *Scenario

	Gravity  [3]float64 // Specific force at rest, earth frame, g
	Field    [3]float64 // Magnetic field, earth frame, gauss
	SelfTest [3]float64 // Added to the field under positive self-test bias, sensor frame, gauss

	GyroBias                        [3]float64 // Zero-rate output, counts
	AccelNoise, GyroNoise, MagNoise float64    // Gaussian standard deviation, counts

	t       float64
	rng     *rand.Rand
	magBias sensors.MagBias
	magGain uint8
	magMode sensors.MagMode
	magRate sensors.MagRate
}

// NewSource returns a noiseless, unbiased source at the beginning of sc in a
// field dipping 53 degrees below north.  seed drives the noise once it is set.
func NewSource(sc *Scenario, seed int64) *Source {
	return &Source{
		Scenario: sc,
		Gravity:  [3]float64{0, 0, 1},
		Field:    [3]float64{0.3, 0, -0.4},
		SelfTest: [3]float64{SelfTestG, SelfTestG, SelfTestG},
		t:        sc.BeginTime(),
		rng:      rand.New(rand.NewSource(seed)),
		magGain:  1,
		magMode:  sensors.MagModeSingle,
		magRate:  sensors.MagRate75,
	}
}

// Step advances the scenario clock by dt.
func (s *Source) Step(dt time.Duration) {
	s.t += dt.Seconds()
}

// Time returns the scenario clock, s.
func (s *Source) Time() float64 {
	return s.t
}

// MagSettings returns the magnetometer state last set through the
// sensors.MagnetometerConfigurer methods.
func (s *Source) MagSettings() (sensors.MagBias, uint8, sensors.MagMode, sensors.MagRate) {
	return s.magBias, s.magGain, s.magMode, s.magRate
}

func (s *Source) ReadAcceleration() (x, y, z int16, err error) {
	q, err := s.Scenario.Attitude(s.t)
	if err != nil {
		return 0, 0, 0, err
	}
	v := toSensor(q, s.Gravity)
	x, y, z = s.counts(v, AccelCounts, [3]float64{}, s.AccelNoise)
	return x, y, z, nil
}

func (s *Source) ReadAngularRate() (x, y, z int16, err error) {
	w, err := s.Scenario.BodyRate(s.t)
	if err != nil {
		return 0, 0, 0, err
	}
	x, y, z = s.counts(w, GyroCounts, s.GyroBias, s.GyroNoise)
	return x, y, z, nil
}

func (s *Source) ReadMagneticField() (x, y, z int16, err error) {
	if s.magMode == sensors.MagModeIdle {
		return 0, 0, 0, nil
	}
	q, err := s.Scenario.Attitude(s.t)
	if err != nil {
		return 0, 0, 0, err
	}
	v := toSensor(q, s.Field)
	for i := range v {
		switch s.magBias {
		case sensors.MagBiasPositive:
			v[i] += s.SelfTest[i]
		case sensors.MagBiasNegative:
			v[i] -= s.SelfTest[i]
		}
	}
	x, y, z = s.counts(v, MagCounts, [3]float64{}, s.MagNoise)
	return x, y, z, nil
}

func (s *Source) SetMagSelfTest(bias sensors.MagBias, gain uint8) error {
	s.magBias, s.magGain = bias, gain
	return nil
}

func (s *Source) SetMagMode(mode sensors.MagMode, rate sensors.MagRate) error {
	s.magMode, s.magRate = mode, rate
	return nil
}

// counts scales v to sensor counts, adds bias and noise, and saturates at the int16 range.
func (s *Source) counts(v [3]float64, scale float64, bias [3]float64, noise float64) (x, y, z int16) {
	var c [3]int16
	for i := range v {
		r := v[i]*scale + bias[i]
		if noise > 0 {
			r += noise * s.rng.NormFloat64()
		}
		r = math.Round(r)
		switch {
		case r > math.MaxInt16:
			c[i] = math.MaxInt16
		case r < math.MinInt16:
			c[i] = math.MinInt16
		default:
			c[i] = int16(r)
		}
	}
	return c[0], c[1], c[2]
}

// rotation returns the matrix of q, rotating sensor frame vectors into the earth frame.
func rotation(q quaternion.Quaternion) *matrix.DenseMatrix {
	return matrix.MakeDenseMatrixStacked([][]float64{
		{1 - 2*(q.Y*q.Y+q.Z*q.Z), 2 * (q.X*q.Y - q.W*q.Z), 2 * (q.X*q.Z + q.W*q.Y)},
		{2 * (q.X*q.Y + q.W*q.Z), 1 - 2*(q.X*q.X+q.Z*q.Z), 2 * (q.Y*q.Z - q.W*q.X)},
		{2 * (q.X*q.Z - q.W*q.Y), 2 * (q.Y*q.Z + q.W*q.X), 1 - 2*(q.X*q.X+q.Y*q.Y)},
	})
}

// toSensor rotates the earth frame vector v into the sensor frame of attitude q.
func toSensor(q quaternion.Quaternion, v [3]float64) [3]float64 {
	b := matrix.Product(rotation(q).Transpose(), matrix.MakeDenseMatrix([]float64{v[0], v[1], v[2]}, 3, 1))
	return [3]float64{b.Get(0, 0), b.Get(1, 0), b.Get(2, 0)}
}
