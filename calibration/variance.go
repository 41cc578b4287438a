package calibration

// VarianceAccumulator keeps an exponentially weighted running mean and variance
// of a stream of observations.  Every new observation discounts the older ones
// by Decay, which must lie in (0, 1).
type VarianceAccumulator struct {
	Decay float64

	n, mean, variance float64
}

// NewVarianceAccumulator starts an accumulator from a first observation init.
func NewVarianceAccumulator(init, decay float64) *VarianceAccumulator {
	return &VarianceAccumulator{Decay: decay, n: 1, mean: init}
}

// Add folds obs into the running estimates.
func (v *VarianceAccumulator) Add(obs float64) {
	d := obs - v.mean
	dm := (1 - v.Decay) * d

	v.n = 1 + v.Decay*v.n
	v.mean += dm
	v.variance = v.Decay * (v.variance + dm*d)
}

// N is the effective number of observations.
func (v *VarianceAccumulator) N() float64 { return v.n }

func (v *VarianceAccumulator) Mean() float64 { return v.mean }

func (v *VarianceAccumulator) Variance() float64 { return v.variance }
