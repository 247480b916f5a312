package ahrs

// NewVarianceAccumulator returns a function that, when passed a float,
// accumulates an exponentially weighted mean and variance with decay
// constant "decay". The accumulator is initialized with observation
// "init" and stdev "dev", and returns the current estimates of the
// effective number of observations, the mean and the variance. The
// estimator uses these to turn raw measurement scatter into the
// confidence scalar published with each snapshot.
func NewVarianceAccumulator(init, dev, decay float64) func(float64) (float64, float64, float64) {
	var (
		n float64 = 1
		m float64 = init
		v float64 = dev * dev
	)

	f := func(obs float64) (float64, float64, float64) {
		d := obs - m
		dm := (1 - decay) * d

		n = 1 + decay*n
		m += dm
		v = decay * (v + dm*d)
		return n, m, v
	}
	return f
}
