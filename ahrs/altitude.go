package ahrs

import (
	"log"
	"math"

	"github.com/skelterjohn/go.matrix"

	"github.com/David-OConnor/quadcopter/sensors"
)

// AltFilter is a two-state Kalman filter over altitude and vertical
// speed, fed by barometer and GNSS frames. It runs at the (much lower)
// baro/GNSS rate and its output never gates the attitude/rate path.
type AltFilter struct {
	x *matrix.DenseMatrix // [alt; vspeed]
	p *matrix.DenseMatrix // state covariance
	q *matrix.DenseMatrix // process noise per second

	baroVar float64
	gnssVar float64
	t       sensors.Ticks
}

// NewAltFilter returns an altitude filter with large initial
// uncertainty; the first measurement dominates.
func NewAltFilter() *AltFilter {
	a := &AltFilter{
		x:       matrix.Zeros(2, 1),
		p:       matrix.Diagonal([]float64{1e4, 1e2}),
		q:       matrix.Diagonal([]float64{0.05, 0.5}),
		baroVar: 1.0, // m², typical short-term baro noise
		gnssVar: 4.0, // m², vertical GNSS is noisy
	}
	return a
}

// Predict advances the state to time t under constant vertical speed.
// Time that does not advance is ignored; the filter clock never rewinds.
func (a *AltFilter) Predict(t sensors.Ticks) {
	if a.t == 0 {
		a.t = t
		return
	}
	if t <= a.t {
		return
	}
	dt := (t - a.t).Seconds()
	a.t = t

	f := matrix.Eye(2)
	f.Set(0, 1, dt)
	a.x = matrix.Product(f, a.x)
	a.p = matrix.Sum(matrix.Product(f, matrix.Product(a.p, f.Transpose())), matrix.Scaled(a.q, dt))
}

// UpdateBaro folds a barometric altitude measurement in.
func (a *AltFilter) UpdateBaro(alt float64, t sensors.Ticks) {
	a.Predict(t)
	a.scalarUpdate(0, alt, a.baroVar)
}

// UpdateGNSS folds a GNSS altitude and vertical-speed measurement in.
func (a *AltFilter) UpdateGNSS(alt, vspeed float64, t sensors.Ticks) {
	a.Predict(t)
	a.scalarUpdate(0, alt, a.gnssVar)
	a.scalarUpdate(1, vspeed, a.gnssVar)
}

// scalarUpdate applies a single-element measurement of state index i.
func (a *AltFilter) scalarUpdate(i int, z, r float64) {
	h := matrix.Zeros(1, 2)
	h.Set(0, i, 1)

	y := z - a.x.Get(i, 0)
	s := matrix.Sum(matrix.Product(h, matrix.Product(a.p, h.Transpose())), matrix.Diagonal([]float64{r}))
	sinv, err := s.Inverse()
	if err != nil {
		log.Println("AHRS: can't invert altitude innovation covariance")
		return
	}
	k := matrix.Product(a.p, matrix.Product(h.Transpose(), sinv))
	a.x.Set(0, 0, a.x.Get(0, 0)+k.Get(0, 0)*y)
	a.x.Set(1, 0, a.x.Get(1, 0)+k.Get(1, 0)*y)
	a.p = matrix.Product(matrix.Difference(matrix.Eye(2), matrix.Product(k, h)), a.p)
}

// State returns the current altitude (m MSL) and vertical speed (m/s,
// positive up).
func (a *AltFilter) State() (alt, vspeed float64) {
	return a.x.Get(0, 0), a.x.Get(1, 0)
}

// Uncertainty returns the 1-sigma altitude uncertainty in meters.
func (a *AltFilter) Uncertainty() float64 {
	v := a.p.Get(0, 0)
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}
