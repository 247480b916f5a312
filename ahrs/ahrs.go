// Package ahrs fuses gyro, accelerometer, magnetometer, barometer and
// GNSS samples into a continuously updated attitude, angular-rate and
// altitude estimate for the flight control loops.
//
// The attitude filter is a gain-scheduled complementary filter: gyro
// frames propagate the orientation through the quaternion exponential
// map, and accelerometer/magnetometer frames nudge it toward the
// gravity/field-implied reference. The correction weight falls off
// automatically when the measured specific force deviates from 1 g, so
// aggressive maneuvers do not corrupt the attitude. Altitude and
// vertical speed come from a separate two-state Kalman filter fed by
// baro and GNSS; its output never gates the attitude path.
package ahrs

import (
	"log"
	"math"

	"github.com/David-OConnor/quadcopter/sched"
	"github.com/David-OConnor/quadcopter/sensors"
)

const (
	Pi    = math.Pi
	G     = 9.80665 // m/s²
	Small = 1e-9
	Big   = 1e9
	Deg   = Pi / 180
	// Exponential decay constant for measurement variance accumulators.
	MMDecay = 1 - 1.0/50
)

// Estimate is an immutable snapshot of the fused vehicle state. The
// orientation is always a unit quaternion; readers never observe a
// partially updated orientation/rate pair.
type Estimate struct {
	E0, E1, E2, E3 float64 // unit quaternion rotating body frame to earth frame
	P, Q, R        float64 // body angular rates about roll/pitch/yaw axes, rad/s
	Alt            float64 // altitude MSL, m
	VSpeed         float64 // vertical speed, m/s (positive up)
	Confidence     float64 // 0..1, correction trust at last update
	T              sensors.Ticks
}

// RollPitchHeading returns the snapshot attitude as Tait-Bryan angles
// in radians.
func (e *Estimate) RollPitchHeading() (roll, pitch, heading float64) {
	return FromQuaternion(e.E0, e.E1, e.E2, e.E3)
}

// Config holds the filter tuning and the plausibility bounds applied to
// incoming frames.
type Config struct {
	KpAccel float64 // accel correction gain, 1/s
	KiAccel float64 // gyro-bias correction gain, 1/s²
	KpMag   float64 // heading correction gain, 1/s

	// AccelMargin is the deviation from 1 g, in m/s², within which the
	// accel correction carries full weight. The weight falls linearly to
	// zero at twice the margin.
	AccelMargin float64

	GyroLimits  sensors.Limits
	AccelLimits sensors.Limits
	MagLimits   sensors.Limits
	BaroLimits  sensors.Limits
	GNSSLimits  sensors.Limits

	// DegradeAfter is the number of consecutive rejected frames after
	// which a source is marked degraded and the estimator falls back to
	// the remaining sources.
	DegradeAfter uint32
}

// DefaultConfig returns tuning suitable for a small multirotor.
func DefaultConfig() Config {
	return Config{
		KpAccel:      2.0,
		KiAccel:      0.05,
		KpMag:        0.5,
		AccelMargin:  0.1 * G,
		GyroLimits:   sensors.Limits{Max: 35, MaxAge: 20_000},     // rad/s
		AccelLimits:  sensors.Limits{Max: 16 * G, MaxAge: 50_000}, // m/s²
		MagLimits:    sensors.Limits{Max: 200, MaxAge: 100_000},   // µT
		BaroLimits:   sensors.Limits{Max: 12_000, MaxAge: 500_000},
		GNSSLimits:   sensors.Limits{Max: 12_000, MaxAge: 1_000_000},
		DegradeAfter: 10,
	}
}

// Filter is the state estimator. It exclusively owns the mutable
// estimate; HandleFrame must be called from a single task.
type Filter struct {
	cfg Config

	e0, e1, e2, e3 float64 // orientation, body to earth
	p, q, r        float64 // body rates, rad/s
	b1, b2, b3     float64 // gyro bias, rad/s
	t              sensors.Ticks
	lastAccel      sensors.Ticks
	lastMag        sensors.Ticks
	confidence     float64
	initialized    bool

	alt    *AltFilter
	health [5]SourceHealth

	accelDevVar func(float64) (float64, float64, float64)

	snap sched.Cell[Estimate]
}

// New returns a Filter initialized to level attitude at rest.
func New(cfg Config) *Filter {
	f := &Filter{
		cfg:         cfg,
		e0:          1,
		confidence:  1,
		alt:         NewAltFilter(),
		accelDevVar: NewVarianceAccumulator(0, 0.5, MMDecay),
	}
	f.publish()
	return f
}

// HandleFrame folds one sensor frame into the estimate. Implausible
// frames are rejected and counted; they never reach the fusion math.
func (f *Filter) HandleFrame(fr sensors.Frame) {
	switch fr.Kind {
	case sensors.Gyro:
		if !f.plausible(fr, f.cfg.GyroLimits) {
			return
		}
		f.propagate(fr)
	case sensors.Accel:
		if !f.plausible(fr, f.cfg.AccelLimits) {
			return
		}
		f.correctAccel(fr)
	case sensors.Mag:
		if !f.plausible(fr, f.cfg.MagLimits) {
			return
		}
		f.correctMag(fr)
	case sensors.Baro:
		if !f.plausibleScalar(fr, f.cfg.BaroLimits) {
			return
		}
		f.alt.UpdateBaro(fr.Value, fr.T)
		f.publish()
	case sensors.GNSS:
		if !f.plausibleScalar(fr, f.cfg.GNSSLimits) {
			return
		}
		f.alt.UpdateGNSS(fr.Value, -fr.Vec[2], fr.T)
		f.publish()
	}
}

// Snapshot returns the most recently published estimate.
func (f *Filter) Snapshot() (Estimate, bool) { return f.snap.Load() }

// Health returns a copy of the health record for one source.
func (f *Filter) Health(k sensors.Kind) SourceHealth { return f.health[k] }

func (f *Filter) plausible(fr sensors.Frame, lim sensors.Limits) bool {
	h := &f.health[fr.Kind]
	mag := math.Sqrt(fr.Vec[0]*fr.Vec[0] + fr.Vec[1]*fr.Vec[1] + fr.Vec[2]*fr.Vec[2])
	if !fr.Valid || mag > lim.Max || f.stale(fr.T, lim) {
		h.reject(fr.Kind, f.cfg.DegradeAfter)
		return false
	}
	h.accept(fr.Kind, f.cfg.DegradeAfter)
	return !h.Degraded()
}

func (f *Filter) plausibleScalar(fr sensors.Frame, lim sensors.Limits) bool {
	h := &f.health[fr.Kind]
	if !fr.Valid || math.Abs(fr.Value) > lim.Max || f.stale(fr.T, lim) {
		h.reject(fr.Kind, f.cfg.DegradeAfter)
		return false
	}
	h.accept(fr.Kind, f.cfg.DegradeAfter)
	return !h.Degraded()
}

// stale reports whether a frame timestamp is more than MaxAge behind
// the current estimate. Slow sources lag the gyro-driven estimate time
// by a frame or two; MaxAge bounds how far behind is still usable.
func (f *Filter) stale(t sensors.Ticks, lim sensors.Limits) bool {
	return f.t > t && f.t-t > lim.MaxAge
}

// propagate integrates one gyro frame into the orientation.
func (f *Filter) propagate(fr sensors.Frame) {
	if !f.initialized {
		f.t = fr.T
		f.initialized = true
	}
	if fr.T < f.t {
		// Plausible but late: the estimate has already moved past this
		// sample, and filter time never runs backwards.
		return
	}
	dt := (fr.T - f.t).Seconds()
	f.t = fr.T

	f.p = fr.Vec[0] - f.b1
	f.q = fr.Vec[1] - f.b2
	f.r = fr.Vec[2] - f.b3

	d0, d1, d2, d3 := QuatExp(f.p*dt, f.q*dt, f.r*dt)
	f.e0, f.e1, f.e2, f.e3 = QuatMul(f.e0, f.e1, f.e2, f.e3, d0, d1, d2, d3)
	f.normalize()

	f.alt.Predict(fr.T)
	f.publish()
}

// accelWeight is the gain schedule for the accelerometer correction.
// Full weight within AccelMargin of 1 g, linear falloff to zero at twice
// the margin: the further the specific force is from gravity, the less
// the reading says about which way is down.
func (f *Filter) accelWeight(dev float64) float64 {
	m := f.cfg.AccelMargin
	switch {
	case dev <= m:
		return 1
	case dev >= 2*m:
		return 0
	default:
		return (2*m - dev) / m
	}
}

// correctAccel nudges the orientation toward the gravity-implied
// vertical.
func (f *Filter) correctAccel(fr sensors.Frame) {
	a1, a2, a3 := fr.Vec[0], fr.Vec[1], fr.Vec[2]
	norm := math.Sqrt(a1*a1 + a2*a2 + a3*a3)
	if norm < Small {
		f.health[sensors.Accel].reject(sensors.Accel, f.cfg.DegradeAfter)
		return
	}
	dev := math.Abs(norm - G)
	w := f.accelWeight(dev)
	// Accumulated scatter of the deviation discounts the trust further:
	// a sensor whose magnitude jumps around says little about down even
	// when each individual reading sits near 1 g.
	_, _, devVar := f.accelDevVar(dev)
	m := f.cfg.AccelMargin
	f.confidence = w * m * m / (m*m + devVar)
	if w == 0 {
		return
	}

	dt := (fr.T - f.lastAccel).Seconds()
	if f.lastAccel == 0 || dt <= 0 || dt > 0.5 {
		f.lastAccel = fr.T
		return
	}
	f.lastAccel = fr.T

	// Gravity-implied down in body axes (specific force opposes
	// gravity) vs the down direction the current attitude predicts.
	m1, m2, m3 := -a1/norm, -a2/norm, -a3/norm
	v1, v2, v3 := RotateToBody(f.e0, f.e1, f.e2, f.e3, 0, 0, 1)

	// Error rotation, body axes: measured x predicted.
	x1 := m2*v3 - m3*v2
	x2 := m3*v1 - m1*v3
	x3 := m1*v2 - m2*v1

	k := f.cfg.KpAccel * w * dt
	d0, d1, d2, d3 := QuatExp(k*x1, k*x2, k*x3)
	f.e0, f.e1, f.e2, f.e3 = QuatMul(f.e0, f.e1, f.e2, f.e3, d0, d1, d2, d3)
	f.normalize()

	// Bleed the residual into the gyro bias estimate.
	ki := f.cfg.KiAccel * w * dt
	f.b1 -= ki * x1
	f.b2 -= ki * x2
	f.b3 -= ki * x3

	f.publish()
}

// correctMag applies a heading-only correction from the magnetometer.
// Roll and pitch are untouched: the field is projected into the earth
// horizontal plane first.
func (f *Filter) correctMag(fr sensors.Frame) {
	h1, h2, _ := RotateToEarth(f.e0, f.e1, f.e2, f.e3, fr.Vec[0], fr.Vec[1], fr.Vec[2])
	if math.Hypot(h1, h2) < Small {
		f.health[sensors.Mag].reject(sensors.Mag, f.cfg.DegradeAfter)
		return
	}
	hdgErr := math.Atan2(h2, h1) // field should point north

	dt := (fr.T - f.lastMag).Seconds()
	if f.lastMag == 0 || dt <= 0 || dt > 1 {
		f.lastMag = fr.T
		return
	}
	f.lastMag = fr.T

	// Rotation about earth down axis, expressed in body axes.
	k := f.cfg.KpMag * dt
	z1, z2, z3 := RotateToBody(f.e0, f.e1, f.e2, f.e3, 0, 0, 1)
	d0, d1, d2, d3 := QuatExp(-k*hdgErr*z1, -k*hdgErr*z2, -k*hdgErr*z3)
	f.e0, f.e1, f.e2, f.e3 = QuatMul(f.e0, f.e1, f.e2, f.e3, d0, d1, d2, d3)
	f.normalize()
	f.publish()
}

// normalize restores the unit-quaternion invariant after every fusion
// update.
func (f *Filter) normalize() {
	ee := math.Sqrt(f.e0*f.e0 + f.e1*f.e1 + f.e2*f.e2 + f.e3*f.e3)
	if ee < Small {
		log.Println("AHRS: orientation collapsed, resetting to level")
		f.e0, f.e1, f.e2, f.e3 = 1, 0, 0, 0
		return
	}
	f.e0 /= ee
	f.e1 /= ee
	f.e2 /= ee
	f.e3 /= ee
}

func (f *Filter) publish() {
	alt, vs := f.alt.State()
	f.snap.Store(Estimate{
		E0: f.e0, E1: f.e1, E2: f.e2, E3: f.e3,
		P: f.p, Q: f.q, R: f.r,
		Alt: alt, VSpeed: vs,
		Confidence: f.confidence,
		T:          f.t,
	})
}
