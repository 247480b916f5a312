package control

import (
	"github.com/David-OConnor/quadcopter/ahrs"
)

// Mode selects which parameters the cascaded loops hold fixed.
type Mode uint8

const (
	// ModeRate commands angular rates directly (acro).
	ModeRate Mode = iota
	// ModeAttitude commands an attitude; the outer loop produces the
	// rate targets.
	ModeAttitude
	// ModeAltHold is attitude hold plus closed-loop altitude; thrust
	// comes from the altitude controller instead of the stick.
	ModeAltHold
)

// Source identifies who produced a setpoint.
type Source uint8

const (
	SourceStick Source = iota
	SourceAutopilot
	SourceFailsafe
)

// Setpoint is the resolved command consumed once per control tick.
// Last writer wins; stale values simply keep being applied.
type Setpoint struct {
	Mode   Mode
	Source Source

	// Rate targets, rad/s (ModeRate).
	RollRate, PitchRate, YawRate float64
	// Attitude targets, rad (ModeAttitude, ModeAltHold).
	Roll, Pitch, Heading float64
	// Altitude target, m MSL (ModeAltHold).
	Alt float64
	// Throttle 0..1 (ModeRate, ModeAttitude).
	Throttle float64
}

// Demand is the normalized output of the control law: torque demands in
// -1..1 per rotational axis and thrust in 0..1.
type Demand struct {
	Roll, Pitch, Yaw float64
	Thrust           float64
}

// LawConfig tunes the cascaded loops.
type LawConfig struct {
	RateGains [3]Gains // roll, pitch, yaw
	AttGains  [3]Gains
	AltGains  Gains

	MaxRate       [3]float64 // outer-loop output clamp, rad/s
	IntegralClamp float64    // rate-loop accumulator bound
	AttIntegral   float64    // attitude-loop accumulator bound
	DLowpass      float64

	// Throttle PID attenuation: past TPABreakpoint the rate-loop D term
	// falls linearly to TPAMinAtten at full throttle.
	TPABreakpoint float64
	TPAMinAtten   float64

	HoverThrottle float64 // feedforward thrust for altitude hold
}

// DefaultLawConfig returns gains suitable for a small quad.
func DefaultLawConfig() LawConfig {
	return LawConfig{
		RateGains:     [3]Gains{{Kp: 0.10, Ki: 0.50, Kd: 0.0030}, {Kp: 0.10, Ki: 0.50, Kd: 0.0030}, {Kp: 0.30, Ki: 0.01, Kd: 0}},
		AttGains:      [3]Gains{{Kp: 6}, {Kp: 6}, {Kp: 3}},
		AltGains:      Gains{Kp: 0.12, Ki: 0.04},
		MaxRate:       [3]float64{10, 10, 6},
		IntegralClamp: 0.4,
		AttIntegral:   1.0,
		DLowpass:      0.7,
		TPABreakpoint: 0.3,
		TPAMinAtten:   0.5,
		HoverThrottle: 0.4,
	}
}

// Law is the cascaded controller. It exclusively owns its per-axis PID
// state; Update must be called from the control tasks only.
type Law struct {
	cfg LawConfig

	rate [3]PID
	att  [3]PID
	alt  PID

	mode Mode
}

// NewLaw builds the controller in rate mode.
func NewLaw(cfg LawConfig) *Law {
	l := &Law{cfg: cfg}
	for i := 0; i < 3; i++ {
		l.rate[i] = NewPID(cfg.RateGains[i], cfg.IntegralClamp, 1)
		l.rate[i].DLowpass = cfg.DLowpass
		l.att[i] = NewPID(cfg.AttGains[i], cfg.AttIntegral, cfg.MaxRate[i])
	}
	l.alt = NewPID(cfg.AltGains, 0.3, 0.6)
	return l
}

// Mode returns the active control mode.
func (l *Law) Mode() Mode { return l.mode }

// setMode switches modes, resetting the newly activated loops so the
// transition does not kick the vehicle.
func (l *Law) setMode(m Mode) {
	if m == l.mode {
		return
	}
	switch m {
	case ModeAttitude:
		for i := range l.att {
			l.att[i].Reset()
		}
	case ModeAltHold:
		for i := range l.att {
			l.att[i].Reset()
		}
		l.alt.Reset()
	}
	l.mode = m
}

// tpa returns the throttle PID attenuation factor for the rate-loop D
// term.
func (l *Law) tpa(throttle float64) float64 {
	bp := l.cfg.TPABreakpoint
	if throttle <= bp {
		return 1
	}
	slope := (l.cfg.TPAMinAtten - 1) / (1 - bp)
	a := 1 + slope*(throttle-bp)
	if a < l.cfg.TPAMinAtten {
		a = l.cfg.TPAMinAtten
	}
	return a
}

// RateTargets runs the outer loop: attitude (and altitude) error to
// desired body rates and thrust. In rate mode the setpoint passes
// through untouched. Output rates are clamped to the configured limits.
func (l *Law) RateTargets(est ahrs.Estimate, sp Setpoint, dt float64) (rates [3]float64, thrust float64) {
	l.setMode(sp.Mode)

	switch l.mode {
	case ModeRate:
		rates[0] = clamp(sp.RollRate, l.cfg.MaxRate[0])
		rates[1] = clamp(sp.PitchRate, l.cfg.MaxRate[1])
		rates[2] = clamp(sp.YawRate, l.cfg.MaxRate[2])
		thrust = sp.Throttle

	case ModeAttitude, ModeAltHold:
		d0, d1, d2, d3 := ahrs.ToQuaternion(sp.Roll, sp.Pitch, sp.Heading)
		e1, e2, e3 := ahrs.AttitudeError(est.E0, est.E1, est.E2, est.E3, d0, d1, d2, d3)
		errs := [3]float64{e1, e2, e3}
		for i := 0; i < 3; i++ {
			// The attitude loop regulates the residual to zero.
			rates[i] = l.att[i].Update(errs[i], 0, dt)
			rates[i] = clamp(rates[i], l.cfg.MaxRate[i])
		}
		if l.mode == ModeAltHold {
			thrust = l.cfg.HoverThrottle + l.alt.Update(sp.Alt, est.Alt, dt)
		} else {
			thrust = sp.Throttle
		}
	}

	if thrust < 0 {
		thrust = 0
	} else if thrust > 1 {
		thrust = 1
	}
	return rates, thrust
}

// TorqueDemand runs the inner rate loop for one tick: desired body
// rates and the current estimate to normalized torque demands. Given
// the same estimate, targets and controller state the result is always
// identical.
func (l *Law) TorqueDemand(est ahrs.Estimate, rates [3]float64, thrust float64, dt float64) Demand {
	atten := l.tpa(thrust)
	meas := [3]float64{est.P, est.Q, est.R}
	var out [3]float64
	for i := 0; i < 3; i++ {
		l.rate[i].DScale = atten
		out[i] = l.rate[i].Update(rates[i], meas[i], dt)
	}
	return Demand{Roll: out[0], Pitch: out[1], Yaw: out[2], Thrust: thrust}
}

// Reset clears all loop state, e.g. on disarm.
func (l *Law) Reset() {
	for i := 0; i < 3; i++ {
		l.rate[i].Reset()
		l.att[i].Reset()
	}
	l.alt.Reset()
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
