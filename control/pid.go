// Package control implements the cascaded flight control law: an outer
// attitude/altitude loop producing rate and thrust targets, an inner
// rate loop producing normalized torque demands, and the mixer mapping
// demands to per-actuator commands for the configured airframe.
package control

// Gains holds one PID loop's coefficients.
type Gains struct {
	Kp float64
	Ki float64
	Kd float64
}

// PID is a single-axis controller with anti-windup and
// derivative-on-measurement. The derivative acts on the measured value,
// not the error, so a setpoint step produces no derivative kick. All
// state lives in the exported fields read by diagnostics; given
// identical inputs the output is identical.
type PID struct {
	Gains

	// IntegralClamp bounds the integral accumulator (both signs).
	IntegralClamp float64
	// OutMin, OutMax bound the output. While the output is saturated the
	// integrator is frozen against further windup in the saturated
	// direction.
	OutMin, OutMax float64
	// DLowpass is a one-pole smoothing coefficient for the derivative
	// term, 0..1; higher is smoother. Zero disables filtering.
	DLowpass float64
	// DScale attenuates the derivative term, e.g. throttle PID
	// attenuation on the rate loop. 1 is no attenuation.
	DScale float64

	Integral float64
	PrevMeas float64
	PrevOut  float64
	dFilt    float64
	primed   bool
}

// NewPID returns a controller with the given gains and symmetric output
// range limit.
func NewPID(g Gains, integralClamp, outLimit float64) PID {
	return PID{
		Gains:         g,
		IntegralClamp: integralClamp,
		OutMin:        -outLimit,
		OutMax:        outLimit,
		DScale:        1,
	}
}

// Update advances the controller by dt seconds and returns the clamped
// output.
func (c *PID) Update(setpoint, meas, dt float64) float64 {
	err := setpoint - meas

	if dt <= 0 {
		return c.PrevOut
	}

	// Freeze the integrator while saturated in the same direction the
	// error is pushing; bleed-off still happens when the error reverses.
	saturatedHigh := c.PrevOut >= c.OutMax && err > 0
	saturatedLow := c.PrevOut <= c.OutMin && err < 0
	if !saturatedHigh && !saturatedLow {
		c.Integral += err * dt
		if c.Integral > c.IntegralClamp {
			c.Integral = c.IntegralClamp
		} else if c.Integral < -c.IntegralClamp {
			c.Integral = -c.IntegralClamp
		}
	}

	var d float64
	if c.primed {
		d = -(meas - c.PrevMeas) / dt
	}
	c.PrevMeas = meas
	c.primed = true
	if c.DLowpass > 0 {
		c.dFilt += (1 - c.DLowpass) * (d - c.dFilt)
		d = c.dFilt
	}

	out := c.Kp*err + c.Ki*c.Integral + c.Kd*d*c.DScale
	if out > c.OutMax {
		out = c.OutMax
	} else if out < c.OutMin {
		out = c.OutMin
	}
	c.PrevOut = out
	return out
}

// Reset clears the accumulator and derivative history, e.g. on mode
// transitions, so the newly activated loop starts without a transient
// kick.
func (c *PID) Reset() {
	c.Integral = 0
	c.PrevMeas = 0
	c.PrevOut = 0
	c.dFilt = 0
	c.primed = false
}
