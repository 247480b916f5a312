package control

import (
	"math"
	"testing"
)

func TestPIDProportional(t *testing.T) {
	c := NewPID(Gains{Kp: 2}, 1, 10)
	if out := c.Update(1, 0, 0.01); out != 2 {
		t.Errorf("proportional output: got %f, want 2", out)
	}
	if out := c.Update(1, 0.5, 0.01); out != 1 {
		t.Errorf("proportional output: got %f, want 1", out)
	}
}

func TestPIDDeterministic(t *testing.T) {
	a := NewPID(Gains{Kp: 0.1, Ki: 0.5, Kd: 0.003}, 0.4, 1)
	b := NewPID(Gains{Kp: 0.1, Ki: 0.5, Kd: 0.003}, 0.4, 1)
	a.DLowpass = 0.7
	b.DLowpass = 0.7

	for i := 0; i < 1000; i++ {
		sp := math.Sin(float64(i) / 50)
		meas := math.Sin(float64(i)/50 - 0.2)
		oa := a.Update(sp, meas, 0.001)
		ob := b.Update(sp, meas, 0.001)
		if oa != ob {
			t.Fatalf("outputs diverged at step %d: %g vs %g", i, oa, ob)
		}
	}
}

func TestPIDIntegralClamp(t *testing.T) {
	c := NewPID(Gains{Ki: 1}, 0.4, 10)
	for i := 0; i < 10000; i++ {
		c.Update(1, 0, 0.001)
	}
	if c.Integral > 0.4+1e-12 {
		t.Errorf("integral exceeded clamp: %f", c.Integral)
	}
}

func TestPIDAntiWindup(t *testing.T) {
	c := NewPID(Gains{Kp: 10, Ki: 1}, 5, 1)

	// Saturate the output high with a persistent error.
	for i := 0; i < 1000; i++ {
		c.Update(1, 0, 0.001)
	}
	wound := c.Integral
	// More of the same error must not wind the integrator further.
	c.Update(1, 0, 0.001)
	if c.Integral != wound {
		t.Errorf("integrator advanced while saturated: %f -> %f", wound, c.Integral)
	}

	// Error reversal bleeds the accumulator even before desaturation.
	c.Update(-1, 0, 0.001)
	if c.Integral >= wound {
		t.Error("integrator did not bleed on error reversal")
	}
}

func TestPIDNoDerivativeKick(t *testing.T) {
	c := NewPID(Gains{Kp: 1, Kd: 1}, 1, 100)

	c.Update(0, 0, 0.001)
	// Setpoint step with an unchanged measurement: derivative term must
	// contribute nothing.
	out := c.Update(10, 0, 0.001)
	if out != 10 {
		t.Errorf("setpoint step output: got %f, want pure P response 10", out)
	}
}

func TestPIDDerivativeOnMeasurement(t *testing.T) {
	c := NewPID(Gains{Kd: 0.01}, 1, 100)

	c.Update(0, 0, 0.001)
	// Measurement rising at 100/s opposes with a negative D term.
	out := c.Update(0, 0.1, 0.001)
	if out >= 0 {
		t.Errorf("derivative should oppose rising measurement, got %f", out)
	}
}

func TestPIDDScale(t *testing.T) {
	full := NewPID(Gains{Kd: 0.01}, 1, 100)
	half := NewPID(Gains{Kd: 0.01}, 1, 100)
	half.DScale = 0.5

	full.Update(0, 0, 0.001)
	half.Update(0, 0, 0.001)
	of := full.Update(0, 0.1, 0.001)
	oh := half.Update(0, 0.1, 0.001)
	if math.Abs(oh-of/2) > 1e-12 {
		t.Errorf("attenuated D: got %f, want %f", oh, of/2)
	}
}

func TestPIDReset(t *testing.T) {
	c := NewPID(Gains{Kp: 1, Ki: 1, Kd: 1}, 1, 10)
	for i := 0; i < 100; i++ {
		c.Update(1, float64(i)*0.01, 0.001)
	}
	c.Reset()
	if c.Integral != 0 || c.PrevOut != 0 || c.primed {
		t.Error("state survived reset")
	}
	// First post-reset update has no derivative history.
	out := c.Update(0, 5, 0.001)
	if out != c.Ki*c.Integral+c.Kp*(-5) {
		t.Errorf("post-reset output carried derivative: %f", out)
	}
}
