package control

import (
	"math"
	"testing"

	"github.com/David-OConnor/quadcopter/ahrs"
)

func levelEstimate() ahrs.Estimate {
	return ahrs.Estimate{E0: 1}
}

func TestRateModePassthrough(t *testing.T) {
	l := NewLaw(DefaultLawConfig())
	sp := Setpoint{Mode: ModeRate, RollRate: 2, PitchRate: -1, YawRate: 0.5, Throttle: 0.6}
	rates, thrust := l.RateTargets(levelEstimate(), sp, 0.001)
	if rates != [3]float64{2, -1, 0.5} {
		t.Errorf("rate passthrough: got %v", rates)
	}
	if thrust != 0.6 {
		t.Errorf("thrust passthrough: got %f", thrust)
	}
}

func TestRateModeClampsToLimits(t *testing.T) {
	cfg := DefaultLawConfig()
	l := NewLaw(cfg)
	sp := Setpoint{Mode: ModeRate, RollRate: 100, YawRate: -100}
	rates, _ := l.RateTargets(levelEstimate(), sp, 0.001)
	if rates[0] != cfg.MaxRate[0] || rates[2] != -cfg.MaxRate[2] {
		t.Errorf("rates not clamped: %v", rates)
	}
}

func TestAttitudeModeSteersTowardSetpoint(t *testing.T) {
	l := NewLaw(DefaultLawConfig())
	sp := Setpoint{Mode: ModeAttitude, Roll: 0.3, Throttle: 0.5}
	rates, _ := l.RateTargets(levelEstimate(), sp, 0.001)
	if rates[0] <= 0 {
		t.Errorf("roll-right setpoint should demand positive roll rate, got %f", rates[0])
	}
	if math.Abs(rates[1]) > 0.05 || math.Abs(rates[2]) > 0.05 {
		t.Errorf("cross-axis rates leaked: %v", rates)
	}
}

func TestModeSwitchResetsLoops(t *testing.T) {
	cfg := DefaultLawConfig()
	cfg.AttGains[0].Ki = 0.5
	l := NewLaw(cfg)

	// Wind up the attitude loop.
	sp := Setpoint{Mode: ModeAttitude, Roll: 0.5, Throttle: 0.5}
	for i := 0; i < 100; i++ {
		l.RateTargets(levelEstimate(), sp, 0.001)
	}
	wound := l.att[0].Integral
	if wound == 0 {
		t.Fatal("attitude integrator did not wind up")
	}

	// Leave and re-enter attitude mode: the loop restarts clean, with
	// at most one fresh update accumulated.
	l.RateTargets(levelEstimate(), Setpoint{Mode: ModeRate}, 0.001)
	l.RateTargets(levelEstimate(), sp, 0.001)
	if math.Abs(l.att[0].Integral) > math.Abs(wound)/10 {
		t.Errorf("attitude integrator survived mode switch: %f (was %f)", l.att[0].Integral, wound)
	}
}

func TestTPAAttenuation(t *testing.T) {
	cfg := DefaultLawConfig()
	l := NewLaw(cfg)

	if a := l.tpa(0); a != 1 {
		t.Errorf("attenuation at idle: got %f, want 1", a)
	}
	if a := l.tpa(cfg.TPABreakpoint); a != 1 {
		t.Errorf("attenuation at breakpoint: got %f, want 1", a)
	}
	if a := l.tpa(1); math.Abs(a-cfg.TPAMinAtten) > 1e-12 {
		t.Errorf("attenuation at full throttle: got %f, want %f", a, cfg.TPAMinAtten)
	}
	mid := (cfg.TPABreakpoint + 1) / 2
	if a := l.tpa(mid); a <= cfg.TPAMinAtten || a >= 1 {
		t.Errorf("attenuation not interpolating: %f", a)
	}
}

func TestTorqueDemandDeterministic(t *testing.T) {
	a := NewLaw(DefaultLawConfig())
	b := NewLaw(DefaultLawConfig())

	est := levelEstimate()
	est.P = 0.5
	for i := 0; i < 200; i++ {
		da := a.TorqueDemand(est, [3]float64{1, 0, 0}, 0.5, 0.001)
		db := b.TorqueDemand(est, [3]float64{1, 0, 0}, 0.5, 0.001)
		if da != db {
			t.Fatalf("demands diverged at step %d", i)
		}
	}
}

func TestTorqueDemandOpposesRate(t *testing.T) {
	l := NewLaw(DefaultLawConfig())
	est := levelEstimate()
	est.P = 2 // rolling right, zero target
	d := l.TorqueDemand(est, [3]float64{0, 0, 0}, 0.5, 0.001)
	if d.Roll >= 0 {
		t.Errorf("rate loop should oppose uncommanded roll, got %f", d.Roll)
	}
}

func TestAltHoldThrustResponds(t *testing.T) {
	cfg := DefaultLawConfig()
	l := NewLaw(cfg)

	below := levelEstimate()
	below.Alt = 10
	sp := Setpoint{Mode: ModeAltHold, Alt: 20}
	_, thrustLow := l.RateTargets(below, sp, 0.001)

	l2 := NewLaw(cfg)
	above := levelEstimate()
	above.Alt = 30
	_, thrustHigh := l2.RateTargets(above, sp, 0.001)

	if thrustLow <= thrustHigh {
		t.Errorf("thrust should rise below target: below=%f above=%f", thrustLow, thrustHigh)
	}
	if thrustLow <= cfg.HoverThrottle {
		t.Errorf("thrust below target should exceed hover feedforward: %f", thrustLow)
	}
}

func TestRateTargetsThrustClamped(t *testing.T) {
	l := NewLaw(DefaultLawConfig())
	sp := Setpoint{Mode: ModeRate, Throttle: 5}
	_, thrust := l.RateTargets(levelEstimate(), sp, 0.001)
	if thrust != 1 {
		t.Errorf("thrust not clamped: %f", thrust)
	}
}
