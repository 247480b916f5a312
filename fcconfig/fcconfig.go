// Package fcconfig loads and validates the flight controller
// configuration file. A configuration that fails validation must never
// reach an armed vehicle, so Load refuses rather than repairs.
package fcconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/David-OConnor/quadcopter/ahrs"
	"github.com/David-OConnor/quadcopter/control"
)

// GainsConfig is one PID triple in the file.
type GainsConfig struct {
	P float64 `yaml:"p"`
	I float64 `yaml:"i"`
	D float64 `yaml:"d"`
}

func (g GainsConfig) gains() control.Gains { return control.Gains{Kp: g.P, Ki: g.I, Kd: g.D} }

// ControlConfig tunes the cascaded loops.
type ControlConfig struct {
	RateRoll  GainsConfig `yaml:"rate_roll"`
	RatePitch GainsConfig `yaml:"rate_pitch"`
	RateYaw   GainsConfig `yaml:"rate_yaw"`
	AttRoll   GainsConfig `yaml:"att_roll"`
	AttPitch  GainsConfig `yaml:"att_pitch"`
	AttYaw    GainsConfig `yaml:"att_yaw"`
	Alt       GainsConfig `yaml:"alt"`

	MaxRateRollPitch float64 `yaml:"max_rate_roll_pitch"` // rad/s
	MaxRateYaw       float64 `yaml:"max_rate_yaw"`        // rad/s
	IntegralClamp    float64 `yaml:"integral_clamp"`
	TPABreakpoint    float64 `yaml:"tpa_breakpoint"`
	TPAMinAtten      float64 `yaml:"tpa_min_atten"`
	HoverThrottle    float64 `yaml:"hover_throttle"`
}

// EstimatorConfig tunes the attitude filter.
type EstimatorConfig struct {
	KpAccel      float64 `yaml:"kp_accel"`
	KiAccel      float64 `yaml:"ki_accel"`
	KpMag        float64 `yaml:"kp_mag"`
	AccelMargin  float64 `yaml:"accel_margin"` // m/s² deviation from 1 g
	DegradeAfter uint32  `yaml:"degrade_after"`
}

// FailsafeConfig sets the link-loss and overrun escalation thresholds.
type FailsafeConfig struct {
	LinkTimeoutMs   uint32  `yaml:"link_timeout_ms"`
	OverrunLimit    uint32  `yaml:"overrun_limit"`
	MissedGyroMax   uint32  `yaml:"missed_gyro_max"`
	DescendThrottle float64 `yaml:"descend_throttle"`
}

// ChannelConfig is one mixer row in the file.
type ChannelConfig struct {
	Roll   float64 `yaml:"roll"`
	Pitch  float64 `yaml:"pitch"`
	Yaw    float64 `yaml:"yaw"`
	Thrust float64 `yaml:"thrust"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
}

// Config is the full on-disk configuration.
type Config struct {
	Airframe string          `yaml:"airframe"` // "quad_x", "flying_wing", "custom"
	Channels []ChannelConfig `yaml:"channels"` // required for "custom"

	Control   ControlConfig   `yaml:"control"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Failsafe  FailsafeConfig  `yaml:"failsafe"`

	CANNodeID     uint8  `yaml:"can_node_id"`
	TelemetryAddr string `yaml:"telemetry_addr"`
	RCPort        string `yaml:"rc_port"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	lc := control.DefaultLawConfig()
	ec := ahrs.DefaultConfig()
	return Config{
		Airframe: "quad_x",
		Control: ControlConfig{
			RateRoll:  GainsConfig{lc.RateGains[0].Kp, lc.RateGains[0].Ki, lc.RateGains[0].Kd},
			RatePitch: GainsConfig{lc.RateGains[1].Kp, lc.RateGains[1].Ki, lc.RateGains[1].Kd},
			RateYaw:   GainsConfig{lc.RateGains[2].Kp, lc.RateGains[2].Ki, lc.RateGains[2].Kd},
			AttRoll:   GainsConfig{lc.AttGains[0].Kp, lc.AttGains[0].Ki, lc.AttGains[0].Kd},
			AttPitch:  GainsConfig{lc.AttGains[1].Kp, lc.AttGains[1].Ki, lc.AttGains[1].Kd},
			AttYaw:    GainsConfig{lc.AttGains[2].Kp, lc.AttGains[2].Ki, lc.AttGains[2].Kd},
			Alt:       GainsConfig{lc.AltGains.Kp, lc.AltGains.Ki, lc.AltGains.Kd},

			MaxRateRollPitch: lc.MaxRate[0],
			MaxRateYaw:       lc.MaxRate[2],
			IntegralClamp:    lc.IntegralClamp,
			TPABreakpoint:    lc.TPABreakpoint,
			TPAMinAtten:      lc.TPAMinAtten,
			HoverThrottle:    lc.HoverThrottle,
		},
		Estimator: EstimatorConfig{
			KpAccel:      ec.KpAccel,
			KiAccel:      ec.KiAccel,
			KpMag:        ec.KpMag,
			AccelMargin:  ec.AccelMargin,
			DegradeAfter: ec.DegradeAfter,
		},
		Failsafe: FailsafeConfig{
			LinkTimeoutMs:   1000,
			OverrunLimit:    3,
			MissedGyroMax:   10,
			DescendThrottle: 0.3,
		},
		CANNodeID:     42,
		TelemetryAddr: ":8000",
		RCPort:        "/dev/ttyS1",
	}
}

// Load reads path, fills unset fields from Default, and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("fcconfig: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("fcconfig: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that are not safe to fly.
func (c *Config) Validate() error {
	if _, err := c.MixerTable(); err != nil {
		return err
	}
	if c.CANNodeID == 0 || c.CANNodeID > 127 {
		return fmt.Errorf("fcconfig: can_node_id %d out of range 1..127", c.CANNodeID)
	}
	fc := c.Control
	if fc.MaxRateRollPitch <= 0 || fc.MaxRateYaw <= 0 {
		return fmt.Errorf("fcconfig: max rates must be positive")
	}
	if fc.IntegralClamp <= 0 {
		return fmt.Errorf("fcconfig: integral_clamp must be positive")
	}
	if fc.TPAMinAtten <= 0 || fc.TPAMinAtten > 1 {
		return fmt.Errorf("fcconfig: tpa_min_atten %g out of range (0, 1]", fc.TPAMinAtten)
	}
	if fc.TPABreakpoint < 0 || fc.TPABreakpoint >= 1 {
		return fmt.Errorf("fcconfig: tpa_breakpoint %g out of range [0, 1)", fc.TPABreakpoint)
	}
	if c.Estimator.AccelMargin <= 0 {
		return fmt.Errorf("fcconfig: accel_margin must be positive")
	}
	if c.Failsafe.LinkTimeoutMs == 0 || c.Failsafe.MissedGyroMax == 0 {
		return fmt.Errorf("fcconfig: failsafe thresholds must be nonzero")
	}
	return nil
}

// MixerTable builds and validates the mixing table named by Airframe.
func (c *Config) MixerTable() (control.Table, error) {
	var t control.Table
	switch c.Airframe {
	case "quad_x":
		t = control.QuadXTable()
	case "flying_wing":
		t = control.FlyingWingTable()
	case "custom":
		for _, ch := range c.Channels {
			t.Channels = append(t.Channels, control.Channel{
				Roll: ch.Roll, Pitch: ch.Pitch, Yaw: ch.Yaw, Thrust: ch.Thrust,
				Min: ch.Min, Max: ch.Max,
			})
		}
		t.NeedRoll, t.NeedPitch, t.NeedThrust = true, true, true
	default:
		return t, fmt.Errorf("fcconfig: unknown airframe %q", c.Airframe)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// LawConfig assembles the control-law tuning.
func (c *Config) LawConfig() control.LawConfig {
	fc := c.Control
	return control.LawConfig{
		RateGains:     [3]control.Gains{fc.RateRoll.gains(), fc.RatePitch.gains(), fc.RateYaw.gains()},
		AttGains:      [3]control.Gains{fc.AttRoll.gains(), fc.AttPitch.gains(), fc.AttYaw.gains()},
		AltGains:      fc.Alt.gains(),
		MaxRate:       [3]float64{fc.MaxRateRollPitch, fc.MaxRateRollPitch, fc.MaxRateYaw},
		IntegralClamp: fc.IntegralClamp,
		AttIntegral:   1.0,
		DLowpass:      0.7,
		TPABreakpoint: fc.TPABreakpoint,
		TPAMinAtten:   fc.TPAMinAtten,
		HoverThrottle: fc.HoverThrottle,
	}
}

// AHRSConfig assembles the attitude-filter tuning.
func (c *Config) AHRSConfig() ahrs.Config {
	a := ahrs.DefaultConfig()
	a.KpAccel = c.Estimator.KpAccel
	a.KiAccel = c.Estimator.KiAccel
	a.KpMag = c.Estimator.KpMag
	a.AccelMargin = c.Estimator.AccelMargin
	a.DegradeAfter = c.Estimator.DegradeAfter
	return a
}
