package control

import (
	"errors"
	"fmt"
)

var (
	ErrNoChannels    = errors.New("mixer: table has no channels")
	ErrAxisUncovered = errors.New("mixer: required axis has no authority")
	ErrBadRange      = errors.New("mixer: channel min/max out of order")
)

// Channel maps the torque/thrust demand onto one actuator.
type Channel struct {
	Roll, Pitch, Yaw float64
	Thrust           float64
	Min, Max         float64
}

// Table is the static mixing matrix for an airframe. It is validated
// once at load; Mix itself never fails.
type Table struct {
	Channels []Channel

	// Axes that must be controllable for the airframe to fly.
	NeedRoll, NeedPitch, NeedYaw, NeedThrust bool
}

// Validate checks the table is flyable: every required axis has at
// least one channel with nonzero weight, and each channel's output
// range is well ordered. A failure here must refuse arming.
func (t Table) Validate() error {
	if len(t.Channels) == 0 {
		return ErrNoChannels
	}
	var roll, pitch, yaw, thrust bool
	for i, ch := range t.Channels {
		if ch.Min >= ch.Max {
			return fmt.Errorf("%w: channel %d [%g, %g]", ErrBadRange, i, ch.Min, ch.Max)
		}
		roll = roll || ch.Roll != 0
		pitch = pitch || ch.Pitch != 0
		yaw = yaw || ch.Yaw != 0
		thrust = thrust || ch.Thrust != 0
	}
	if t.NeedRoll && !roll {
		return fmt.Errorf("%w: roll", ErrAxisUncovered)
	}
	if t.NeedPitch && !pitch {
		return fmt.Errorf("%w: pitch", ErrAxisUncovered)
	}
	if t.NeedYaw && !yaw {
		return fmt.Errorf("%w: yaw", ErrAxisUncovered)
	}
	if t.NeedThrust && !thrust {
		return fmt.Errorf("%w: thrust", ErrAxisUncovered)
	}
	return nil
}

// Mix maps a demand to per-channel outputs. When any channel would
// exceed its range, all torque contributions are rescaled by one common
// factor so that torque ratios between channels are preserved; thrust
// keeps priority over torque.
func (t Table) Mix(d Demand) []float64 {
	out := make([]float64, len(t.Channels))
	t.MixInto(d, out)
	return out
}

// MixInto is Mix without the allocation. len(out) must equal the
// channel count.
func (t Table) MixInto(d Demand, out []float64) {
	// Worst-case overshoot determines the common torque scale.
	scale := 1.0
	for _, ch := range t.Channels {
		base := ch.Thrust * d.Thrust
		torque := ch.Roll*d.Roll + ch.Pitch*d.Pitch + ch.Yaw*d.Yaw
		if torque > 0 {
			if room := ch.Max - base; torque > room {
				if s := room / torque; s < scale {
					scale = s
				}
			}
		} else if torque < 0 {
			if room := base - ch.Min; -torque > room {
				if s := room / -torque; s < scale {
					scale = s
				}
			}
		}
	}
	if scale < 0 {
		// Thrust alone is already outside the range; torque authority
		// is gone for this tick.
		scale = 0
	}

	for i, ch := range t.Channels {
		v := ch.Thrust*d.Thrust + scale*(ch.Roll*d.Roll+ch.Pitch*d.Pitch+ch.Yaw*d.Yaw)
		if v > ch.Max {
			v = ch.Max
		} else if v < ch.Min {
			v = ch.Min
		}
		out[i] = v
	}
}
