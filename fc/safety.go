// Package fc assembles the flight controller: sensor intake, the
// estimator and control-law tasks on the dispatcher, arming safety,
// failsafe handling, parameter access and the CAN bus interface.
package fc

import (
	"log"

	"github.com/David-OConnor/quadcopter/sensors"
)

// ArmStatus is the motor-enable state.
type ArmStatus uint8

const (
	// Disarmed: motors forced off; the initial state.
	Disarmed ArmStatus = iota
	// Armed: control outputs reach the motors.
	Armed
	// Failsafe: autonomous descent; only a disarm leaves this state.
	Failsafe
)

func (s ArmStatus) String() string {
	switch s {
	case Disarmed:
		return "disarmed"
	case Armed:
		return "armed"
	case Failsafe:
		return "failsafe"
	}
	return "unknown"
}

// armConsecRequired arm signals must arrive in a row before the motors
// enable, so a single corrupted command frame cannot arm the vehicle.
const armConsecRequired = 5

// idleThrottle is the stick level below which the throttle counts as
// idle for arming.
const idleThrottle = 0.02

// FailsafeReason records what tripped the failsafe latch.
type FailsafeReason uint8

const (
	FailsafeNone FailsafeReason = iota
	FailsafeLostLink
	FailsafeOverrun
	FailsafeEstimator
	FailsafeCommanded
)

func (r FailsafeReason) String() string {
	switch r {
	case FailsafeNone:
		return "none"
	case FailsafeLostLink:
		return "lost-link"
	case FailsafeOverrun:
		return "task-overrun"
	case FailsafeEstimator:
		return "estimator"
	case FailsafeCommanded:
		return "commanded"
	}
	return "unknown"
}

// Safety is the arming state machine. It starts disarmed and refuses to
// arm until it has seen at least one explicit disarm signal, so a
// transmitter left switched to arm cannot start the motors at power-on.
// Not safe for concurrent use on its own; the controller serializes all
// access through one critical section.
type Safety struct {
	status      ArmStatus
	reason      FailsafeReason
	seenDisarm  bool
	armStreak   uint32
	lastCommand sensors.Ticks

	// LinkTimeout is how long the command link may be silent while
	// armed before the failsafe latches.
	LinkTimeout sensors.Ticks

	onFailsafe func(FailsafeReason)
}

// NewSafety returns the state machine in the disarmed state.
func NewSafety(linkTimeout sensors.Ticks) *Safety {
	return &Safety{LinkTimeout: linkTimeout}
}

// OnFailsafe registers the hook run when the failsafe latches. It fires
// exactly once per latch.
func (s *Safety) OnFailsafe(f func(FailsafeReason)) { s.onFailsafe = f }

// Status returns the current arm state.
func (s *Safety) Status() ArmStatus { return s.status }

// Reason returns what latched the failsafe, or FailsafeNone.
func (s *Safety) Reason() FailsafeReason { return s.reason }

// HandleCommand processes one received command frame's arm switch and
// throttle. Returns the arm state after the update.
func (s *Safety) HandleCommand(armSwitch bool, throttle float64, now sensors.Ticks) ArmStatus {
	s.lastCommand = now

	if !armSwitch {
		s.seenDisarm = true
		s.armStreak = 0
		if s.status != Disarmed {
			log.Printf("SAFETY: disarmed (was %s)", s.status)
		}
		s.status = Disarmed
		s.reason = FailsafeNone
		return s.status
	}

	// Arm requested.
	switch s.status {
	case Armed, Failsafe:
		// Already armed, or failsafe: failsafe only clears on disarm.
		return s.status
	}
	if !s.seenDisarm {
		return s.status
	}
	if throttle > idleThrottle {
		s.armStreak = 0
		return s.status
	}
	s.armStreak++
	if s.armStreak >= armConsecRequired {
		s.status = Armed
		log.Printf("SAFETY: armed")
	}
	return s.status
}

// CheckLink latches the failsafe if the vehicle is armed and no command
// frame has arrived within LinkTimeout.
func (s *Safety) CheckLink(now sensors.Ticks) {
	if s.status != Armed || s.LinkTimeout == 0 {
		return
	}
	if now-s.lastCommand > s.LinkTimeout {
		s.Trip(FailsafeLostLink)
	}
}

// Trip latches the failsafe. Repeated trips while already latched are
// ignored; the hook fires only on the transition.
func (s *Safety) Trip(reason FailsafeReason) {
	if s.status == Failsafe || s.status == Disarmed {
		return
	}
	s.status = Failsafe
	s.reason = reason
	log.Printf("SAFETY: failsafe latched, reason %s", reason)
	if s.onFailsafe != nil {
		s.onFailsafe(reason)
	}
}
