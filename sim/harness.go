package sim

import (
	"github.com/David-OConnor/quadcopter/control"
	"github.com/David-OConnor/quadcopter/fc"
	"github.com/David-OConnor/quadcopter/fcconfig"
	"github.com/David-OConnor/quadcopter/sensors"
)

// Step periods, µs. Gyro frames arrive every step; slower sensors are
// decimated from it.
const (
	StepTicks  = 1000 // 1 kHz base rate
	accelEvery = 4
	magEvery   = 20
	baroEvery  = 40
	telemEvery = 100
)

// capture records mixed outputs and adapts them back onto the vehicle.
type capture struct {
	table control.Table
	out   []float64

	torque [3]float64
	thrust float64
}

func (c *capture) Apply(outputs []float64) {
	c.out = append(c.out[:0], outputs...)
	// Recover net torque and thrust from the per-channel outputs using
	// the table weights as a pseudo-inverse for symmetric airframes.
	var torque [3]float64
	var thrust, thrustW float64
	for i, ch := range c.table.Channels {
		torque[0] += ch.Roll * outputs[i]
		torque[1] += ch.Pitch * outputs[i]
		torque[2] += ch.Yaw * outputs[i]
		if ch.Thrust != 0 {
			thrust += outputs[i] * ch.Thrust
			thrustW += ch.Thrust
		}
	}
	n := float64(len(c.table.Channels))
	for i := range torque {
		c.torque[i] = torque[i] / n
	}
	if thrustW > 0 {
		c.thrust = thrust / thrustW
	}
}

// Harness closes the loop: the vehicle model feeds synthesized sensors
// into the controller and applies the controller's outputs back to the
// body, all on a deterministic simulated clock.
type Harness struct {
	Vehicle *Vehicle
	FC      *fc.FC

	cap  *capture
	now  sensors.Ticks
	step uint64
}

// NewHarness builds a closed loop from cfg. The configuration must
// validate. Telemetry and CAN sinks in opt are honored; the actuator
// sink and clock belong to the harness.
func NewHarness(cfg fcconfig.Config, seed int64, opt fc.Options) (*Harness, error) {
	table, err := cfg.MixerTable()
	if err != nil {
		return nil, err
	}
	h := &Harness{Vehicle: NewVehicle(seed), cap: &capture{table: table}}
	opt.Actuators = h.cap
	opt.Clock = func() sensors.Ticks { return h.now }
	ctrl, err := fc.New(cfg, opt)
	if err != nil {
		return nil, err
	}
	h.FC = ctrl
	return h, nil
}

// Now returns the simulated time.
func (h *Harness) Now() sensors.Ticks { return h.now }

// Command delivers a stick command to the controller.
func (h *Harness) Command(sp control.Setpoint, armSwitch bool) {
	h.FC.PushCommand(sp, armSwitch)
	h.FC.Dispatcher().RunPending()
}

// Step advances the simulation by one base period: physics, sensor
// synthesis, then a full drain of the dispatcher.
func (h *Harness) Step() {
	dt := float64(StepTicks) / float64(sensors.TickHz)
	h.Vehicle.Step(h.cap.torque, h.cap.thrust, dt)
	h.now += StepTicks
	h.step++

	if h.step%accelEvery == 0 {
		h.FC.PushSensor(h.Vehicle.AccelFrame(h.now))
	}
	if h.step%magEvery == 0 {
		h.FC.PushSensor(h.Vehicle.MagFrame(h.now))
	}
	if h.step%baroEvery == 0 {
		h.FC.PushSensor(h.Vehicle.BaroFrame(h.now))
	}
	h.FC.PushSensor(h.Vehicle.GyroFrame(h.now))
	if h.step%telemEvery == 0 {
		h.FC.TickTelemetry()
	}
	h.FC.Dispatcher().RunPending()
}

// Run advances the simulation n steps.
func (h *Harness) Run(n int) {
	for i := 0; i < n; i++ {
		h.Step()
	}
}
