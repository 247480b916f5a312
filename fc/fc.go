package fc

import (
	"log"
	"time"

	"github.com/David-OConnor/quadcopter/ahrs"
	"github.com/David-OConnor/quadcopter/control"
	"github.com/David-OConnor/quadcopter/dronecan"
	"github.com/David-OConnor/quadcopter/fcconfig"
	"github.com/David-OConnor/quadcopter/sched"
	"github.com/David-OConnor/quadcopter/sensors"
)

// ActuatorSink receives the mixed per-channel outputs once per control
// tick. Implementations must not block.
type ActuatorSink interface {
	Apply(outputs []float64)
}

// CANSink transmits one encoded frame. Implementations must not block.
type CANSink interface {
	Send(fr dronecan.Frame) error
}

// Telemetry is one published state record.
type Telemetry struct {
	Estimate ahrs.Estimate
	Status   ArmStatus
	Reason   FailsafeReason
	Demand   control.Demand
}

// TelemetrySink receives periodic state records. Implementations must
// not block; drop rather than stall.
type TelemetrySink interface {
	Publish(t Telemetry)
}

// FC wires the estimator, control law, mixer, safety machine and bus
// codec onto the dispatcher. Construct with New, feed sensor and bus
// data through the Push methods, and run the dispatcher.
type FC struct {
	cfg   fcconfig.Config
	clock func() sensors.Ticks

	filter *ahrs.Filter
	law    *control.Law
	mixer  control.Table

	// section guards safety, which is mutated from the command push
	// path and read by the control tasks.
	section sched.Section
	safety  *Safety
	params  *ParamStore
	codec   dronecan.Codec

	disp *sched.Dispatcher

	sensorQ *sensors.Queue
	canQ    *dronecan.Queue
	command sched.Cell[control.Setpoint]

	actuators ActuatorSink
	can       CANSink
	telemetry TelemetrySink

	// latest outer-loop output, consumed by the rate task
	rateTargets [3]float64
	thrust      float64
	lastDemand  control.Demand
	lastEst     ahrs.Estimate
	lastGyroT   sensors.Ticks
	lastRateT   sensors.Ticks
	lastAttT    sensors.Ticks

	watchedGyroT sensors.Ticks
	missedGyro   uint32
	peerUptime   map[uint8]uint32
	started      time.Time
	out          []float64
}

// Options carries the external interfaces.
type Options struct {
	Actuators ActuatorSink
	CAN       CANSink
	Telemetry TelemetrySink
	// Clock overrides the monotonic tick source, for simulation.
	Clock func() sensors.Ticks
}

// New builds the controller. The configuration must already have passed
// Validate; an invalid mixer table is refused here regardless.
func New(cfg fcconfig.Config, opt Options) (*FC, error) {
	table, err := cfg.MixerTable()
	if err != nil {
		return nil, err
	}
	f := &FC{
		cfg:        cfg,
		filter:     ahrs.New(cfg.AHRSConfig()),
		law:        control.NewLaw(cfg.LawConfig()),
		mixer:      table,
		safety:     NewSafety(sensors.Ticks(cfg.Failsafe.LinkTimeoutMs) * 1000),
		params:     seedParams(cfg),
		sensorQ:    sensors.NewQueue(64),
		canQ:       dronecan.NewQueue(32),
		actuators:  opt.Actuators,
		can:        opt.CAN,
		telemetry:  opt.Telemetry,
		clock:      opt.Clock,
		peerUptime: make(map[uint8]uint32),
		started:    time.Now(),
		out:        make([]float64, len(table.Channels)),
	}
	f.codec.NodeID = cfg.CANNodeID
	if f.clock == nil {
		start := time.Now()
		f.clock = func() sensors.Ticks { return sensors.Ticks(time.Since(start).Microseconds()) }
	}

	disp, err := sched.New(f.taskTable())
	if err != nil {
		return nil, err
	}
	disp.OverrunLimit = uint64(cfg.Failsafe.OverrunLimit)
	disp.OnOverrun(func(task string) {
		f.section.Do(func() { f.safety.Trip(FailsafeOverrun) })
	})
	f.disp = disp
	f.safety.OnFailsafe(f.enterFailsafe)
	return f, nil
}

func seedParams(cfg fcconfig.Config) *ParamStore {
	c := cfg.Control
	return NewParamStore(map[uint8]float32{
		ParamRateRollP:     float32(c.RateRoll.P),
		ParamRateRollI:     float32(c.RateRoll.I),
		ParamRateRollD:     float32(c.RateRoll.D),
		ParamRatePitchP:    float32(c.RatePitch.P),
		ParamRatePitchI:    float32(c.RatePitch.I),
		ParamRatePitchD:    float32(c.RatePitch.D),
		ParamRateYawP:      float32(c.RateYaw.P),
		ParamRateYawI:      float32(c.RateYaw.I),
		ParamAttRollP:      float32(c.AttRoll.P),
		ParamAttPitchP:     float32(c.AttPitch.P),
		ParamAttYawP:       float32(c.AttYaw.P),
		ParamTPABreakpoint: float32(c.TPABreakpoint),
		ParamTPAMinAtten:   float32(c.TPAMinAtten),
		ParamHoverThrottle: float32(c.HoverThrottle),
		ParamLinkTimeoutMs: float32(cfg.Failsafe.LinkTimeoutMs),
		ParamCANNodeID:     float32(cfg.CANNodeID),
	})
}

// Dispatcher exposes the task dispatcher for running and inspection.
func (f *FC) Dispatcher() *sched.Dispatcher { return f.disp }

// Safety exposes the arming state machine.
func (f *FC) Safety() *Safety { return f.safety }

// Params exposes the live parameter store.
func (f *FC) Params() *ParamStore { return f.params }

// Estimator exposes the attitude filter.
func (f *FC) Estimator() *ahrs.Filter { return f.filter }

// PushSensor enqueues one sensor frame and triggers the matching task.
func (f *FC) PushSensor(fr sensors.Frame) {
	f.sensorQ.Push(fr)
	if fr.Kind == sensors.Gyro {
		f.disp.Inject(sched.GyroReady)
	} else {
		f.disp.Inject(sched.AttitudeTick)
	}
}

// PushCAN enqueues one received bus frame and triggers the bus task.
func (f *FC) PushCAN(fr dronecan.Frame) {
	f.canQ.Push(fr)
	f.disp.Inject(sched.CANRx)
}

// PushCommand delivers one resolved setpoint from the command link.
// armSwitch and the setpoint throttle feed the arming machine. Safe to
// call while the dispatcher runs on another goroutine.
func (f *FC) PushCommand(sp control.Setpoint, armSwitch bool) {
	now := f.clock()
	f.section.Do(func() {
		f.command.Store(sp)
		f.safety.HandleCommand(armSwitch, sp.Throttle, now)
	})
	f.disp.Inject(sched.CommandRx)
}

// TickTelemetry triggers the periodic housekeeping task.
func (f *FC) TickTelemetry() { f.disp.Inject(sched.TelemetryTick) }

// enterFailsafe replaces the active setpoint with a level descent. It
// runs once, on the latch transition.
func (f *FC) enterFailsafe(reason FailsafeReason) {
	f.command.Store(control.Setpoint{
		Mode:     control.ModeAttitude,
		Source:   control.SourceFailsafe,
		Throttle: f.cfg.Failsafe.DescendThrottle,
	})
	if f.can != nil {
		stop := dronecan.EmergencyStop{Reason: stopReason(reason)}
		if fr, err := f.codec.Encode(&stop); err == nil {
			if err := f.can.Send(fr); err != nil {
				log.Printf("FC: emergency stop tx: %v", err)
			}
		}
	}
}

func stopReason(r FailsafeReason) uint8 {
	switch r {
	case FailsafeLostLink:
		return dronecan.StopReasonLostLink
	case FailsafeOverrun:
		return dronecan.StopReasonOverrun
	case FailsafeEstimator:
		return dronecan.StopReasonEstimator
	}
	return dronecan.StopReasonOperator
}
