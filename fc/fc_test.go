package fc

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/David-OConnor/quadcopter/ahrs"
	"github.com/David-OConnor/quadcopter/control"
	"github.com/David-OConnor/quadcopter/dronecan"
	"github.com/David-OConnor/quadcopter/fcconfig"
	"github.com/David-OConnor/quadcopter/sensors"
)

type fakeActuators struct {
	last []float64
	n    int
}

func (a *fakeActuators) Apply(outputs []float64) {
	a.last = append(a.last[:0], outputs...)
	a.n++
}

type fakeCAN struct {
	frames []dronecan.Frame
}

func (c *fakeCAN) Send(fr dronecan.Frame) error {
	c.frames = append(c.frames, fr)
	return nil
}

type rig struct {
	fc  *FC
	act *fakeActuators
	can *fakeCAN
	now sensors.Ticks
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{act: &fakeActuators{}, can: &fakeCAN{}}
	ctrl, err := New(fcconfig.Default(), Options{
		Actuators: r.act,
		CAN:       r.can,
		Clock:     func() sensors.Ticks { return r.now },
	})
	if err != nil {
		t.Fatal(err)
	}
	r.fc = ctrl
	return r
}

func (r *rig) gyro(p, q, v float64) {
	r.now += 1000
	r.fc.PushSensor(sensors.Frame{Kind: sensors.Gyro, T: r.now, Vec: [3]float64{p, q, v}, Valid: true})
	r.fc.Dispatcher().RunPending()
}

func (r *rig) accel() {
	r.now += 1000
	r.fc.PushSensor(sensors.Frame{Kind: sensors.Accel, T: r.now, Vec: [3]float64{0, 0, -ahrs.G}, Valid: true})
	r.fc.Dispatcher().RunPending()
}

func (r *rig) arm(t *testing.T) {
	t.Helper()
	r.fc.PushCommand(control.Setpoint{Mode: control.ModeRate}, false)
	for i := 0; i < armConsecRequired; i++ {
		r.now += 1000
		r.fc.PushCommand(control.Setpoint{Mode: control.ModeRate, Throttle: 0}, true)
	}
	r.fc.Dispatcher().RunPending()
	if r.fc.Safety().Status() != Armed {
		t.Fatal("rig did not arm")
	}
}

func TestDisarmedOutputsAreSafe(t *testing.T) {
	r := newRig(t)
	r.gyro(1, 0, 0)
	if r.act.n == 0 {
		t.Fatal("no outputs applied")
	}
	for i, v := range r.act.last {
		if v != 0 {
			t.Errorf("disarmed motor %d driven: %f", i, v)
		}
	}
}

func TestArmedRateLoopDrivesMotors(t *testing.T) {
	r := newRig(t)
	r.arm(t)

	r.fc.PushCommand(control.Setpoint{Mode: control.ModeRate, Throttle: 0.5}, true)
	r.gyro(0, 0, 0)
	r.gyro(0, 0, 0)

	sum := 0.0
	for _, v := range r.act.last {
		sum += v
	}
	if sum < 1 {
		t.Errorf("throttle 0.5 did not reach the motors: %v", r.act.last)
	}
}

func TestMissedGyroLatchesFailsafeOnce(t *testing.T) {
	cfg := fcconfig.Default()
	r := &rig{act: &fakeActuators{}, can: &fakeCAN{}}
	ctrl, err := New(cfg, Options{
		Actuators: r.act,
		CAN:       r.can,
		Clock:     func() sensors.Ticks { return r.now },
	})
	if err != nil {
		t.Fatal(err)
	}
	r.fc = ctrl
	r.gyro(0, 0, 0)
	r.arm(t)

	// Attitude ticks keep coming but the gyro stream is dead.
	for i := 0; i < int(cfg.Failsafe.MissedGyroMax)+5; i++ {
		r.accel()
	}
	if r.fc.Safety().Status() != Failsafe {
		t.Fatal("stalled gyro did not latch failsafe")
	}
	if r.fc.Safety().Reason() != FailsafeEstimator {
		t.Errorf("reason: %s", r.fc.Safety().Reason())
	}

	// The latch transition broadcast exactly one emergency stop.
	stops := 0
	for i := range r.can.frames {
		_, typeID, _, err := dronecan.SplitID(r.can.frames[i].ID)
		if err == nil && typeID == dronecan.TypeEmergencyStop {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("emergency stops sent: got %d, want 1", stops)
	}
}

func TestLiveGyroDoesNotTripWatchdog(t *testing.T) {
	r := newRig(t)
	r.gyro(0, 0, 0)
	r.arm(t)

	for i := 0; i < 50; i++ {
		r.gyro(0, 0, 0)
		r.accel()
	}
	if r.fc.Safety().Status() != Armed {
		t.Errorf("watchdog tripped with a live gyro: %s", r.fc.Safety().Status())
	}
}

func TestLostLinkOverTelemetryTick(t *testing.T) {
	r := newRig(t)
	r.arm(t)

	r.now += sensors.Ticks(fcconfig.Default().Failsafe.LinkTimeoutMs)*1000 + 1_000_000
	r.fc.TickTelemetry()
	r.fc.Dispatcher().RunPending()

	if r.fc.Safety().Status() != Failsafe {
		t.Error("silent link did not latch failsafe")
	}
	if r.fc.Safety().Reason() != FailsafeLostLink {
		t.Errorf("reason: %s", r.fc.Safety().Reason())
	}
}

func TestParamGetSetOverBus(t *testing.T) {
	r := newRig(t)
	peer := &dronecan.Codec{NodeID: 9}

	// Write a rate gain.
	fr, err := peer.Encode(&dronecan.ParamGetSet{Request: true, Write: true, Index: ParamRateRollP, Value: 0.25})
	if err != nil {
		t.Fatal(err)
	}
	fr.T = 1000
	r.fc.PushCAN(fr)
	r.fc.Dispatcher().RunPending()

	if v, _ := r.fc.Params().Get(ParamRateRollP); v != 0.25 {
		t.Errorf("bus write did not land: %f", v)
	}

	// The reply echoes the live value with the request flag clear.
	var reply *dronecan.ParamGetSet
	rxPeer := &dronecan.Codec{NodeID: 10}
	for i := range r.can.frames {
		msg, _, err := rxPeer.Decode(&r.can.frames[i])
		if err != nil {
			continue
		}
		if p, ok := msg.(*dronecan.ParamGetSet); ok {
			reply = p
		}
	}
	if reply == nil {
		t.Fatal("no param reply on the bus")
	}
	if reply.Request || reply.Index != ParamRateRollP || reply.Value != 0.25 {
		t.Errorf("reply: %+v", reply)
	}
}

func TestProtectedParamRejectedOverBus(t *testing.T) {
	r := newRig(t)
	peer := &dronecan.Codec{NodeID: 9}

	fr, _ := peer.Encode(&dronecan.ParamGetSet{Request: true, Write: true, Index: ParamLinkTimeoutMs, Value: 0})
	r.fc.PushCAN(fr)
	r.fc.Dispatcher().RunPending()

	if v, _ := r.fc.Params().Get(ParamLinkTimeoutMs); v == 0 {
		t.Error("bus write reached a protected parameter")
	}
}

func TestEmergencyStopOverBus(t *testing.T) {
	r := newRig(t)
	r.arm(t)

	peer := &dronecan.Codec{NodeID: 9}
	fr, _ := peer.Encode(&dronecan.EmergencyStop{Reason: dronecan.StopReasonOperator})
	r.fc.PushCAN(fr)
	r.fc.Dispatcher().RunPending()

	if r.fc.Safety().Status() != Failsafe {
		t.Error("bus emergency stop ignored")
	}
}

func TestCommandPushRacesDispatcher(t *testing.T) {
	var now atomic.Uint64
	ctrl, err := New(fcconfig.Default(), Options{
		Actuators: &fakeActuators{},
		Clock:     func() sensors.Ticks { return sensors.Ticks(now.Load()) },
	})
	if err != nil {
		t.Fatal(err)
	}

	// The command link pushes from its own goroutine while the
	// dispatcher runs tasks; meaningful under the race detector.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			ctrl.PushCommand(control.Setpoint{Mode: control.ModeRate}, i%2 == 0)
		}
	}()
	for i := 0; i < 500; i++ {
		now.Add(1000)
		ctrl.PushSensor(sensors.Frame{Kind: sensors.Gyro, T: sensors.Ticks(now.Load()), Valid: true})
		ctrl.TickTelemetry()
		ctrl.Dispatcher().RunPending()
	}
	wg.Wait()

	switch ctrl.Safety().Status() {
	case Disarmed, Armed, Failsafe:
	default:
		t.Errorf("arming state corrupted: %d", ctrl.Safety().Status())
	}
}

func TestNodeStatusBroadcastOnTelemetryTick(t *testing.T) {
	r := newRig(t)
	r.fc.TickTelemetry()
	r.fc.Dispatcher().RunPending()

	found := false
	for i := range r.can.frames {
		_, typeID, nodeID, err := dronecan.SplitID(r.can.frames[i].ID)
		if err == nil && typeID == dronecan.TypeNodeStatus {
			found = true
			if nodeID != fcconfig.Default().CANNodeID {
				t.Errorf("status from node %d", nodeID)
			}
		}
	}
	if !found {
		t.Error("no heartbeat on the bus after a telemetry tick")
	}
}
