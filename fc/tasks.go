package fc

import (
	"log"
	"time"

	"github.com/David-OConnor/quadcopter/control"
	"github.com/David-OConnor/quadcopter/dronecan"
	"github.com/David-OConnor/quadcopter/sched"
	"github.com/David-OConnor/quadcopter/sensors"
)

// Task periods on the target: gyro at 8 kHz, outer loop at 1 kHz.
const (
	rateBudget      = 150 * time.Microsecond
	attitudeBudget  = 300 * time.Microsecond
	commandBudget   = 200 * time.Microsecond
	canBudget       = 300 * time.Microsecond
	telemetryBudget = 500 * time.Microsecond
)

func (f *FC) taskTable() []sched.Task {
	return []sched.Task{
		{Name: "rate-control", Priority: 0, Trigger: sched.GyroReady, Budget: rateBudget, Run: f.rateTask},
		{Name: "attitude", Priority: 1, Trigger: sched.AttitudeTick, Budget: attitudeBudget, Run: f.attitudeTask},
		{Name: "command", Priority: 2, Trigger: sched.CommandRx, Budget: commandBudget, Run: f.commandTask},
		{Name: "can-bus", Priority: 3, Trigger: sched.CANRx, Budget: canBudget, Run: f.canTask},
		{Name: "telemetry", Priority: 4, Trigger: sched.TelemetryTick, Budget: telemetryBudget, Run: f.telemetryTask},
	}
}

// drainSensors feeds every queued frame to the estimator and records
// the newest gyro timestamp.
func (f *FC) drainSensors() {
	for {
		fr, ok := f.sensorQ.Pop()
		if !ok {
			return
		}
		f.filter.HandleFrame(fr)
		if fr.Kind == sensors.Gyro {
			f.lastGyroT = fr.T
		}
	}
}

// rateTask is the innermost loop: propagate the estimate from the new
// gyro sample, close the rate loop and drive the actuators.
func (f *FC) rateTask() {
	f.drainSensors()

	est, ok := f.filter.Snapshot()
	if !ok {
		return
	}
	f.lastEst = est

	var status ArmStatus
	f.section.Do(func() { status = f.safety.Status() })
	if status == Disarmed {
		f.law.Reset()
		f.lastDemand = control.Demand{}
		f.applyOutputs(control.Demand{})
		return
	}

	dt := est.T.Seconds() - f.lastRateT.Seconds()
	if dt <= 0 || dt > 0.05 {
		dt = 1.0 / 8000
	}
	f.lastRateT = est.T

	d := f.law.TorqueDemand(est, f.rateTargets, f.thrust, dt)
	f.lastDemand = d
	f.applyOutputs(d)
}

func (f *FC) applyOutputs(d control.Demand) {
	f.mixer.MixInto(d, f.out)
	if f.actuators != nil {
		f.actuators.Apply(f.out)
	}
}

// outerLoop refreshes the rate targets from the active setpoint and the
// latest estimate.
func (f *FC) outerLoop(now sensors.Ticks) {
	sp, ok := f.command.Load()
	if !ok {
		return
	}
	est, ok := f.filter.Snapshot()
	if !ok {
		return
	}
	dt := now.Seconds() - f.lastAttT.Seconds()
	if dt <= 0 || dt > 0.5 {
		dt = 1.0 / 1000
	}
	f.lastAttT = now
	f.rateTargets, f.thrust = f.law.RateTargets(est, sp, dt)
}

// attitudeTask runs the outer loop and watches for a stalled gyro: an
// armed vehicle whose estimator stops advancing cannot be flown, so
// repeated ticks without gyro progress latch the failsafe.
func (f *FC) attitudeTask() {
	f.drainSensors()
	now := f.clock()

	f.section.Do(func() {
		if f.safety.Status() == Armed {
			if f.lastGyroT == f.watchedGyroT {
				f.missedGyro++
				if f.missedGyro >= f.cfg.Failsafe.MissedGyroMax {
					f.safety.Trip(FailsafeEstimator)
				}
			} else {
				f.missedGyro = 0
			}
		} else {
			f.missedGyro = 0
		}
		f.watchedGyroT = f.lastGyroT
	})

	f.outerLoop(now)
}

// commandTask reacts to a fresh setpoint without waiting for the next
// attitude tick.
func (f *FC) commandTask() {
	f.outerLoop(f.clock())
}

// canTask drains the bus receive queue.
func (f *FC) canTask() {
	for {
		fr, ok := f.canQ.Pop()
		if !ok {
			return
		}
		msg, nodeID, err := f.codec.Decode(&fr)
		if err != nil {
			log.Printf("CAN: rx from frame id %08x: %v", fr.ID, err)
			continue
		}
		f.handleBusMessage(msg, nodeID, fr.T)
	}
}

func (f *FC) handleBusMessage(msg dronecan.Message, nodeID uint8, t dronecan.Ticks) {
	switch m := msg.(type) {
	case *dronecan.ParamGetSet:
		if !m.Request {
			return
		}
		f.handleParamRequest(m, nodeID)

	case *dronecan.EmergencyStop:
		log.Printf("CAN: emergency stop from node %d, reason %d", nodeID, m.Reason)
		f.section.Do(func() { f.safety.Trip(FailsafeCommanded) })

	case *dronecan.GNSSFix:
		f.filter.HandleFrame(sensors.Frame{
			Kind:  sensors.GNSS,
			T:     sensors.Ticks(t),
			Vec:   [3]float64{float64(m.VelN), float64(m.VelE), float64(m.VelD)},
			Value: float64(m.AltMSL),
			Valid: true,
		})

	case *dronecan.NodeStatus:
		// A node that restarted resets its transfer sequence; drop our
		// history so its next transfer is accepted.
		if prev, ok := f.peerUptime[nodeID]; ok && m.UptimeSec < prev {
			f.codec.ForgetPeer(nodeID)
		}
		f.peerUptime[nodeID] = m.UptimeSec

	case *dronecan.ActuatorCommand:
		// This node is the actuator commander, not a consumer.
	}
}

func (f *FC) handleParamRequest(m *dronecan.ParamGetSet, nodeID uint8) {
	var reply dronecan.ParamGetSet
	reply.Index = m.Index

	if m.Write {
		if err := f.params.Set(m.Index, m.Value); err != nil {
			log.Printf("CAN: param set %d from node %d: %v", m.Index, nodeID, err)
		}
	}
	v, err := f.params.Get(m.Index)
	if err != nil {
		log.Printf("CAN: param get %d from node %d: %v", m.Index, nodeID, err)
		return
	}
	reply.Value = v
	if f.can != nil {
		if fr, err := f.codec.Encode(&reply); err == nil {
			if err := f.can.Send(fr); err != nil {
				log.Printf("CAN: param reply tx: %v", err)
			}
		}
	}
}

// telemetryTask is the low-rate housekeeping: link supervision, the
// heartbeat broadcast and the state export.
func (f *FC) telemetryTask() {
	now := f.clock()
	var armStatus ArmStatus
	var reason FailsafeReason
	f.section.Do(func() {
		f.safety.CheckLink(now)
		armStatus = f.safety.Status()
		reason = f.safety.Reason()
	})

	if f.can != nil {
		status := dronecan.NodeStatus{
			UptimeSec: uint32(time.Since(f.started).Seconds()),
			Health:    f.busHealth(armStatus),
			Mode:      dronecan.ModeOperational,
		}
		if fr, err := f.codec.Encode(&status); err == nil {
			if err := f.can.Send(fr); err != nil {
				log.Printf("CAN: status tx: %v", err)
			}
		}
	}

	if f.telemetry != nil {
		f.telemetry.Publish(Telemetry{
			Estimate: f.lastEst,
			Status:   armStatus,
			Reason:   reason,
			Demand:   f.lastDemand,
		})
	}
}

func (f *FC) busHealth(status ArmStatus) uint8 {
	if status == Failsafe {
		return dronecan.HealthCritical
	}
	if f.lastEst.Confidence < 0.5 {
		return dronecan.HealthWarning
	}
	return dronecan.HealthOK
}
