// Package sched implements the priority-preemptive task discipline of the
// flight controller. A fixed set of tasks, each bound to one trigger
// source and one static priority, is registered at startup; triggering a
// task marks it pending, and the dispatcher always runs the
// highest-priority pending task to completion before anything else.
//
// On the target hardware this discipline is provided by interrupt
// priority registers; here the same contract is expressed as an
// event-driven dispatcher. A trigger that arrives while the task is
// already pending replaces the pending invocation rather than queueing a
// second one, so a starved task never accumulates a backlog.
package sched

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Trigger identifies the hardware event a task is bound to.
type Trigger uint8

const (
	GyroReady    Trigger = iota // IMU sample-ready interrupt
	AttitudeTick                // outer-loop timer compare
	CommandRx                   // command link frame received
	CANRx                       // CAN receive interrupt
	TelemetryTick               // telemetry timer
	numTriggers
)

var triggerNames = [...]string{"gyro-ready", "attitude-tick", "command-rx", "can-rx", "telemetry-tick"}

func (tr Trigger) String() string {
	if int(tr) < len(triggerNames) {
		return triggerNames[tr]
	}
	return "unknown"
}

// Task binds an entry point to a trigger, a static priority and a
// deadline budget. Priority 0 is highest. Tasks run to completion; they
// must not block or sleep.
type Task struct {
	Name     string
	Priority int
	Trigger  Trigger
	Budget   time.Duration
	Run      func()
}

// Counters holds the per-task diagnostic counters. Values are written
// only by the dispatcher; readers take a copy via TaskCounters.
type Counters struct {
	Runs           uint64
	Overruns       uint64
	ConsecOverruns uint64
	Replaced       uint64 // triggers that found the task already pending
	MaxLatency     time.Duration
	MaxRuntime     time.Duration
}

var (
	ErrDuplicateTrigger = errors.New("sched: trigger already bound")
	ErrNoTasks          = errors.New("sched: empty task table")
	ErrTooManyTasks     = errors.New("sched: task table too large")
)

// maxTasks bounds the table so the pending set fits one machine word.
const maxTasks = 32

// Dispatcher owns the task table. The table is fixed after New; tasks
// are never created or destroyed at runtime.
type Dispatcher struct {
	tasks     []Task // sorted by priority, highest (0) first
	byTrigger [numTriggers]int

	pending   atomic.Uint32 // bit i: tasks[i] pending
	triggered [maxTasks]atomic.Int64 // trigger timestamps, ns

	wake chan struct{}

	mu       sync.Mutex
	counters []Counters

	// OverrunLimit is the number of consecutive deadline overruns after
	// which onOverrun fires. Zero disables escalation.
	OverrunLimit uint64
	onOverrun    func(task string)
	escalated    atomic.Bool
}

// New builds a dispatcher from a fixed task table. Each trigger may be
// bound to at most one task.
func New(tasks []Task) (*Dispatcher, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	if len(tasks) > maxTasks {
		return nil, ErrTooManyTasks
	}
	d := &Dispatcher{
		wake:     make(chan struct{}, 1),
		counters: make([]Counters, len(tasks)),
	}
	for i := range d.byTrigger {
		d.byTrigger[i] = -1
	}
	d.tasks = make([]Task, len(tasks))
	copy(d.tasks, tasks)
	// Insertion sort keeps registration order among equal priorities.
	for i := 1; i < len(d.tasks); i++ {
		for j := i; j > 0 && d.tasks[j].Priority < d.tasks[j-1].Priority; j-- {
			d.tasks[j], d.tasks[j-1] = d.tasks[j-1], d.tasks[j]
		}
	}
	for i, t := range d.tasks {
		if t.Run == nil {
			return nil, errors.New("sched: task " + t.Name + " has no entry point")
		}
		if d.byTrigger[t.Trigger] != -1 {
			return nil, ErrDuplicateTrigger
		}
		d.byTrigger[t.Trigger] = i
	}
	return d, nil
}

// OnOverrun registers the escalation hook invoked (once per escalation)
// when a task overruns its budget OverrunLimit times in a row.
func (d *Dispatcher) OnOverrun(f func(task string)) { d.onOverrun = f }

// Inject marks the task bound to tr pending and wakes the dispatcher.
// Safe to call from any goroutine. If the task is already pending the
// new trigger replaces the old one and is counted, never queued.
func (d *Dispatcher) Inject(tr Trigger) {
	i := d.byTrigger[tr]
	if i < 0 {
		return
	}
	d.triggered[i].Store(time.Now().UnixNano())
	bit := uint32(1) << uint(i)
	for {
		old := d.pending.Load()
		if old&bit != 0 {
			d.mu.Lock()
			d.counters[i].Replaced++
			d.mu.Unlock()
			return
		}
		if d.pending.CompareAndSwap(old, old|bit) {
			break
		}
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run dispatches pending tasks until stop is closed. Within one wakeup
// the highest-priority pending task always runs first, and a task made
// pending during another task's execution is picked up before any
// lower-priority work.
func (d *Dispatcher) Run(stop <-chan struct{}) {
	for {
		if !d.runHighest() {
			select {
			case <-stop:
				return
			case <-d.wake:
			}
			continue
		}
		select {
		case <-stop:
			return
		default:
		}
	}
}

// RunPending drains every currently pending task in priority order and
// returns. Used by the simulation harness and tests for deterministic
// stepping.
func (d *Dispatcher) RunPending() {
	for d.runHighest() {
	}
}

// runHighest runs the highest-priority pending task, if any.
func (d *Dispatcher) runHighest() bool {
	pend := d.pending.Load()
	if pend == 0 {
		return false
	}
	// tasks are priority-sorted, so the lowest set bit wins.
	i := 0
	for pend&(1<<uint(i)) == 0 {
		i++
	}
	bit := uint32(1) << uint(i)
	for {
		old := d.pending.Load()
		if d.pending.CompareAndSwap(old, old&^bit) {
			break
		}
	}
	t := &d.tasks[i]

	start := time.Now()
	latency := time.Duration(start.UnixNano() - d.triggered[i].Load())
	t.Run()
	runtime := time.Since(start)

	d.mu.Lock()
	c := &d.counters[i]
	c.Runs++
	if latency > c.MaxLatency {
		c.MaxLatency = latency
	}
	if runtime > c.MaxRuntime {
		c.MaxRuntime = runtime
	}
	overrun := t.Budget > 0 && runtime > t.Budget
	if overrun {
		c.Overruns++
		c.ConsecOverruns++
	} else {
		c.ConsecOverruns = 0
	}
	escalate := overrun && d.OverrunLimit > 0 && c.ConsecOverruns >= d.OverrunLimit
	d.mu.Unlock()

	if escalate && d.escalated.CompareAndSwap(false, true) {
		log.Printf("SCHED: task %s overran %v budget %d times in a row", t.Name, t.Budget, d.OverrunLimit)
		if d.onOverrun != nil {
			d.onOverrun(t.Name)
		}
	}
	return true
}

// TaskCounters returns a copy of the counters for the named task.
func (d *Dispatcher) TaskCounters(name string) (Counters, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, t := range d.tasks {
		if t.Name == name {
			return d.counters[i], true
		}
	}
	return Counters{}, false
}

// ClearEscalation re-arms the overrun escalation hook, e.g. after the
// vehicle has disarmed and the failsafe latch was serviced.
func (d *Dispatcher) ClearEscalation() { d.escalated.Store(false) }
