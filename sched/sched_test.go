package sched

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPriorityOrder(t *testing.T) {
	var order []string
	d, err := New([]Task{
		{Name: "low", Priority: 3, Trigger: TelemetryTick, Run: func() { order = append(order, "low") }},
		{Name: "high", Priority: 0, Trigger: GyroReady, Run: func() { order = append(order, "high") }},
		{Name: "mid", Priority: 1, Trigger: CANRx, Run: func() { order = append(order, "mid") }},
	})
	if err != nil {
		t.Fatal(err)
	}

	d.Inject(TelemetryTick)
	d.Inject(CANRx)
	d.Inject(GyroReady)
	d.RunPending()

	want := []string{"high", "mid", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("run order %v, want %v", order, want)
		}
	}
}

func TestHigherPriorityPreemptsQueue(t *testing.T) {
	// A task made pending while a lower-priority task executes runs
	// before any other lower-priority work.
	var order []string
	var d *Dispatcher
	var err error
	d, err = New([]Task{
		{Name: "high", Priority: 0, Trigger: GyroReady, Run: func() { order = append(order, "high") }},
		{Name: "mid", Priority: 1, Trigger: CANRx, Run: func() {
			order = append(order, "mid")
			d.Inject(GyroReady)
		}},
		{Name: "low", Priority: 2, Trigger: TelemetryTick, Run: func() { order = append(order, "low") }},
	})
	if err != nil {
		t.Fatal(err)
	}

	d.Inject(CANRx)
	d.Inject(TelemetryTick)
	d.RunPending()

	want := []string{"mid", "high", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("run order %v, want %v", order, want)
		}
	}
}

func TestTriggerReplacesNotQueues(t *testing.T) {
	runs := 0
	d, err := New([]Task{
		{Name: "task", Priority: 0, Trigger: GyroReady, Run: func() { runs++ }},
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		d.Inject(GyroReady)
	}
	d.RunPending()

	if runs != 1 {
		t.Errorf("runs: got %d, want 1", runs)
	}
	c, _ := d.TaskCounters("task")
	if c.Replaced != 4 {
		t.Errorf("replaced: got %d, want 4", c.Replaced)
	}
	if c.Runs != 1 {
		t.Errorf("counted runs: got %d, want 1", c.Runs)
	}
}

func TestDuplicateTriggerRejected(t *testing.T) {
	_, err := New([]Task{
		{Name: "a", Priority: 0, Trigger: GyroReady, Run: func() {}},
		{Name: "b", Priority: 1, Trigger: GyroReady, Run: func() {}},
	})
	if !errors.Is(err, ErrDuplicateTrigger) {
		t.Errorf("got %v, want ErrDuplicateTrigger", err)
	}
}

func TestEmptyTableRejected(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNoTasks) {
		t.Errorf("got %v, want ErrNoTasks", err)
	}
}

func TestOverrunEscalatesOnce(t *testing.T) {
	d, err := New([]Task{
		{Name: "slow", Priority: 0, Trigger: GyroReady, Budget: time.Nanosecond, Run: func() {
			time.Sleep(100 * time.Microsecond)
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	d.OverrunLimit = 3
	fired := 0
	d.OnOverrun(func(task string) {
		fired++
		if task != "slow" {
			t.Errorf("escalated task: %s", task)
		}
	})

	for i := 0; i < 10; i++ {
		d.Inject(GyroReady)
		d.RunPending()
	}
	if fired != 1 {
		t.Errorf("escalation fired %d times, want 1", fired)
	}

	c, _ := d.TaskCounters("slow")
	if c.Overruns != 10 {
		t.Errorf("overruns: got %d, want 10", c.Overruns)
	}

	// Re-armed after the latch is serviced.
	d.ClearEscalation()
	for i := 0; i < 3; i++ {
		d.Inject(GyroReady)
		d.RunPending()
	}
	if fired != 2 {
		t.Errorf("escalation after re-arm fired %d times, want 2", fired)
	}
}

func TestOverrunStreakResets(t *testing.T) {
	slow := false
	d, err := New([]Task{
		{Name: "task", Priority: 0, Trigger: GyroReady, Budget: 10 * time.Millisecond, Run: func() {
			if slow {
				time.Sleep(15 * time.Millisecond)
			}
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	d.OverrunLimit = 3
	fired := 0
	d.OnOverrun(func(string) { fired++ })

	// Two overruns, a clean run, two more overruns: never three in a
	// row, so no escalation.
	pattern := []bool{true, true, false, true, true}
	for _, s := range pattern {
		slow = s
		d.Inject(GyroReady)
		d.RunPending()
	}
	if fired != 0 {
		t.Errorf("escalated without a full streak (%d)", fired)
	}
}

func TestRunStops(t *testing.T) {
	var runs atomic.Uint64
	d, err := New([]Task{
		{Name: "task", Priority: 0, Trigger: GyroReady, Run: func() { runs.Add(1) }},
	})
	if err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		d.Run(stop)
		close(done)
	}()

	d.Inject(GyroReady)
	deadline := time.After(time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("task never ran")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestCellSnapshot(t *testing.T) {
	var c Cell[[4]float64]
	if _, ok := c.Load(); ok {
		t.Error("empty cell reported a value")
	}
	c.Store([4]float64{1, 2, 3, 4})
	v, ok := c.Load()
	if !ok || v != [4]float64{1, 2, 3, 4} {
		t.Errorf("got %v", v)
	}
	c.Store([4]float64{5, 6, 7, 8})
	if v, _ := c.Load(); v != [4]float64{5, 6, 7, 8} {
		t.Errorf("stale read: %v", v)
	}
}

func TestCellConcurrent(t *testing.T) {
	var c Cell[[2]uint64]
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			// Both halves always match; a torn read would break that.
			c.Store([2]uint64{i, i})
		}
	}()

	for i := 0; i < 100_000; i++ {
		if v, ok := c.Load(); ok && v[0] != v[1] {
			t.Fatalf("torn snapshot: %v", v)
		}
	}
	close(stop)
	wg.Wait()
}

func TestSectionHoldBound(t *testing.T) {
	var s Section
	s.Do(func() { time.Sleep(2 * time.Millisecond) })
	s.Do(func() {})
	if s.MaxHold() < 2*time.Millisecond {
		t.Errorf("max hold %v, want >= 2ms", s.MaxHold())
	}
}

func TestLatencyBoundedUnderLoad(t *testing.T) {
	const spin = 2 * time.Millisecond

	var d *Dispatcher
	tasks := []Task{
		{Name: "fast", Priority: 0, Trigger: GyroReady, Run: func() {}},
		{Name: "background", Priority: 4, Trigger: TelemetryTick, Run: func() {
			// The high-priority trigger lands while this task holds the
			// CPU; it must run as soon as this body returns.
			d.Inject(GyroReady)
			for start := time.Now(); time.Since(start) < spin; {
			}
		}},
	}
	d, err := New(tasks)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		d.Inject(TelemetryTick)
		d.RunPending()
	}

	c, ok := d.TaskCounters("fast")
	if !ok || c.Runs != 20 {
		t.Fatalf("fast runs: got %d, want 20", c.Runs)
	}
	// Worst-case latency is bounded by the longest lower-priority task
	// body, with slack for scheduling noise.
	if c.MaxLatency < spin/2 {
		t.Errorf("latency %v suspiciously low; trigger not blocked by load", c.MaxLatency)
	}
	if c.MaxLatency > spin+50*time.Millisecond {
		t.Errorf("latency %v exceeds the longest task body %v", c.MaxLatency, spin)
	}
}
