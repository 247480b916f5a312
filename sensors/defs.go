// Package sensors defines the sensor ingestion boundary of the flight
// controller: timestamped frames pushed by the (external) drivers, the
// fixed-capacity queues the estimator drains, and the per-kind
// plausibility limits applied before fusion.
package sensors

// Ticks is a monotonic microsecond counter. The tick source is arbitrary
// as long as it never runs backwards; wall-clock time is never used in
// the control path.
type Ticks uint64

// TickHz is the tick rate of the monotonic counter.
const TickHz = 1_000_000

// Seconds converts a tick interval to seconds.
func (t Ticks) Seconds() float64 { return float64(t) / TickHz }

// Kind identifies the sensor that produced a Frame.
type Kind uint8

const (
	Gyro Kind = iota
	Accel
	Mag
	Baro
	GNSS
	numKinds
)

var kindNames = [...]string{"gyro", "accel", "mag", "baro", "gnss"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Frame is a single timestamped sensor sample. Frames are immutable once
// produced; the estimator folds them into its state and discards them.
//
// Units per kind: gyro rad/s, accel m/s², mag µT (all in Vec);
// baro altitude m in Value; GNSS NED velocity m/s in Vec and
// altitude MSL m in Value.
type Frame struct {
	Kind  Kind
	T     Ticks
	Vec   [3]float64
	Value float64
	Valid bool
}

// Limits holds the physical plausibility bounds for one sensor kind.
// A reading whose magnitude exceeds Max, or whose timestamp is more than
// MaxAge ticks behind the estimate, fails the plausibility check.
type Limits struct {
	Max    float64 // maximum plausible magnitude, sensor units
	MaxAge Ticks   // maximum age relative to the current estimate
}
