package telemetry

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/David-OConnor/quadcopter/ahrs"
	"github.com/David-OConnor/quadcopter/fc"
)

// Record is the JSON document pushed to clients.
type Record struct {
	T float64 `json:"t"` // seconds since boot

	E0, E1, E2, E3       float64
	Roll, Pitch, Heading float64 // degrees
	P, Q, R              float64 // rad/s
	Alt, VSpeed          float64
	Confidence           float64

	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`

	DemandRoll, DemandPitch, DemandYaw float64
	Thrust                             float64
}

// Exporter publishes flight state into a Room. It implements the
// controller's telemetry sink.
type Exporter struct {
	room *Room

	sent    uint64
	dropped uint64
}

// NewExporter wraps room.
func NewExporter(room *Room) *Exporter {
	return &Exporter{room: room}
}

// Publish marshals one state record and broadcasts it. Never blocks.
func (e *Exporter) Publish(t fc.Telemetry) {
	rec := makeRecord(t)
	msg, err := json.Marshal(&rec)
	if err != nil {
		log.Println("TELEM: marshal:", err)
		return
	}
	if e.room.Broadcast(msg) {
		e.sent++
	} else {
		e.dropped++
	}
}

// Stats reports broadcast and dropped record counts.
func (e *Exporter) Stats() (sent, dropped uint64) { return e.sent, e.dropped }

func makeRecord(t fc.Telemetry) Record {
	est := t.Estimate
	roll, pitch, heading := est.RollPitchHeading()
	return Record{
		T:  est.T.Seconds(),
		E0: est.E0, E1: est.E1, E2: est.E2, E3: est.E3,
		Roll:    roll / ahrs.Deg,
		Pitch:   pitch / ahrs.Deg,
		Heading: heading / ahrs.Deg,
		P:       est.P, Q: est.Q, R: est.R,
		Alt: est.Alt, VSpeed: est.VSpeed,
		Confidence: est.Confidence,

		Status: t.Status.String(),
		Reason: reasonString(t),

		DemandRoll:  t.Demand.Roll,
		DemandPitch: t.Demand.Pitch,
		DemandYaw:   t.Demand.Yaw,
		Thrust:      t.Demand.Thrust,
	}
}

func reasonString(t fc.Telemetry) string {
	if t.Status != fc.Failsafe {
		return ""
	}
	return t.Reason.String()
}

// Serve runs the telemetry endpoint on addr until the listener fails.
// The room must already be running.
func Serve(addr string, room *Room) error {
	mux := http.NewServeMux()
	mux.Handle("/state", room)
	log.Println("TELEM: serving on", addr)
	return http.ListenAndServe(addr, mux)
}
