package ahrs

import (
	"log"

	"github.com/David-OConnor/quadcopter/sensors"
)

// SourceHealth tracks per-source frame acceptance. A source that fails
// the plausibility check enough times in a row is marked degraded and
// its corrections are withheld; it recovers only after the same number
// of consecutive plausible frames, so a flapping sensor stays out of
// the fusion.
type SourceHealth struct {
	Accepted uint64
	Rejected uint64

	consecRejects uint32
	consecAccepts uint32
	degraded      bool
}

// Degraded reports whether the source is currently distrusted.
func (h SourceHealth) Degraded() bool { return h.degraded }

func (h *SourceHealth) reject(k sensors.Kind, limit uint32) {
	h.Rejected++
	h.consecRejects++
	h.consecAccepts = 0
	if limit > 0 && h.consecRejects >= limit && !h.degraded {
		h.degraded = true
		log.Printf("AHRS: %s source degraded after %d consecutive rejects", k, h.consecRejects)
	}
}

func (h *SourceHealth) accept(k sensors.Kind, limit uint32) {
	h.Accepted++
	h.consecRejects = 0
	if h.degraded {
		h.consecAccepts++
		if h.consecAccepts >= limit {
			h.degraded = false
			log.Printf("AHRS: %s source recovered", k)
		}
	}
}
