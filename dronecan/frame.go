// Package dronecan implements the CAN message layer used on the
// flight-controller bus: 29-bit extended identifiers carrying message
// priority, data type and source node, fixed-layout payloads with
// length validation, and per-peer transfer sequence tracking.
package dronecan

import "errors"

var (
	ErrInvalidID   = errors.New("dronecan: 29-bit id field out of range")
	ErrUnknownID   = errors.New("dronecan: unrecognized data type id")
	ErrMalformed   = errors.New("dronecan: payload length does not match type")
	ErrCRCMismatch = errors.New("dronecan: payload crc mismatch")
	ErrStaleSeq    = errors.New("dronecan: duplicate or stale transfer sequence")
	ErrBadNodeID   = errors.New("dronecan: node id out of range")
)

// MaxData is the classic CAN payload capacity.
const MaxData = 8

// Ticks is the monotonic timestamp in microseconds attached to
// received frames.
type Ticks uint64

// Frame is one raw CAN frame as it crosses the driver boundary.
type Frame struct {
	ID   uint32 // 29-bit extended identifier
	Data [MaxData]byte
	Len  uint8
	T    Ticks
}

// Payload returns the valid slice of the data array.
func (f *Frame) Payload() []byte { return f.Data[:f.Len] }
