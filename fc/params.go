package fc

import (
	"errors"
	"sync"
)

var (
	ErrUnknownParam   = errors.New("fc: unknown parameter index")
	ErrParamProtected = errors.New("fc: parameter not writable over the bus")
)

// Parameter indices exposed over the bus. The table is fixed; indices
// are part of the wire contract and never reused.
const (
	ParamRateRollP uint8 = iota
	ParamRateRollI
	ParamRateRollD
	ParamRatePitchP
	ParamRatePitchI
	ParamRatePitchD
	ParamRateYawP
	ParamRateYawI
	ParamAttRollP
	ParamAttPitchP
	ParamAttYawP
	ParamTPABreakpoint
	ParamTPAMinAtten
	ParamHoverThrottle
	// Read-only from here down.
	ParamLinkTimeoutMs
	ParamCANNodeID
	numParams
)

// paramWritable marks which indices accept remote writes. Safety
// thresholds and bus identity are read-only: changing them in flight
// could disable the failsafe or collide node addresses.
var paramWritable = [numParams]bool{
	ParamRateRollP: true, ParamRateRollI: true, ParamRateRollD: true,
	ParamRatePitchP: true, ParamRatePitchI: true, ParamRatePitchD: true,
	ParamRateYawP: true, ParamRateYawI: true,
	ParamAttRollP: true, ParamAttPitchP: true, ParamAttYawP: true,
	ParamTPABreakpoint: true, ParamTPAMinAtten: true, ParamHoverThrottle: true,
}

// ParamStore holds the live tunable values. Reads and writes are
// mutex-protected; the control task copies values out once per tick
// rather than holding the lock.
type ParamStore struct {
	mu     sync.Mutex
	values [numParams]float32
}

// NewParamStore seeds the store.
func NewParamStore(seed map[uint8]float32) *ParamStore {
	p := &ParamStore{}
	for idx, v := range seed {
		if idx < uint8(numParams) {
			p.values[idx] = v
		}
	}
	return p
}

// Get reads one parameter.
func (p *ParamStore) Get(index uint8) (float32, error) {
	if index >= uint8(numParams) {
		return 0, ErrUnknownParam
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[index], nil
}

// Set writes one parameter if the index is remotely writable.
func (p *ParamStore) Set(index uint8, v float32) error {
	if index >= uint8(numParams) {
		return ErrUnknownParam
	}
	if !paramWritable[index] {
		return ErrParamProtected
	}
	p.mu.Lock()
	p.values[index] = v
	p.mu.Unlock()
	return nil
}
