// Package rc decodes the iBus command link and maps raw stick positions
// onto resolved control setpoints.
package rc

import (
	"encoding/binary"
	"errors"
)

var (
	ErrShortFrame  = errors.New("rc: frame shorter than 32 bytes")
	ErrBadHeader   = errors.New("rc: bad frame header")
	ErrBadChecksum = errors.New("rc: checksum mismatch")
)

// FrameLen is the fixed iBus servo frame length.
const FrameLen = 32

// NumChannels carried per frame.
const NumChannels = 14

// Raw channel range.
const (
	chanMin = 1000
	chanMid = 1500
	chanMax = 2000
)

// Channels is one decoded frame of raw channel values, 1000..2000.
type Channels [NumChannels]uint16

// Decode parses one 32-byte iBus servo frame: 0x20 0x40 header,
// fourteen little-endian channels, and a trailing checksum of
// 0xFFFF minus the byte sum of everything before it.
func Decode(buf []byte) (Channels, error) {
	var ch Channels
	if len(buf) < FrameLen {
		return ch, ErrShortFrame
	}
	if buf[0] != 0x20 || buf[1] != 0x40 {
		return ch, ErrBadHeader
	}
	sum := uint16(0xFFFF)
	for _, b := range buf[:FrameLen-2] {
		sum -= uint16(b)
	}
	if sum != binary.LittleEndian.Uint16(buf[FrameLen-2:]) {
		return ch, ErrBadChecksum
	}
	for i := 0; i < NumChannels; i++ {
		ch[i] = binary.LittleEndian.Uint16(buf[2+2*i:])
	}
	return ch, nil
}

// InputMap converts raw channels into normalized command axes. Channel
// assignment follows the usual AETR order; the arm switch rides a
// dedicated aux channel.
type InputMap struct {
	RollCh, PitchCh, ThrottleCh, YawCh int
	ArmCh                              int

	// Deadband is the raw-count half-width around center inside which
	// an axis reads exactly zero.
	Deadband uint16

	// Reversed flips the sign of an axis.
	Reversed [4]bool
}

// DefaultInputMap is AETR with arm on channel 5.
func DefaultInputMap() InputMap {
	return InputMap{RollCh: 0, PitchCh: 1, ThrottleCh: 2, YawCh: 3, ArmCh: 4, Deadband: 8}
}

// Command is the normalized stick state: axes in -1..1, throttle in
// 0..1, and the arm switch position.
type Command struct {
	Roll, Pitch, Yaw float64
	Throttle         float64
	Arm              bool
}

// Apply maps one decoded frame to a Command.
func (m InputMap) Apply(ch Channels) Command {
	var c Command
	c.Roll = m.axis(ch, m.RollCh, 0)
	c.Pitch = m.axis(ch, m.PitchCh, 1)
	c.Yaw = m.axis(ch, m.YawCh, 3)
	c.Throttle = unit(ch[m.ThrottleCh])
	c.Arm = ch[m.ArmCh] > chanMid
	return c
}

// axis maps a raw channel to -1..1 with the deadband applied around
// center.
func (m InputMap) axis(ch Channels, idx, rev int) float64 {
	raw := int(ch[idx]) - chanMid
	if raw > -int(m.Deadband) && raw < int(m.Deadband) {
		return 0
	}
	v := float64(raw) / float64(chanMax-chanMid)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if m.Reversed[rev] {
		v = -v
	}
	return v
}

// unit maps a raw channel to 0..1.
func unit(raw uint16) float64 {
	v := float64(int(raw)-chanMin) / float64(chanMax-chanMin)
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return v
}
