package dronecan

import (
	"encoding/binary"
	"math"
)

// Node health, NodeStatus.
const (
	HealthOK       uint8 = 0
	HealthWarning  uint8 = 1
	HealthError    uint8 = 2
	HealthCritical uint8 = 3
)

// Node mode, NodeStatus.
const (
	ModeOperational    uint8 = 0
	ModeInitialization uint8 = 1
	ModeMaintenance    uint8 = 2
	ModeOffline        uint8 = 7
)

// NodeStatus is the periodic heartbeat. Wire layout, 7 bytes:
//
//	0..3  uptime, seconds, u32 LE
//	4     health (bits 6..7) | mode (bits 3..5)
//	5..6  vendor status, u16 LE
type NodeStatus struct {
	UptimeSec uint32
	Health    uint8
	Mode      uint8
	Vendor    uint16
}

const nodeStatusLen = 7

func (m *NodeStatus) encode(dst []byte) uint8 {
	binary.LittleEndian.PutUint32(dst, m.UptimeSec)
	dst[4] = m.Health&0x3<<6 | m.Mode&0x7<<3
	binary.LittleEndian.PutUint16(dst[5:], m.Vendor)
	return nodeStatusLen
}

func (m *NodeStatus) decode(src []byte) error {
	if len(src) != nodeStatusLen {
		return ErrMalformed
	}
	m.UptimeSec = binary.LittleEndian.Uint32(src)
	m.Health = src[4] >> 6 & 0x3
	m.Mode = src[4] >> 3 & 0x7
	m.Vendor = binary.LittleEndian.Uint16(src[5:])
	return nil
}

// ParamGetSet reads or writes one numbered parameter. Wire layout,
// 6 bytes:
//
//	0     request flag (bit 7) | write flag (bit 6) | transfer sequence (bits 0..4)
//	1     parameter index
//	2..5  value, float32 LE
//
// A read request has Request set and Write clear, Value ignored. A
// write request sets both. The response echoes the index with Request
// clear and Value holding the live value.
type ParamGetSet struct {
	Request bool
	Write   bool
	Seq     uint8 // 5-bit transfer sequence
	Index   uint8
	Value   float32
}

const paramGetSetLen = 6

func (m *ParamGetSet) encode(dst []byte) uint8 {
	b := m.Seq & seqMask
	if m.Request {
		b |= 0x80
	}
	if m.Write {
		b |= 0x40
	}
	dst[0] = b
	dst[1] = m.Index
	binary.LittleEndian.PutUint32(dst[2:], math.Float32bits(m.Value))
	return paramGetSetLen
}

func (m *ParamGetSet) decode(src []byte) error {
	if len(src) != paramGetSetLen {
		return ErrMalformed
	}
	m.Request = src[0]&0x80 != 0
	m.Write = src[0]&0x40 != 0
	m.Seq = src[0] & seqMask
	m.Index = src[1]
	m.Value = math.Float32frombits(binary.LittleEndian.Uint32(src[2:]))
	return nil
}

// ActuatorCommand carries four normalized actuator setpoints. Wire
// layout, 8 bytes: four int16 LE, -32767..32767 mapping to -1..1.
type ActuatorCommand struct {
	Cmd [4]float32
}

const actuatorCommandLen = 8

const actuatorScale = 32767

func (m *ActuatorCommand) encode(dst []byte) uint8 {
	for i, v := range m.Cmd {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(int16(v*actuatorScale)))
	}
	return actuatorCommandLen
}

func (m *ActuatorCommand) decode(src []byte) error {
	if len(src) != actuatorCommandLen {
		return ErrMalformed
	}
	for i := range m.Cmd {
		raw := int16(binary.LittleEndian.Uint16(src[2*i:]))
		m.Cmd[i] = float32(raw) / actuatorScale
	}
	return nil
}

// Emergency stop reasons.
const (
	StopReasonOperator  uint8 = 0
	StopReasonLostLink  uint8 = 1
	StopReasonOverrun   uint8 = 2
	StopReasonEstimator uint8 = 3
)

// EmergencyStop orders immediate motor shutdown. The payload is
// protected by its own checksum so a corrupted frame can never be acted
// on. Wire layout, 3 bytes:
//
//	0     reason
//	1..2  CRC-16/CCITT-FALSE over byte 0, big-endian
type EmergencyStop struct {
	Reason uint8
}

const emergencyStopLen = 3

func (m *EmergencyStop) encode(dst []byte) uint8 {
	dst[0] = m.Reason
	binary.BigEndian.PutUint16(dst[1:], crc16(dst[:1]))
	return emergencyStopLen
}

func (m *EmergencyStop) decode(src []byte) error {
	if len(src) != emergencyStopLen {
		return ErrMalformed
	}
	if binary.BigEndian.Uint16(src[1:]) != crc16(src[:1]) {
		return ErrCRCMismatch
	}
	m.Reason = src[0]
	return nil
}

// GNSSFix reports position/velocity from a GNSS node. Wire layout,
// 8 bytes:
//
//	0..1  NED north velocity, cm/s, int16 LE
//	2..3  NED east velocity, cm/s, int16 LE
//	4..5  NED down velocity, cm/s, int16 LE
//	6..7  altitude MSL, decimeters, int16 LE
type GNSSFix struct {
	VelN, VelE, VelD float32 // m/s
	AltMSL           float32 // m
}

const gnssFixLen = 8

func (m *GNSSFix) encode(dst []byte) uint8 {
	binary.LittleEndian.PutUint16(dst[0:], uint16(int16(m.VelN*100)))
	binary.LittleEndian.PutUint16(dst[2:], uint16(int16(m.VelE*100)))
	binary.LittleEndian.PutUint16(dst[4:], uint16(int16(m.VelD*100)))
	binary.LittleEndian.PutUint16(dst[6:], uint16(int16(m.AltMSL*10)))
	return gnssFixLen
}

func (m *GNSSFix) decode(src []byte) error {
	if len(src) != gnssFixLen {
		return ErrMalformed
	}
	m.VelN = float32(int16(binary.LittleEndian.Uint16(src[0:]))) / 100
	m.VelE = float32(int16(binary.LittleEndian.Uint16(src[2:]))) / 100
	m.VelD = float32(int16(binary.LittleEndian.Uint16(src[4:]))) / 100
	m.AltMSL = float32(int16(binary.LittleEndian.Uint16(src[6:]))) / 10
	return nil
}
