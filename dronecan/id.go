package dronecan

// 29-bit extended identifier layout, message transfers:
//
//	bits 24..28  priority (lower value wins arbitration)
//	bits  8..23  data type id
//	bits  1..7   source node id
//	bit   0      service-not-message flag, always 0 here
const (
	priorityOffset = 24
	typeOffset     = 8
	nodeOffset     = 1

	priorityMask = 0x1F
	typeMask     = 0xFFFF
	nodeMask     = 0x7F

	idMask = (uint32(1) << 29) - 1
)

// Priority levels. A frame with a numerically lower priority field wins
// bus arbitration.
const (
	PriorityHigh    uint8 = 2  // emergency stop, actuator commands
	PriorityNominal uint8 = 16 // sensor and status traffic
	PriorityLow     uint8 = 24 // parameter access
)

// Data type ids carried on the bus.
const (
	TypeNodeStatus      uint16 = 341
	TypeActuatorCommand uint16 = 1010
	TypeGNSSFix         uint16 = 1063
	TypeParamGetSet     uint16 = 11
	TypeEmergencyStop   uint16 = 4
)

// MaxNodeID is the largest addressable node; 0 is anonymous and never
// used by this node.
const MaxNodeID uint8 = 127

// MakeID packs priority, data type and source node into a 29-bit
// extended identifier.
func MakeID(priority uint8, typeID uint16, nodeID uint8) (uint32, error) {
	if priority > priorityMask {
		return 0, ErrInvalidID
	}
	if nodeID == 0 || nodeID > MaxNodeID {
		return 0, ErrBadNodeID
	}
	id := uint32(priority)<<priorityOffset |
		uint32(typeID)<<typeOffset |
		uint32(nodeID)<<nodeOffset
	return id, nil
}

// SplitID unpacks a 29-bit extended identifier.
func SplitID(id uint32) (priority uint8, typeID uint16, nodeID uint8, err error) {
	if id&^idMask != 0 {
		return 0, 0, 0, ErrInvalidID
	}
	priority = uint8(id >> priorityOffset & priorityMask)
	typeID = uint16(id >> typeOffset & typeMask)
	nodeID = uint8(id >> nodeOffset & nodeMask)
	if nodeID == 0 {
		return 0, 0, 0, ErrBadNodeID
	}
	return priority, typeID, nodeID, nil
}
