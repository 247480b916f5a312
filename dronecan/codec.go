package dronecan

// Message is any payload the codec understands.
type Message interface {
	encode(dst []byte) uint8
	decode(src []byte) error
}

// typeOf maps a message to its data type id and default priority.
func typeOf(m Message) (uint16, uint8) {
	switch m.(type) {
	case *NodeStatus:
		return TypeNodeStatus, PriorityNominal
	case *ParamGetSet:
		return TypeParamGetSet, PriorityLow
	case *ActuatorCommand:
		return TypeActuatorCommand, PriorityHigh
	case *EmergencyStop:
		return TypeEmergencyStop, PriorityHigh
	case *GNSSFix:
		return TypeGNSSFix, PriorityNominal
	default:
		return 0, 0
	}
}

// Codec encodes outbound messages and decodes inbound frames for one
// node. Not safe for concurrent use; the bus task owns it.
type Codec struct {
	// NodeID is stamped into every outbound identifier.
	NodeID uint8

	tracker SeqTracker
	txSeq   uint8
}

// Encode builds the wire frame for m. The sequence field of outbound
// ParamGetSet messages is assigned here.
func (c *Codec) Encode(m Message) (Frame, error) {
	typeID, prio := typeOf(m)
	if typeID == 0 && prio == 0 {
		return Frame{}, ErrUnknownID
	}
	if p, ok := m.(*ParamGetSet); ok {
		p.Seq = c.txSeq
		c.txSeq = (c.txSeq + 1) & seqMask
	}
	id, err := MakeID(prio, typeID, c.NodeID)
	if err != nil {
		return Frame{}, err
	}
	var fr Frame
	fr.ID = id
	fr.Len = m.encode(fr.Data[:])
	return fr, nil
}

// Decode validates and decodes one inbound frame. The returned message
// is freshly allocated; the source node id accompanies it. Any error
// leaves no side effects beyond the tracker's rejected counter, so a
// malformed frame can never half-apply.
func (c *Codec) Decode(fr *Frame) (Message, uint8, error) {
	_, typeID, nodeID, err := SplitID(fr.ID)
	if err != nil {
		return nil, 0, err
	}
	var m Message
	switch typeID {
	case TypeNodeStatus:
		m = &NodeStatus{}
	case TypeParamGetSet:
		m = &ParamGetSet{}
	case TypeActuatorCommand:
		m = &ActuatorCommand{}
	case TypeEmergencyStop:
		m = &EmergencyStop{}
	case TypeGNSSFix:
		m = &GNSSFix{}
	default:
		return nil, 0, ErrUnknownID
	}
	if err := m.decode(fr.Payload()); err != nil {
		return nil, 0, err
	}
	// Sequence staleness is checked only after the payload proves
	// well formed, so garbage cannot advance the per-peer window.
	if p, ok := m.(*ParamGetSet); ok {
		if err := c.tracker.Check(nodeID, p.Seq); err != nil {
			return nil, 0, err
		}
	}
	return m, nodeID, nil
}

// TrackerStats exposes the transfer acceptance counters.
func (c *Codec) TrackerStats() (accepted, rejected uint64) { return c.tracker.Stats() }

// ForgetPeer clears sequence history for a restarted node.
func (c *Codec) ForgetPeer(nodeID uint8) { c.tracker.Forget(nodeID) }
