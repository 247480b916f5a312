package dronecan

// Transfer sequence numbers are 5 bits, wrapping 0..31.
const (
	seqMask   = 0x1F
	seqWindow = 15 // forward distances 1..15 are accepted after wrap
)

// peer holds the last accepted sequence number from one source node.
type peer struct {
	seen bool
	seq  uint8
}

// SeqTracker detects duplicated and stale parameter transfers per
// source node. The first transfer from a node is always accepted; after
// that only sequence numbers within the forward half of the wrapping
// window are.
type SeqTracker struct {
	peers [MaxNodeID + 1]peer

	accepted uint64
	rejected uint64
}

// Check validates seq against the history for nodeID and, when
// accepted, records it. Rejections leave the tracker unchanged.
func (t *SeqTracker) Check(nodeID uint8, seq uint8) error {
	if nodeID == 0 || nodeID > MaxNodeID {
		return ErrBadNodeID
	}
	seq &= seqMask
	p := &t.peers[nodeID]
	if p.seen {
		dist := (seq - p.seq) & seqMask
		if dist == 0 || dist > seqWindow {
			t.rejected++
			return ErrStaleSeq
		}
	}
	p.seen = true
	p.seq = seq
	t.accepted++
	return nil
}

// Forget drops the history for one node, e.g. after it reports a
// restart.
func (t *SeqTracker) Forget(nodeID uint8) {
	if nodeID > 0 && nodeID <= MaxNodeID {
		t.peers[nodeID] = peer{}
	}
}

// Stats reports accepted and rejected transfer counts.
func (t *SeqTracker) Stats() (accepted, rejected uint64) {
	return t.accepted, t.rejected
}
