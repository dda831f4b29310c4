package framing

import "driftpursuit/client/internal/seqbuf"

// OutstandingTable tracks OutstandingPackage records by outbound sequence,
// sized to the same ack window the sender can still retransmit against.
type OutstandingTable struct {
	buf *seqbuf.SequenceBuffer[OutstandingPackage]
}

// NewOutstandingTable constructs a table with the given slot capacity.
func NewOutstandingTable(capacity int) *OutstandingTable {
	return &OutstandingTable{buf: seqbuf.NewSequenceBuffer(capacity, func() OutstandingPackage {
		return OutstandingPackage{}
	})}
}

// Allocate records info at seq, as the outbound send path does before
// returning from a send (§4.F).
func (t *OutstandingTable) Allocate(seq int32, info OutstandingPackage) {
	if t == nil {
		return
	}
	*t.buf.Acquire(int64(seq)) = info
}

// TryGet returns the outstanding record for seq if still resident.
func (t *OutstandingTable) TryGet(seq int32) (*OutstandingPackage, bool) {
	if t == nil {
		return nil, false
	}
	return t.buf.TryGet(int64(seq))
}

// Free releases the slot for seq.
func (t *OutstandingTable) Free(seq int32) {
	if t == nil {
		return
	}
	t.buf.Free(int64(seq))
}

// EvictOlderThan notifies tracker of delivery failure for every outstanding
// entry whose sequence is at or before threshold (it has aged out of the
// ack window unacknowledged) and frees its slot.
func (t *OutstandingTable) EvictOlderThan(threshold int32, tracker *DeliveryTracker) {
	if t == nil {
		return
	}
	for _, seq := range t.buf.Occupied() {
		if seq > int64(threshold) {
			continue
		}
		info, ok := t.buf.TryGet(seq)
		if !ok {
			continue
		}
		tracker.NotifyDelivered(int32(seq), *info, false)
		t.buf.Free(seq)
	}
}
