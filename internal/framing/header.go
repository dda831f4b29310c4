package framing

import (
	"fmt"

	"driftpursuit/client/internal/bitio"
)

// Kind enumerates the payload segments a package's content bitfield may
// declare (§4.F).
type Kind int

const (
	KindClientConfig Kind = iota
	KindCommands
	KindEvents
	KindClientInfo
	KindMapInfo
	KindSnapshot
	KindFragment
	kindCount
)

// ContentMask is the bitfield of Kind values a package carries.
type ContentMask uint8

// Has reports whether kind is present in the mask.
func (m ContentMask) Has(kind Kind) bool {
	return m&(1<<uint(kind)) != 0
}

// Add marks kind as present, returning the updated mask. This is the
// addMessage(kind) operation from §4.F's outbound payload writer.
func (m ContentMask) Add(kind Kind) ContentMask {
	return m | (1 << uint(kind))
}

// AckWindowSize is the number of preceding packages the ack bitfield covers.
const AckWindowSize = 32

// Header is the fixed package framing header carried by every outbound and
// inbound package.
type Header struct {
	Sequence    int32
	AckSequence int32
	AckBitfield uint32
	Content     ContentMask
}

// WriteHeader serialises h. Sequence is coded as a packed delta from
// lastSentSequence so consecutive sends cost only a few bits.
func WriteHeader(stream bitio.Stream, h Header, lastSentSequence int32) error {
	if err := stream.WritePackedIntDelta(h.Sequence, lastSentSequence, "headerSequence"); err != nil {
		return err
	}
	if err := stream.WriteRawBits(uint32(h.AckSequence), 16); err != nil {
		return err
	}
	if err := stream.WriteRawBits(h.AckBitfield, 32); err != nil {
		return err
	}
	if err := stream.WriteRawBits(uint32(h.Content), 8); err != nil {
		return err
	}
	return nil
}

// ReadHeader parses a header previously written with WriteHeader.
func ReadHeader(stream bitio.Stream, lastSentSequence int32) (Header, error) {
	seq, err := stream.ReadPackedIntDelta(lastSentSequence, "headerSequence")
	if err != nil {
		return Header{}, err
	}
	ackSeq, err := stream.ReadRawBits(16)
	if err != nil {
		return Header{}, err
	}
	ackBits, err := stream.ReadRawBits(32)
	if err != nil {
		return Header{}, err
	}
	content, err := stream.ReadRawBits(8)
	if err != nil {
		return Header{}, err
	}
	return Header{
		Sequence:    seq,
		AckSequence: int32(ackSeq),
		AckBitfield: ackBits,
		Content:     ContentMask(content),
	}, nil
}

// InboundTracker maintains inSequence and the rolling ack bitfield reported
// back to the sender (§4.F inbound side). It does not record when the latest
// package arrived. Duplicates and packages older than AckWindowSize are
// rejected.
type InboundTracker struct {
	inSequence int32
	received   uint32 // bit i set means inSequence-i was received
	hasAny     bool
}

// NewInboundTracker constructs an empty tracker (no packages received yet).
func NewInboundTracker() *InboundTracker {
	return &InboundTracker{}
}

// Accept records an inbound package at seq and reports whether it should be
// processed (false for a duplicate or a package outside the ack window).
// ReadHeader does no such filtering; it returns the decoded sequence as is.
func (t *InboundTracker) Accept(seq int32) bool {
	if t == nil {
		return false
	}
	if !t.hasAny {
		t.inSequence = seq
		t.received = 1
		t.hasAny = true
		return true
	}
	if seq == t.inSequence {
		return false
	}
	if seq > t.inSequence {
		shift := uint(seq - t.inSequence)
		if shift >= AckWindowSize {
			t.received = 1
		} else {
			t.received = (t.received << shift) | 1
		}
		t.inSequence = seq
		return true
	}
	//1.- Older than the current high-water mark: only acceptable if it
	// still falls within the rolling window and has not been seen before.
	back := uint(t.inSequence - seq)
	if back >= AckWindowSize {
		return false
	}
	bit := uint32(1) << back
	if t.received&bit != 0 {
		return false
	}
	t.received |= bit
	return true
}

// AckSequence returns the current high-water inbound sequence to report
// back as the header's AckSequence.
func (t *InboundTracker) AckSequence() int32 {
	if t == nil {
		return 0
	}
	return t.inSequence
}

// AckBitfield returns the rolling bitfield of received preceding packages
// to report back in the header (§4.F).
func (t *InboundTracker) AckBitfield() uint32 {
	if t == nil {
		return 0
	}
	return t.received
}

// OutstandingPackage is the per-outbound-sequence delivery record (§3) used
// to decide what must be resent on loss.
type OutstandingPackage struct {
	Content         ContentMask
	CommandSequence int32
	CommandTime     int32
	Events          []uint64
}

// DeliveryTracker drives NotifyDelivered over an outstanding-package table
// as inbound ack bitfields are processed.
type DeliveryTracker struct {
	ReleaseEvents      func(ids []uint64)
	RequeueEvents      func(ids []uint64)
	OnCommandAcked     func(commandSequence int32, commandTime int32)
	OnClientConfigLost func()
}

// NotifyDelivered applies the default behaviour (release or re-queue the
// package's events) and then the client-specific overrides from §4.F. It
// does not free the outstanding slot; ProcessAck and
// OutstandingTable.EvictOlderThan do that after calling it.
func (d *DeliveryTracker) NotifyDelivered(seq int32, info OutstandingPackage, madeIt bool) {
	if d == nil {
		return
	}
	if madeIt {
		if d.ReleaseEvents != nil && len(info.Events) > 0 {
			d.ReleaseEvents(info.Events)
		}
		if d.OnCommandAcked != nil && info.Content.Has(KindCommands) {
			d.OnCommandAcked(info.CommandSequence, info.CommandTime)
		}
		return
	}
	if d.RequeueEvents != nil && len(info.Events) > 0 {
		d.RequeueEvents(info.Events)
	}
	if d.OnClientConfigLost != nil && info.Content.Has(KindClientConfig) {
		d.OnClientConfigLost()
	}
}

// ProcessAck walks outstanding against an inbound ack (ackSequence,
// ackBitfield), invoking NotifyDelivered exactly once for every outstanding
// entry that either falls within an acked position or has aged out of the
// window unacknowledged.
func ProcessAck(outstanding *OutstandingTable, ackSequence int32, ackBitfield uint32, tracker *DeliveryTracker) error {
	if outstanding == nil {
		return fmt.Errorf("framing: nil outstanding table")
	}
	for back := uint(0); back < AckWindowSize; back++ {
		seq := ackSequence - int32(back)
		info, ok := outstanding.TryGet(seq)
		if !ok {
			continue
		}
		if back == 0 || ackBitfield&(1<<back) != 0 {
			//1.- Falls within an acked position: notify success and free it.
			tracker.NotifyDelivered(seq, *info, true)
			outstanding.Free(seq)
		}
		//2.- A clear bit inside the window is still in flight, not yet a
		// failure; it is only notified once it ages out below.
	}
	//3.- Anything older than the window that is still outstanding has
	// aged out unacknowledged and must be notified as a failure.
	oldest := ackSequence - AckWindowSize
	outstanding.EvictOlderThan(oldest, tracker)
	return nil
}
