// Package command implements the outbound command uploader (§4.I): a
// 3-slot ring of unacked commands, serialised every send as a delta chain
// against the previous command in the ring.
package command

import (
	"driftpursuit/client/internal/bitio"
	"driftpursuit/client/internal/delta"
	"driftpursuit/client/internal/schema"
	"driftpursuit/client/internal/seqbuf"
)

// ringCapacity is fixed by the spec: only three unacked commands are ever
// in flight; the server tolerates older ones being overwritten because
// commands delta-chain against whichever predecessor is still resident.
const ringCapacity = 3

// Record is one queued command (§3).
type Record struct {
	Time int32
	Data []byte
}

// Uploader holds the outbound command ring and the schema describing a
// command's fields, used both for the zero record and for delta coding.
type Uploader struct {
	schema          schema.Schema
	ring            *seqbuf.SequenceBuffer[Record]
	commandSequence int64
}

// NewUploader constructs an uploader for commands shaped by s.
func NewUploader(s schema.Schema) *Uploader {
	return &Uploader{
		schema: s,
		ring:   seqbuf.NewSequenceBuffer[Record](ringCapacity, func() Record { return Record{} }),
	}
}

// QueueCommand records a new command at the next commandSequence and
// returns that sequence.
func (u *Uploader) QueueCommand(time int32, data []byte) int64 {
	if u == nil {
		return 0
	}
	u.commandSequence++
	copied := make([]byte, len(data))
	copy(copied, data)
	*u.ring.Acquire(u.commandSequence) = Record{Time: time, Data: copied}
	return u.commandSequence
}

// CommandSequence returns the most recently queued command sequence, for the
// send path to decide whether a new Commands segment is worth including.
func (u *Uploader) CommandSequence() int64 {
	if u == nil {
		return 0
	}
	return u.commandSequence
}

// zeroRecord is the default predecessor the first delta in a chain is
// written against.
func (u *Uploader) zeroRecord() Record {
	return Record{Time: 0, Data: make([]byte, u.schema.GetByteSize())}
}

// Write serialises the command upload (§4.I). includeSchema is forced when
// commandSequenceAck is zero (the server has not yet acked anything). It
// returns the latest command sequence and time included, for the caller to
// record in its OutstandingPackage for NotifyDelivered bookkeeping.
func (u *Uploader) Write(stream bitio.Stream, commandSequenceAck int64) (commandSeq int64, commandTime int32, err error) {
	if u == nil {
		return 0, 0, nil
	}
	includeSchema := commandSequenceAck == 0
	includeBit := uint32(0)
	if includeSchema {
		includeBit = 1
	}
	if err = stream.WriteRawBits(includeBit, 1); err != nil {
		return 0, 0, err
	}
	if includeSchema {
		if err = schema.Write(stream, u.schema); err != nil {
			return 0, 0, err
		}
	}
	if err = stream.WriteRawBits(uint32(u.commandSequence)&0xFFFF, 16); err != nil {
		return 0, 0, err
	}

	previous := u.zeroRecord()
	seq := u.commandSequence
	first := true
	for {
		rec, ok := u.ring.TryGet(seq)
		if !ok {
			break
		}
		if err = stream.WriteRawBits(1, 1); err != nil {
			return 0, 0, err
		}
		if err = stream.WritePackedIntDelta(rec.Time, previous.Time, "commandTimeContext"); err != nil {
			return 0, 0, err
		}
		if err = delta.Write(stream, u.schema, previous.Data, rec.Data, 0xFF, false); err != nil {
			return 0, 0, err
		}
		if first {
			commandSeq = seq
			commandTime = rec.Time
			first = false
		}
		previous = *rec
		seq--
	}
	if err = stream.WriteRawBits(0, 1); err != nil {
		return 0, 0, err
	}
	return commandSeq, commandTime, nil
}
