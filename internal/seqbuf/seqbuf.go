// Package seqbuf implements the two fixed-capacity ring buffers the snapshot
// and command layers index by sequence number: a dense typed ring for
// per-sequence scalar records, and a sparse byte-payload ring that supports
// "find the newest resident key not after seq".
package seqbuf

const emptyTag = -1

// SequenceBuffer is a dense fixed-capacity ring of size capacity: slot
// i = seq mod capacity. Each slot remembers which sequence it currently
// holds so a stale read (after wraparound) can be detected and rejected.
type SequenceBuffer[T any] struct {
	capacity int
	tags     []int64
	values   []T
	factory  func() T
}

// NewSequenceBuffer constructs a dense ring. factory produces the
// zero/reset value installed into a slot on Acquire; it must not be nil.
func NewSequenceBuffer[T any](capacity int, factory func() T) *SequenceBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &SequenceBuffer[T]{
		capacity: capacity,
		tags:     make([]int64, capacity),
		values:   make([]T, capacity),
		factory:  factory,
	}
	for i := range b.tags {
		b.tags[i] = emptyTag
	}
	return b
}

func (b *SequenceBuffer[T]) slot(seq int64) int {
	return int(seq % int64(b.capacity))
}

// Acquire resets the slot for seq to a freshly-factory-built value, tags it,
// and returns a pointer to it for the caller to populate.
func (b *SequenceBuffer[T]) Acquire(seq int64) *T {
	i := b.slot(seq)
	b.tags[i] = seq
	if b.factory != nil {
		b.values[i] = b.factory()
	}
	return &b.values[i]
}

// TryGet returns the slot for seq and true iff its tag still matches seq
// (i.e. it has not since been overwritten by a later wraparound).
func (b *SequenceBuffer[T]) TryGet(seq int64) (*T, bool) {
	i := b.slot(seq)
	if b.tags[i] != seq {
		return nil, false
	}
	return &b.values[i], true
}

// Occupied returns the sequences currently resident in the buffer, in slot
// order (not sequence order).
func (b *SequenceBuffer[T]) Occupied() []int64 {
	out := make([]int64, 0, b.capacity)
	for _, tag := range b.tags {
		if tag != emptyTag {
			out = append(out, tag)
		}
	}
	return out
}

// Free clears the tag for seq if it is the current resident, releasing the
// slot without waiting for a later Acquire to overwrite it.
func (b *SequenceBuffer[T]) Free(seq int64) {
	i := b.slot(seq)
	if b.tags[i] == seq {
		b.tags[i] = emptyTag
	}
}

// At is a panic-on-miss convenience for callers that have already
// established seq is resident (mirrors the spec's buffer[seq] indexing
// operator, which requires a matching tag).
func (b *SequenceBuffer[T]) At(seq int64) *T {
	v, ok := b.TryGet(seq)
	if !ok {
		panic("seqbuf: sequence not resident in buffer")
	}
	return v
}

// sparseEntry is one resident slot of a SparseSequenceBuffer.
type sparseEntry struct {
	seq     int64
	payload []byte
}

// SparseSequenceBuffer is a fixed-capacity ring of byte payloads indexed by
// sequence, supporting FindMax (the newest resident key not after a given
// sequence). Used for entity baseline history (§3, entity.baselines).
type SparseSequenceBuffer struct {
	capacity    int
	payloadSize int
	slots       []sparseEntry
}

// NewSparseSequenceBuffer constructs a sparse ring with the given capacity
// and fixed per-slot payload size.
func NewSparseSequenceBuffer(capacity int, payloadSize int) *SparseSequenceBuffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &SparseSequenceBuffer{capacity: capacity, payloadSize: payloadSize}
	b.slots = make([]sparseEntry, capacity)
	for i := range b.slots {
		b.slots[i].seq = emptyTag
	}
	return b
}

func (b *SparseSequenceBuffer) slot(seq int64) int {
	return int(seq % int64(b.capacity))
}

// Insert allocates (evicting the oldest occupant of the slot, if any) and
// returns a zeroed payload slot for seq.
func (b *SparseSequenceBuffer) Insert(seq int64) []byte {
	i := b.slot(seq)
	b.slots[i].seq = seq
	b.slots[i].payload = make([]byte, b.payloadSize)
	return b.slots[i].payload
}

// TryGet returns the payload for seq iff it is still resident.
func (b *SparseSequenceBuffer) TryGet(seq int64) ([]byte, bool) {
	i := b.slot(seq)
	if b.slots[i].seq != seq {
		return nil, false
	}
	return b.slots[i].payload, true
}

// FindMax returns the payload of the resident entry with the greatest key
// <= seq, or (nil, false) if none qualifies. Ties on wraparound favor the
// slot whose tag is closest to seq without exceeding it.
func (b *SparseSequenceBuffer) FindMax(seq int64) ([]byte, bool) {
	var best *sparseEntry
	for i := range b.slots {
		entry := &b.slots[i]
		if entry.seq == emptyTag || entry.seq > seq {
			continue
		}
		if best == nil || entry.seq > best.seq {
			best = entry
		}
	}
	if best == nil {
		return nil, false
	}
	return best.payload, true
}
