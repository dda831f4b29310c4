package snapshot

import "driftpursuit/client/internal/schema"

// Consumer is the application-level snapshot sink (§6). The decoder calls it
// while walking one snapshot body and expects processSnapshot to drain
// every list it received before the next decode begins (§3 invariant 4).
type Consumer interface {
	ProcessEntitySpawn(serverTime int32, id int, typeID uint16)
	ProcessEntityUpdate(serverTime int32, id int, reader FieldReader)
	ProcessEntityDespawn(serverTime int32, id int)
	ProcessSnapshot(serverTime int32)
}

// FieldReader exposes one entity's freshly-committed field image to the
// consumer via its schema, rather than leaking the canonical byte layout.
type FieldReader struct {
	Schema schema.Schema
	Image  []byte
}

// Value returns field i's raw decoded value.
func (r FieldReader) Value(i int) uint32 {
	if i < 0 || i >= len(r.Schema.Fields) {
		return 0
	}
	offsets := r.Schema.FieldOffsets()
	f := r.Schema.Fields[i]
	return schema.GetFieldValue(r.Image[offsets[i] : offsets[i]+f.ByteSize()], f)
}

// Changed reports whether field i differs from its delta baseline for this
// update, using the mask the delta reader produced.
func (r FieldReader) Changed(mask []byte, i int) bool {
	if mask == nil || i < 0 || i/8 >= len(mask) {
		return false
	}
	return mask[i/8]&(1<<uint(i%8)) != 0
}
