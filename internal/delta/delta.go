// Package delta implements the changed-bit field codec that snapshot and
// command replication ride on top of: each field is either "identical to
// baseline" (one bit, nothing else) or "changed" (one bit plus a new value
// coded against its delta context).
package delta

import (
	"fmt"

	"driftpursuit/client/internal/bitio"
	"driftpursuit/client/internal/schema"
)

// Result is the decoder's output: the fully reconstructed field image, a
// per-field changed bitmask, and (when hashing is enabled) the running hash
// accumulated while reading.
type Result struct {
	Image         []byte
	FieldsChanged []byte
	Hash          uint32
}

// changedMaskSize returns the byte length of a fieldsChanged bitmask sized
// for fieldCount fields, one bit per field.
func changedMaskSize(fieldCount int) int {
	return (fieldCount + 7) / 8
}

func setChangedBit(mask []byte, index int) {
	mask[index/8] |= 1 << uint(index%8)
}

func isChangedBit(mask []byte, index int) bool {
	return mask[index/8]&(1<<uint(index%8)) != 0
}

// fieldReplicates reports whether fieldMask permits this field to carry a
// delta at all; a false result forces the field to its baseline value, and
// its changed bit on the wire is always 0.
func fieldReplicates(fieldMask uint8, f schema.FieldDescriptor) bool {
	return fieldMask&(1<<f.MaskBit) != 0
}

// mixHash folds one decoded field value into a 32-bit running hash. The mix
// is order-sensitive (field position matters) and stable across platforms;
// the exact constants only need to match between writer and reader, both of
// which live in this package.
func mixHash(hash uint32, value uint32) uint32 {
	hash ^= value
	hash *= 16777619
	hash = (hash << 13) | (hash >> 19)
	return hash
}

// Write encodes dst's field image as a delta against baseline, honoring
// fieldMask (§4.C): a field whose mask bit is not set in fieldMask is forced
// to the baseline value and costs only the changed bit (always 0). If
// hashing is true the 32-bit running hash of the decoded (post-delta) image
// is appended after the field list.
func Write(stream bitio.Stream, s schema.Schema, baseline []byte, image []byte, fieldMask uint8, hashing bool) error {
	offsets := s.FieldOffsets()
	if len(baseline) < s.GetByteSize() || len(image) < s.GetByteSize() {
		return fmt.Errorf("delta: image buffers smaller than schema byte size %d", s.GetByteSize())
	}
	var hash uint32
	for i, f := range s.Fields {
		off := offsets[i]
		size := f.ByteSize()
		baseValue := schema.GetFieldValue(baseline[off : off+size], f)
		newValue := baseValue
		if fieldReplicates(fieldMask, f) {
			newValue = schema.GetFieldValue(image[off : off+size], f)
		}
		changed := newValue != baseValue
		changedBit := uint32(0)
		if changed {
			changedBit = 1
		}
		if err := stream.WriteRawBits(changedBit, 1); err != nil {
			return err
		}
		if changed {
			if err := schema.WriteFieldValue(stream, f, newValue); err != nil {
				return err
			}
		}
		if hashing {
			hash = mixHash(hash, newValue)
		}
	}
	if hashing {
		if err := stream.WriteRawBits(hash, 32); err != nil {
			return err
		}
	}
	return nil
}

// Read decodes one delta field-set against baseline, returning the
// reconstructed image, the fieldsChanged bitmask, and (if hashing) the
// running hash compared against the transmitted one.
func Read(stream bitio.Stream, s schema.Schema, baseline []byte, fieldMask uint8, hashing bool) (Result, error) {
	if len(baseline) < s.GetByteSize() {
		return Result{}, fmt.Errorf("delta: baseline smaller than schema byte size %d", s.GetByteSize())
	}
	offsets := s.FieldOffsets()
	image := make([]byte, s.GetByteSize())
	copy(image, baseline[:s.GetByteSize()])
	fieldsChanged := make([]byte, changedMaskSize(len(s.Fields)))
	var hash uint32
	for i, f := range s.Fields {
		off := offsets[i]
		size := f.ByteSize()
		baseValue := schema.GetFieldValue(baseline[off : off+size], f)
		changedBit, err := stream.ReadRawBits(1)
		if err != nil {
			return Result{}, err
		}
		value := baseValue
		if changedBit == 1 {
			value, err = schema.ReadFieldValue(stream, f)
			if err != nil {
				return Result{}, err
			}
			if !fieldReplicates(fieldMask, f) {
				//1.- A set changed bit against a masked-out field is a wire
				// error: the sender must never spend a bit it cannot set.
				return Result{}, fmt.Errorf("delta: field %q changed while masked out by fieldMask", f.DeltaContext)
			}
			setChangedBit(fieldsChanged, i)
		}
		schema.PutFieldValue(image[off:off+size], value)
		if hashing {
			hash = mixHash(hash, value)
		}
	}
	if hashing {
		transmitted, err := stream.ReadRawBits(32)
		if err != nil {
			return Result{}, err
		}
		if transmitted != hash {
			return Result{Image: image, FieldsChanged: fieldsChanged, Hash: hash}, fmt.Errorf("delta: hash mismatch: computed %08x, transmitted %08x", hash, transmitted)
		}
	}
	return Result{Image: image, FieldsChanged: fieldsChanged, Hash: hash}, nil
}

// FieldChanged reports whether field index i was marked changed by the most
// recent Read call's returned mask.
func FieldChanged(mask []byte, i int) bool {
	return isChangedBit(mask, i)
}
