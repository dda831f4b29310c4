// Package schema implements the server-supplied field layout that the delta
// codec and snapshot decoder read entity images against.
package schema

import (
	"encoding/binary"
	"fmt"

	"driftpursuit/client/internal/bitio"
)

// FieldDescriptor describes one replicated field: its bit width on the wire,
// the named entropy context it is packed against, whether it is signed, and
// whether the client's prediction function is allowed to extrapolate it.
type FieldDescriptor struct {
	BitWidth     int
	DeltaContext string
	Signed       bool
	Predicted    bool
	// MaskBit selects which bit of an entity's 8-bit fieldMask governs
	// whether this field replicates at all.
	MaskBit uint8
}

// ByteSize is the canonical in-memory footprint for this field.
func (f FieldDescriptor) ByteSize() int {
	return (f.BitWidth + 7) / 8
}

// Schema is an ordered list of field descriptors, interned once per typeId.
type Schema struct {
	Fields []FieldDescriptor
}

// GetByteSize returns the fixed size of the canonical field image.
func (s Schema) GetByteSize() int {
	total := 0
	for _, f := range s.Fields {
		total += f.ByteSize()
	}
	return total
}

// FieldOffsets returns each field's byte offset within the canonical image.
func (s Schema) FieldOffsets() []int {
	offsets := make([]int, len(s.Fields))
	cursor := 0
	for i, f := range s.Fields {
		offsets[i] = cursor
		cursor += f.ByteSize()
	}
	return offsets
}

// Write serialises the schema itself onto the wire as a length-prefixed list
// of (bitWidth, signed, predicted, 3-bit maskBit) tuples; the delta context name travels as
// a length-prefixed string since it has no fixed wire encoding.
func Write(stream bitio.Stream, s Schema) error {
	if err := stream.WritePackedUInt(uint32(len(s.Fields)), "schemaFieldCount"); err != nil {
		return err
	}
	for _, f := range s.Fields {
		if err := stream.WritePackedUInt(uint32(f.BitWidth), "schemaFieldBitWidth"); err != nil {
			return err
		}
		signedBit := uint32(0)
		if f.Signed {
			signedBit = 1
		}
		if err := stream.WriteRawBits(signedBit, 1); err != nil {
			return err
		}
		predictedBit := uint32(0)
		if f.Predicted {
			predictedBit = 1
		}
		if err := stream.WriteRawBits(predictedBit, 1); err != nil {
			return err
		}
		if err := stream.WriteRawBits(uint32(f.MaskBit), 3); err != nil {
			return err
		}
		if err := writeContextName(stream, f.DeltaContext); err != nil {
			return err
		}
	}
	return nil
}

// Read parses a schema previously written with Write.
func Read(stream bitio.Stream) (Schema, error) {
	count, err := stream.ReadPackedUInt("schemaFieldCount")
	if err != nil {
		return Schema{}, err
	}
	fields := make([]FieldDescriptor, 0, count)
	for i := uint32(0); i < count; i++ {
		bitWidth, err := stream.ReadPackedUInt("schemaFieldBitWidth")
		if err != nil {
			return Schema{}, err
		}
		if bitWidth == 0 || bitWidth > 32 {
			return Schema{}, fmt.Errorf("schema: field bit width %d out of range [1,32]", bitWidth)
		}
		signedBit, err := stream.ReadRawBits(1)
		if err != nil {
			return Schema{}, err
		}
		predictedBit, err := stream.ReadRawBits(1)
		if err != nil {
			return Schema{}, err
		}
		maskBit, err := stream.ReadRawBits(3)
		if err != nil {
			return Schema{}, err
		}
		ctx, err := readContextName(stream)
		if err != nil {
			return Schema{}, err
		}
		fields = append(fields, FieldDescriptor{
			BitWidth:     int(bitWidth),
			DeltaContext: ctx,
			Signed:       signedBit == 1,
			Predicted:    predictedBit == 1,
			MaskBit:      uint8(maskBit),
		})
	}
	return Schema{Fields: fields}, nil
}

func writeContextName(stream bitio.Stream, name string) error {
	raw := []byte(name)
	if err := stream.WritePackedUInt(uint32(len(raw)), "schemaContextNameLen"); err != nil {
		return err
	}
	return stream.WriteRawBytes(raw, 0, len(raw))
}

func readContextName(stream bitio.Stream) (string, error) {
	length, err := stream.ReadPackedUInt("schemaContextNameLen")
	if err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if err := stream.ReadRawBytes(buf, 0, int(length)); err != nil {
		return "", err
	}
	return string(buf), nil
}

// CopyFieldsToBuffer reads one non-delta field image from stream into its
// canonical byte layout in dstBuffer.
func CopyFieldsToBuffer(s Schema, stream bitio.Stream, dstBuffer []byte) error {
	offsets := s.FieldOffsets()
	if len(dstBuffer) < s.GetByteSize() {
		return fmt.Errorf("schema: destination buffer too small: have %d, need %d", len(dstBuffer), s.GetByteSize())
	}
	for i, f := range s.Fields {
		value, err := ReadFieldValue(stream, f)
		if err != nil {
			return err
		}
		PutFieldValue(dstBuffer[offsets[i]:offsets[i]+f.ByteSize()], value)
	}
	return nil
}

// SkipFields consumes the same bits copyFieldsToBuffer would, without storing them.
func SkipFields(s Schema, stream bitio.Stream) error {
	for _, f := range s.Fields {
		if _, err := ReadFieldValue(stream, f); err != nil {
			return err
		}
	}
	return nil
}

// WriteFieldsFromBuffer is the write-side counterpart of CopyFieldsToBuffer,
// used to emit schema-baseline images (e.g. an EntityType's zero image).
func WriteFieldsFromBuffer(s Schema, stream bitio.Stream, srcBuffer []byte) error {
	offsets := s.FieldOffsets()
	for i, f := range s.Fields {
		value := GetFieldValue(srcBuffer[offsets[i] : offsets[i]+f.ByteSize()], f)
		if err := WriteFieldValue(stream, f, value); err != nil {
			return err
		}
	}
	return nil
}

// ReadFieldValue reads one field's raw value honoring its signed/unsigned encoding.
func ReadFieldValue(stream bitio.Stream, f FieldDescriptor) (uint32, error) {
	if f.Signed {
		v, err := stream.ReadPackedIntDelta(0, f.DeltaContext)
		return uint32(v), err
	}
	return stream.ReadPackedUInt(f.DeltaContext)
}

// WriteFieldValue writes one field's raw value honoring its signed/unsigned encoding.
func WriteFieldValue(stream bitio.Stream, f FieldDescriptor, value uint32) error {
	if f.Signed {
		return stream.WritePackedIntDelta(int32(value), 0, f.DeltaContext)
	}
	return stream.WritePackedUInt(value, f.DeltaContext)
}

// PutFieldValue packs a raw field value into its canonical little-endian byte slot.
func PutFieldValue(dst []byte, value uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	copy(dst, buf[:len(dst)])
}

// GetFieldValue unpacks a raw field value from its canonical little-endian
// byte slot, sign-extending to 32 bits when f is a signed field narrower
// than 4 bytes (§4.B): PutFieldValue only ever stores the low-order
// two's-complement bytes, so a negative value must be restored here rather
// than zero-extended, or every signed field shorter than 32 bits would read
// back as a large positive number.
func GetFieldValue(src []byte, f FieldDescriptor) uint32 {
	var buf [4]byte
	copy(buf[:], src)
	value := binary.LittleEndian.Uint32(buf[:])
	if f.Signed && f.ByteSize() < 4 {
		shift := uint(32 - f.ByteSize()*8)
		return uint32(int32(value<<shift) >> shift)
	}
	return value
}
