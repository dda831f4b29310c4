// Package bitio implements the bit-level codec the snapshot engine rides on
// top of: raw bit packing plus three pluggable entropy-stream variants.
package bitio

// Stream is the contract shared by every entropy-stream variant. Read and
// write calls on a single package body must use the same variant.
type Stream interface {
	//1.- Initialize binds the stream to a compression model and byte buffer.
	// A nil buffer selects write mode; a non-nil buffer selects read mode
	// starting at offset.
	Initialize(model []byte, buffer []byte, offset int) error

	ReadRawBits(n int) (uint32, error)
	WriteRawBits(v uint32, n int) error

	ReadPackedUInt(ctx string) (uint32, error)
	WritePackedUInt(v uint32, ctx string) error

	ReadPackedIntDelta(prev int32, ctx string) (int32, error)
	WritePackedIntDelta(v int32, prev int32, ctx string) error

	ReadRawBytes(dst []byte, off, length int) error
	WriteRawBytes(src []byte, off, length int) error

	// Flush finalises a write stream and returns the number of bytes
	// produced. It does not check the stream's mode: on a read stream it
	// treats the bytes consumed so far as the finished body (the raw variant
	// returns their count, the envelope variants compress them and return
	// the compressed length).
	Flush() (int, error)

	// Bytes returns the stream's current byte-backing: the finished,
	// envelope-wrapped body after Flush on a writer, or the decompressed
	// body being consumed by a reader.
	Bytes() []byte
}

// Variant selects the outer envelope compressor wrapped around the shared
// bit-packing core. The choice is process-wide; reader and writer must agree.
type Variant int

const (
	VariantRaw Variant = iota
	VariantHuffman
	VariantRans
)

func (v Variant) String() string {
	switch v {
	case VariantRaw:
		return "raw"
	case VariantHuffman:
		return "huffman"
	case VariantRans:
		return "rans"
	default:
		return "unknown"
	}
}

// New constructs the Stream implementation for the requested variant.
func New(variant Variant) Stream {
	switch variant {
	case VariantHuffman:
		return newEnvelopeStream(snappyCodec{})
	case VariantRans:
		return newEnvelopeStream(&zstdCodec{})
	default:
		return &rawStream{}
	}
}
