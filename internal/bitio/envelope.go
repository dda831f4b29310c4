package bitio

import "fmt"

// envelopeCodec wraps the finished bit-packed body in an outer compression
// pass, mirroring the teacher's internal/grpc.Compressor shape.
type envelopeCodec interface {
	Name() string
	Compress(data []byte, dict []byte) ([]byte, error)
	Decompress(data []byte, dict []byte) ([]byte, error)
}

// envelopeStream is the shared implementation for ioStreamType=huffman and
// ioStreamType=rans: the same raw bit-packing core as rawStream, with the
// named codec applied to the finished body at Flush/Initialize time.
type envelopeStream struct {
	codec   envelopeCodec
	core    *core
	model   []byte
	flushed []byte
}

func newEnvelopeStream(codec envelopeCodec) *envelopeStream {
	return &envelopeStream{codec: codec}
}

func (s *envelopeStream) Initialize(model []byte, buffer []byte, offset int) error {
	s.model = model
	s.flushed = nil
	if buffer == nil {
		s.core = newWriterCore()
		return nil
	}
	if offset < 0 || offset > len(buffer) {
		return fmt.Errorf("bitio: offset %d out of range for buffer of length %d", offset, len(buffer))
	}
	//1.- Decompress the envelope before any bit read can take place.
	plain, err := s.codec.Decompress(buffer[offset:], model)
	if err != nil {
		return fmt.Errorf("bitio: %s decompress: %w", s.codec.Name(), err)
	}
	s.core = newReaderCore(plain)
	return nil
}

func (s *envelopeStream) ReadRawBits(n int) (uint32, error) { return s.core.readBits(n) }

func (s *envelopeStream) WriteRawBits(v uint32, n int) error { return s.core.writeBits(v, n) }

func (s *envelopeStream) ReadPackedUInt(ctx string) (uint32, error) { return s.core.readPackedUInt() }

func (s *envelopeStream) WritePackedUInt(v uint32, ctx string) error {
	return s.core.writePackedUInt(v)
}

func (s *envelopeStream) ReadPackedIntDelta(prev int32, ctx string) (int32, error) {
	return s.core.readPackedIntDelta(prev)
}

func (s *envelopeStream) WritePackedIntDelta(v int32, prev int32, ctx string) error {
	return s.core.writePackedIntDelta(v, prev)
}

func (s *envelopeStream) ReadRawBytes(dst []byte, off, length int) error {
	return s.core.readBytes(dst, off, length)
}

func (s *envelopeStream) WriteRawBytes(src []byte, off, length int) error {
	return s.core.writeBytes(src, off, length)
}

func (s *envelopeStream) Flush() (int, error) {
	//1.- Compress the finished body once all writes are complete.
	compressed, err := s.codec.Compress(s.core.buf[:s.core.byteLength()], s.model)
	if err != nil {
		return 0, fmt.Errorf("bitio: %s compress: %w", s.codec.Name(), err)
	}
	s.flushed = compressed
	return len(compressed), nil
}

func (s *envelopeStream) Bytes() []byte {
	if s.flushed != nil {
		return s.flushed
	}
	return s.core.buf
}
