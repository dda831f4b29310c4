package bitio

import "fmt"

// rawStream is the ioStreamType=raw variant: the bit-packing core with no
// outer envelope compression.
type rawStream struct {
	core    *core
	model   []byte
	flushed []byte
}

func (s *rawStream) Initialize(model []byte, buffer []byte, offset int) error {
	s.model = model
	s.flushed = nil
	if buffer == nil {
		s.core = newWriterCore()
		return nil
	}
	if offset < 0 || offset > len(buffer) {
		return fmt.Errorf("bitio: offset %d out of range for buffer of length %d", offset, len(buffer))
	}
	s.core = newReaderCore(buffer[offset:])
	return nil
}

func (s *rawStream) ReadRawBits(n int) (uint32, error) { return s.core.readBits(n) }

func (s *rawStream) WriteRawBits(v uint32, n int) error { return s.core.writeBits(v, n) }

func (s *rawStream) ReadPackedUInt(ctx string) (uint32, error) { return s.core.readPackedUInt() }

func (s *rawStream) WritePackedUInt(v uint32, ctx string) error { return s.core.writePackedUInt(v) }

func (s *rawStream) ReadPackedIntDelta(prev int32, ctx string) (int32, error) {
	return s.core.readPackedIntDelta(prev)
}

func (s *rawStream) WritePackedIntDelta(v int32, prev int32, ctx string) error {
	return s.core.writePackedIntDelta(v, prev)
}

func (s *rawStream) ReadRawBytes(dst []byte, off, length int) error {
	return s.core.readBytes(dst, off, length)
}

func (s *rawStream) WriteRawBytes(src []byte, off, length int) error {
	return s.core.writeBytes(src, off, length)
}

func (s *rawStream) Flush() (int, error) {
	s.flushed = s.core.buf
	return s.core.byteLength(), nil
}

func (s *rawStream) Bytes() []byte {
	if s.flushed != nil {
		return s.flushed
	}
	return s.core.buf
}
