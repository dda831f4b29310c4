package bitio

import "github.com/golang/snappy"

// snappyCodec backs ioStreamType=huffman, matching the teacher's choice of
// snappy for its event log in internal/replay/writer.go.
type snappyCodec struct{}

func (snappyCodec) Name() string { return "huffman" }

func (snappyCodec) Compress(data []byte, dict []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCodec) Decompress(data []byte, dict []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}
