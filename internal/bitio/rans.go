package bitio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// zstdCodec backs ioStreamType=rans, matching the teacher's choice of zstd
// for its frame log in internal/replay/writer.go. The compressionModel blob
// from ClientInfo is supplied as the dictionary for both directions.
type zstdCodec struct{}

func (*zstdCodec) Name() string { return "rans" }

func (*zstdCodec) Compress(data []byte, dict []byte) ([]byte, error) {
	opts := []zstd.EOption{}
	if len(dict) > 0 {
		opts = append(opts, zstd.WithEncoderDictRaw(1, dict))
	}
	var buf bytes.Buffer
	writer, err := zstd.NewWriter(&buf, opts...)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("zstd write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("zstd close: %w", err)
	}
	return buf.Bytes(), nil
}

func (*zstdCodec) Decompress(data []byte, dict []byte) ([]byte, error) {
	opts := []zstd.DOption{}
	if len(dict) > 0 {
		opts = append(opts, zstd.WithDecoderDictRaw(1, dict))
	}
	reader, err := zstd.NewReader(bytes.NewReader(data), opts...)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("zstd read: %w", err)
	}
	return out, nil
}
