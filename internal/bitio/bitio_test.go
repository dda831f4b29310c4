package bitio

import "testing"

func TestRawBitsRoundTrip(t *testing.T) {
	writer := New(VariantRaw)
	if err := writer.Initialize(nil, nil, 0); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := writer.WriteRawBits(0b101, 3); err != nil {
		t.Fatalf("WriteRawBits: %v", err)
	}
	if err := writer.WriteRawBits(0xABCD, 16); err != nil {
		t.Fatalf("WriteRawBits: %v", err)
	}
	n, err := writer.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected non-zero flushed length")
	}

	reader := New(VariantRaw)
	if err := reader.Initialize(nil, writer.Bytes(), 0); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	v, err := reader.ReadRawBits(3)
	if err != nil {
		t.Fatalf("ReadRawBits: %v", err)
	}
	if v != 0b101 {
		t.Fatalf("expected 0b101, got %b", v)
	}
	v2, err := reader.ReadRawBits(16)
	if err != nil {
		t.Fatalf("ReadRawBits: %v", err)
	}
	if v2 != 0xABCD {
		t.Fatalf("expected 0xABCD, got %x", v2)
	}
}

func TestPackedUIntRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 15, 16, 255, 1 << 20, 0xFFFFFFFF}
	for _, want := range cases {
		writer := New(VariantRaw)
		_ = writer.Initialize(nil, nil, 0)
		if err := writer.WritePackedUInt(want, "ctx"); err != nil {
			t.Fatalf("WritePackedUInt(%d): %v", want, err)
		}
		writer.Flush()

		reader := New(VariantRaw)
		_ = reader.Initialize(nil, writer.Bytes(), 0)
		got, err := reader.ReadPackedUInt("ctx")
		if err != nil {
			t.Fatalf("ReadPackedUInt(%d): %v", want, err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestPackedIntDeltaRoundTrip(t *testing.T) {
	cases := []struct{ v, prev int32 }{
		{0, 0},
		{10, 5},
		{5, 10},
		{-100, 100},
		{2147483647, -2147483648},
	}
	for _, tc := range cases {
		writer := New(VariantRaw)
		_ = writer.Initialize(nil, nil, 0)
		if err := writer.WritePackedIntDelta(tc.v, tc.prev, "ctx"); err != nil {
			t.Fatalf("WritePackedIntDelta(%d,%d): %v", tc.v, tc.prev, err)
		}
		writer.Flush()

		reader := New(VariantRaw)
		_ = reader.Initialize(nil, writer.Bytes(), 0)
		got, err := reader.ReadPackedIntDelta(tc.prev, "ctx")
		if err != nil {
			t.Fatalf("ReadPackedIntDelta: %v", err)
		}
		if got != tc.v {
			t.Fatalf("expected %d, got %d", tc.v, got)
		}
	}
}

func TestRawBytesRoundTrip(t *testing.T) {
	writer := New(VariantRaw)
	_ = writer.Initialize(nil, nil, 0)
	payload := []byte{1, 2, 3, 4, 5}
	if err := writer.WriteRawBytes(payload, 1, 3); err != nil {
		t.Fatalf("WriteRawBytes: %v", err)
	}
	writer.Flush()

	reader := New(VariantRaw)
	_ = reader.Initialize(nil, writer.Bytes(), 0)
	dst := make([]byte, 3)
	if err := reader.ReadRawBytes(dst, 0, 3); err != nil {
		t.Fatalf("ReadRawBytes: %v", err)
	}
	want := []byte{2, 3, 4}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("byte %d: expected %d, got %d", i, want[i], dst[i])
		}
	}
}

func TestHuffmanVariantRoundTrip(t *testing.T) {
	writer := New(VariantHuffman)
	_ = writer.Initialize(nil, nil, 0)
	for i := 0; i < 50; i++ {
		_ = writer.WritePackedUInt(uint32(i), "ctx")
	}
	writer.Flush()

	reader := New(VariantHuffman)
	if err := reader.Initialize(nil, writer.Bytes(), 0); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for i := 0; i < 50; i++ {
		got, err := reader.ReadPackedUInt("ctx")
		if err != nil {
			t.Fatalf("ReadPackedUInt(%d): %v", i, err)
		}
		if got != uint32(i) {
			t.Fatalf("expected %d, got %d", i, got)
		}
	}
}

func TestRansVariantRoundTripWithDictionary(t *testing.T) {
	dict := []byte("compression-model-dictionary-bytes-must-be-long-enough-for-zstd")
	writer := New(VariantRans)
	_ = writer.Initialize(dict, nil, 0)
	payload := []byte("entity position delta payload bytes")
	_ = writer.WriteRawBytes(payload, 0, len(payload))
	writer.Flush()

	reader := New(VariantRans)
	if err := reader.Initialize(dict, writer.Bytes(), 0); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	dst := make([]byte, len(payload))
	if err := reader.ReadRawBytes(dst, 0, len(payload)); err != nil {
		t.Fatalf("ReadRawBytes: %v", err)
	}
	if string(dst) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, dst)
	}
}

func TestReadPastEndReturnsError(t *testing.T) {
	reader := New(VariantRaw)
	_ = reader.Initialize(nil, []byte{0xFF}, 0)
	if _, err := reader.ReadRawBits(9); err == nil {
		t.Fatal("expected error reading past end of buffer")
	}
}
