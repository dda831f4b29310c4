package command

import (
	"testing"

	"driftpursuit/client/internal/bitio"
	"driftpursuit/client/internal/delta"
	"driftpursuit/client/internal/schema"
)

func exampleSchema() schema.Schema {
	return schema.Schema{Fields: []schema.FieldDescriptor{
		{BitWidth: 8, DeltaContext: "throttle"},
		{BitWidth: 8, DeltaContext: "steer"},
	}}
}

func TestQueueCommandAssignsMonotonicSequences(t *testing.T) {
	u := NewUploader(exampleSchema())
	s1 := u.QueueCommand(100, []byte{1, 2})
	s2 := u.QueueCommand(110, []byte{3, 4})
	if s2 != s1+1 {
		t.Fatalf("expected monotonic sequences, got %d then %d", s1, s2)
	}
}

func TestWriteIncludesSchemaOnlyWhenUnacked(t *testing.T) {
	s := exampleSchema()
	u := NewUploader(s)
	u.QueueCommand(100, []byte{1, 2})

	writer := bitio.New(bitio.VariantRaw)
	_ = writer.Initialize(nil, nil, 0)
	if _, _, err := u.Write(writer, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	writer.Flush()

	reader := bitio.New(bitio.VariantRaw)
	_ = reader.Initialize(nil, writer.Bytes(), 0)
	includeSchema, err := reader.ReadRawBits(1)
	if err != nil || includeSchema != 1 {
		t.Fatalf("expected includeSchema=1 when commandSequenceAck=0, got %d err=%v", includeSchema, err)
	}
	got, err := schema.Read(reader)
	if err != nil {
		t.Fatalf("schema.Read: %v", err)
	}
	if len(got.Fields) != len(s.Fields) {
		t.Fatalf("expected %d schema fields, got %d", len(s.Fields), len(got.Fields))
	}
}

func TestWriteOmitsSchemaOnceAcked(t *testing.T) {
	u := NewUploader(exampleSchema())
	u.QueueCommand(100, []byte{1, 2})

	writer := bitio.New(bitio.VariantRaw)
	_ = writer.Initialize(nil, nil, 0)
	if _, _, err := u.Write(writer, 1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	writer.Flush()

	reader := bitio.New(bitio.VariantRaw)
	_ = reader.Initialize(nil, writer.Bytes(), 0)
	includeSchema, err := reader.ReadRawBits(1)
	if err != nil || includeSchema != 0 {
		t.Fatalf("expected includeSchema=0 once acked, got %d err=%v", includeSchema, err)
	}
}

func TestWriteEncodesChainAgainstZeroRecordFirst(t *testing.T) {
	s := exampleSchema()
	u := NewUploader(s)
	seq := u.QueueCommand(50, []byte{9, 9})

	writer := bitio.New(bitio.VariantRaw)
	_ = writer.Initialize(nil, nil, 0)
	gotSeq, gotTime, err := u.Write(writer, 1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if gotSeq != seq || gotTime != 50 {
		t.Fatalf("expected (%d,50), got (%d,%d)", seq, gotSeq, gotTime)
	}
	writer.Flush()

	reader := bitio.New(bitio.VariantRaw)
	_ = reader.Initialize(nil, writer.Bytes(), 0)
	_, _ = reader.ReadRawBits(1) // includeSchema
	commandSequence, _ := reader.ReadRawBits(16)
	if commandSequence != uint32(seq) {
		t.Fatalf("expected commandSequence %d, got %d", seq, commandSequence)
	}
	present, _ := reader.ReadRawBits(1)
	if present != 1 {
		t.Fatal("expected one command entry present")
	}
	timeValue, err := reader.ReadPackedIntDelta(0, "commandTimeContext")
	if err != nil || timeValue != 50 {
		t.Fatalf("expected time delta to decode to 50, got %d err=%v", timeValue, err)
	}
	result, err := delta.Read(reader, s, make([]byte, s.GetByteSize()), 0xFF, false)
	if err != nil {
		t.Fatalf("delta.Read: %v", err)
	}
	if result.Image[0] != 9 || result.Image[1] != 9 {
		t.Fatalf("expected command body [9,9], got %v", result.Image)
	}
	terminator, _ := reader.ReadRawBits(1)
	if terminator != 0 {
		t.Fatal("expected terminating 0 bit")
	}
}

func TestWriteChainsMultipleCommandsNewestFirst(t *testing.T) {
	s := exampleSchema()
	u := NewUploader(s)
	u.QueueCommand(10, []byte{1, 1})
	u.QueueCommand(20, []byte{2, 2})

	writer := bitio.New(bitio.VariantRaw)
	_ = writer.Initialize(nil, nil, 0)
	if _, _, err := u.Write(writer, 1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	writer.Flush()

	reader := bitio.New(bitio.VariantRaw)
	_ = reader.Initialize(nil, writer.Bytes(), 0)
	_, _ = reader.ReadRawBits(1)
	_, _ = reader.ReadRawBits(16)

	present, _ := reader.ReadRawBits(1)
	if present != 1 {
		t.Fatal("expected first entry present")
	}
	t1, _ := reader.ReadPackedIntDelta(0, "commandTimeContext")
	if t1 != 20 {
		t.Fatalf("expected newest command time 20 first, got %d", t1)
	}
	r1, err := delta.Read(reader, s, make([]byte, s.GetByteSize()), 0xFF, false)
	if err != nil || r1.Image[0] != 2 {
		t.Fatalf("unexpected first body: %+v err=%v", r1, err)
	}

	present, _ = reader.ReadRawBits(1)
	if present != 1 {
		t.Fatal("expected second entry present")
	}
	t2, _ := reader.ReadPackedIntDelta(t1, "commandTimeContext")
	if t2 != 10 {
		t.Fatalf("expected second command time 10, got %d", t2)
	}
	r2, err := delta.Read(reader, s, r1.Image, 0xFF, false)
	if err != nil || r2.Image[0] != 1 {
		t.Fatalf("unexpected second body: %+v err=%v", r2, err)
	}

	terminator, _ := reader.ReadRawBits(1)
	if terminator != 0 {
		t.Fatal("expected terminating 0 bit")
	}
}
